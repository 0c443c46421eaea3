// Package portfolio implements the per-agent ledger: cash, holdings, trade
// history, and the daily asset curve, plus the risk gates and invariant
// checks that guard every state-changing operation.
package portfolio

import (
	"fmt"

	"github.com/aristath/arena-engine/internal/domain"
)

// Book is one agent's portfolio for one session. Not safe for concurrent
// use by multiple goroutines; the scheduler guarantees each agent's Book is
// only ever touched by its own task.
type Book struct {
	InitialCapital float64

	Cash        float64
	Holdings    map[string]domain.Holding // keyed by code
	Trades      []domain.Trade
	DailyAssets []domain.DailyAssetPoint
}

// NewBook seeds a fresh portfolio with the full initial capital in cash.
func NewBook(initialCapital float64) *Book {
	return &Book{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		Holdings:       make(map[string]domain.Holding),
	}
}

// snapshot is a deep copy of the mutable parts of a Book, taken before an
// operation and restored if the operation violates an invariant or panics.
// Mirrors the agent wrapper's pre-node snapshot in spirit: both undo a
// partially applied state-changing step as a single unit.
type snapshot struct {
	cash        float64
	holdings    map[string]domain.Holding
	trades      []domain.Trade
	dailyAssets []domain.DailyAssetPoint
}

func (b *Book) snapshot() snapshot {
	holdings := make(map[string]domain.Holding, len(b.Holdings))
	for k, v := range b.Holdings {
		holdings[k] = v
	}
	trades := make([]domain.Trade, len(b.Trades))
	copy(trades, b.Trades)
	daily := make([]domain.DailyAssetPoint, len(b.DailyAssets))
	copy(daily, b.DailyAssets)
	return snapshot{cash: b.Cash, holdings: holdings, trades: trades, dailyAssets: daily}
}

func (b *Book) restore(s snapshot) {
	b.Cash = s.cash
	b.Holdings = s.holdings
	b.Trades = s.trades
	b.DailyAssets = s.dailyAssets
}

// HoldingsValue sums the current market value of every holding.
func (b *Book) HoldingsValue() float64 {
	var v float64
	for _, h := range b.Holdings {
		v += h.MarketValue()
	}
	return v
}

// TotalAssets is cash plus the mark-to-market value of all holdings.
func (b *Book) TotalAssets() float64 {
	return b.Cash + b.HoldingsValue()
}

// checkInvariants enforces spec section 4.3: cash never negative, every
// holding a positive round lot with a positive cost, and the daily asset
// curve strictly increasing with no duplicate dates.
func (b *Book) checkInvariants() error {
	if b.Cash < 0 {
		return fmt.Errorf("invariant_violation: cash %.2f is negative", b.Cash)
	}
	for code, h := range b.Holdings {
		if h.Amount <= 0 || h.Amount%100 != 0 {
			return fmt.Errorf("invariant_violation: holding %s amount %d is not a positive round lot", code, h.Amount)
		}
		if h.Cost <= 0 {
			return fmt.Errorf("invariant_violation: holding %s cost %.4f is not positive", code, h.Cost)
		}
	}
	for i := 1; i < len(b.DailyAssets); i++ {
		if b.DailyAssets[i].Date <= b.DailyAssets[i-1].Date {
			return fmt.Errorf("invariant_violation: daily_assets date %s does not strictly increase after %s",
				b.DailyAssets[i].Date, b.DailyAssets[i-1].Date)
		}
	}
	return nil
}

// apply runs fn against a pre-op snapshot, checks invariants, and rolls
// back to the snapshot if fn errors or an invariant is violated.
func (b *Book) apply(fn func() error) error {
	pre := b.snapshot()
	if err := fn(); err != nil {
		b.restore(pre)
		return err
	}
	if err := b.checkInvariants(); err != nil {
		b.restore(pre)
		return err
	}
	return nil
}

// ApplySell fills a sell at price for amount shares of code, deducting
// commission and stamp tax from the proceeds. amount must not exceed the
// held amount; partial sells reduce the holding, full sells remove it.
// date/timeStr/reason are recorded on the resulting Trade.
func (b *Book) ApplySell(code, name, date, timeStr string, amount int64, price float64, reason string) error {
	return b.apply(func() error {
		h, ok := b.Holdings[code]
		if !ok {
			return fmt.Errorf("sell rejected: no holding for %s", code)
		}
		if h.HoldDays == 0 {
			return fmt.Errorf("sell rejected: %s was bought today (T+1 rule)", code)
		}
		if amount <= 0 || amount > h.Amount {
			return fmt.Errorf("sell rejected: amount %d exceeds held %d for %s", amount, h.Amount, code)
		}

		total := float64(amount) * price
		commission := Commission(total)
		stampTax := StampTax(total)
		netIncome := total - commission - stampTax
		costBasis := h.Cost * float64(amount)
		profit := netIncome - costBasis
		profitPct := 0.0
		if costBasis > 0 {
			profitPct = profit / costBasis * 100
		}

		b.Cash += netIncome
		if amount == h.Amount {
			delete(b.Holdings, code)
		} else {
			h.Amount -= amount
			b.Holdings[code] = h
		}

		b.Trades = append(b.Trades, domain.Trade{
			Date: date, Time: timeStr, Action: domain.ActionSell,
			Code: code, Name: name, Amount: amount, Price: price, Total: total,
			Commission: commission, StampTax: stampTax,
			Profit: profit, ProfitPct: profitPct, Reason: reason,
		})
		return nil
	})
}

// RiskGates bundles the thresholds execute_buys must check before a buy
// decision is allowed to fill. The scheduler takes MaxHoldings from session
// configuration and fixes the three percentages at 5%, 40% and 95%.
type RiskGates struct {
	MaxHoldings      int
	CashReservePct   float64 // fraction of initial capital that must stay in cash
	SinglePositionPct float64 // fraction of total assets one stock may occupy
	CashCeilingPct   float64 // fraction of cash available to spend before fees
}

// ApplyBuy validates the hard risk gates, fills the buy at price, merges it
// into any existing holding for code (summing amount and recomputing
// average cost), and appends a Trade. amount must already be a multiple of
// 100; ApplyBuy does not round it.
func (b *Book) ApplyBuy(code, name, date, timeStr string, amount int64, price float64, reason string, exitPlan domain.ExitPlan, gates RiskGates) error {
	return b.apply(func() error {
		if amount < 100 || amount%100 != 0 {
			return fmt.Errorf("buy rejected: amount %d is not a positive round lot", amount)
		}
		if _, exists := b.Holdings[code]; !exists && len(b.Holdings) >= gates.MaxHoldings {
			return fmt.Errorf("buy rejected: max_holdings %d reached", gates.MaxHoldings)
		}

		total := float64(amount) * price
		commission := Commission(total)
		totalCost := total + commission

		cashBefore := b.Cash
		assetsBefore := b.TotalAssets()

		reserve := b.InitialCapital * gates.CashReservePct
		if b.Cash-totalCost < reserve {
			return fmt.Errorf("buy rejected: cash reserve gate, cash %.2f minus cost %.2f below reserve %.2f", b.Cash, totalCost, reserve)
		}

		existing := b.Holdings[code]
		stockCostAfter := existing.Cost*float64(existing.Amount) + total
		if assetsBefore > 0 && stockCostAfter > assetsBefore*gates.SinglePositionPct {
			return fmt.Errorf("buy rejected: single-position cap, stock cost %.2f exceeds %.0f%% of total assets %.2f",
				stockCostAfter, gates.SinglePositionPct*100, assetsBefore)
		}

		ceiling := b.Cash * gates.CashCeilingPct
		if totalCost > ceiling {
			return fmt.Errorf("buy rejected: cash ceiling gate, cost %.2f exceeds %.0f%% of cash %.2f", totalCost, gates.CashCeilingPct*100, b.Cash)
		}
		if totalCost > b.Cash {
			return fmt.Errorf("buy rejected: cost %.2f exceeds available cash %.2f", totalCost, b.Cash)
		}

		b.Cash -= totalCost
		b.mergeHolding(code, name, date, amount, price, exitPlan)

		b.Trades = append(b.Trades, domain.Trade{
			Date: date, Time: timeStr, Action: domain.ActionBuy,
			Code: code, Name: name, Amount: amount, Price: price, Total: total,
			Commission: commission, Reason: reason,
			CashBefore: cashBefore, AssetsBefore: assetsBefore,
		})
		return nil
	})
}

// mergeHolding folds a new buy fill into any existing holding for code,
// summing amount and recomputing the average cost across both fills.
// The exit plan from the newest decision wins.
func (b *Book) mergeHolding(code, name, date string, amount int64, price float64, exitPlan domain.ExitPlan) {
	existing, ok := b.Holdings[code]
	if !ok {
		b.Holdings[code] = domain.Holding{
			BuyDate: date, Code: code, Name: name,
			Amount: amount, Cost: price, CurrentPrice: price,
			HoldDays: 0, ExitPlan: exitPlan,
		}
		return
	}

	totalCostPool := existing.Cost*float64(existing.Amount) + price*float64(amount)
	newAmount := existing.Amount + amount
	existing.Amount = newAmount
	existing.Cost = totalCostPool / float64(newAmount)
	existing.CurrentPrice = price
	existing.ExitPlan = exitPlan
	b.Holdings[code] = existing
}

// AppendDailyAssetPoint records D's closing snapshot. Rejects a duplicate
// or out-of-order date instead of silently overwriting it.
func (b *Book) AppendDailyAssetPoint(date string) error {
	return b.apply(func() error {
		b.DailyAssets = append(b.DailyAssets, domain.DailyAssetPoint{
			Date: date, TotalAssets: b.TotalAssets(), Cash: b.Cash, HoldingsValue: b.HoldingsValue(),
		})
		return nil
	})
}
