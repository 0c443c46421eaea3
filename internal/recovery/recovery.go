// Package recovery rebuilds in-memory state from the durable trade log at
// startup, and self-heals sessions whose prior writes left the log
// inconsistent because the process was killed mid-day.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/persistence"
	"github.com/aristath/arena-engine/internal/portfolio"
)

const (
	gapThresholdDays       = 3
	singleDayMoveThreshold = 0.12 // ±12% for a 1-day gap
	gapDayMovePerDay       = 0.10 // ±10% per calendar day for a gap longer than 1 day
	consistencyTolerance   = 0.05 // declared total_assets vs cash+holdings value
)

// Resume selects the session to continue at startup: the latest session
// still marked running, or — if none — the latest completed session whose
// actual max trade_date in the log is strictly before its end_date
// (implying the process was killed before it reached completion).
func Resume(store *persistence.Store) (*domain.Session, error) {
	sess, err := store.LatestUnfinishedSession()
	if err != nil {
		return nil, fmt.Errorf("recovery.Resume: %w", err)
	}
	return sess, nil
}

// RebuildFromTradeLog replays a chronologically ordered trade log into a
// fresh Book: buys merge into existing holdings, sells reduce or remove
// them. Holdings rows are never trusted directly; they are a cache the
// trade log can always reconstruct.
func RebuildFromTradeLog(initialCapital float64, trades []domain.Trade) *portfolio.Book {
	book := portfolio.NewBook(initialCapital)
	sorted := append([]domain.Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		return sorted[i].Time < sorted[j].Time
	})

	for _, t := range sorted {
		switch t.Action {
		case domain.ActionBuy:
			book.Cash -= t.Total + t.Commission
			mergeReplay(book, t)
		case domain.ActionSell:
			netIncome := t.Total - t.Commission - t.StampTax
			book.Cash += netIncome
			reduceReplay(book, t)
		}
		book.Trades = append(book.Trades, t)
	}
	return book
}

func mergeReplay(book *portfolio.Book, t domain.Trade) {
	existing, ok := book.Holdings[t.Code]
	if !ok {
		book.Holdings[t.Code] = domain.Holding{
			BuyDate: t.Date, Code: t.Code, Name: t.Name,
			Amount: t.Amount, Cost: t.Price, CurrentPrice: t.Price,
		}
		return
	}
	totalCostPool := existing.Cost*float64(existing.Amount) + t.Price*float64(t.Amount)
	newAmount := existing.Amount + t.Amount
	existing.Amount = newAmount
	existing.Cost = totalCostPool / float64(newAmount)
	book.Holdings[t.Code] = existing
}

func reduceReplay(book *portfolio.Book, t domain.Trade) {
	existing, ok := book.Holdings[t.Code]
	if !ok {
		return
	}
	existing.Amount -= t.Amount
	if existing.Amount <= 0 {
		delete(book.Holdings, t.Code)
		return
	}
	book.Holdings[t.Code] = existing
}

// DetectGap walks daily_assets in date order and reports the first date
// more than gapThresholdDays calendar days after the entry before it —
// an approximation for "this agent skipped one or more trade days", which
// normally only happens when the process was killed mid-run.
func DetectGap(points []domain.DailyAssetPoint) (gapDate string, gapDays int, ok bool) {
	for i := 1; i < len(points); i++ {
		prev, err1 := time.Parse("20060102", points[i-1].Date)
		cur, err2 := time.Parse("20060102", points[i].Date)
		if err1 != nil || err2 != nil {
			return points[i].Date, 0, true
		}
		days := int(cur.Sub(prev).Hours() / 24)
		if days > gapThresholdDays {
			return points[i].Date, days, true
		}
	}
	return "", 0, false
}

// DetectCorruption checks, in date order: parseable dates, strictly
// increasing dates, non-negative assets, day-over-day asset moves within
// tolerance (tighter for consecutive days, looser across a gap), and the
// declared total_assets consistent with cash + holdings market value as of
// that date. It returns the first date that fails any check.
func DetectCorruption(points []domain.DailyAssetPoint, bookAt func(date string) (cash float64, holdingsValue float64)) (badDate string, ok bool) {
	var prev *domain.DailyAssetPoint
	for i := range points {
		p := &points[i]
		cur, err := time.Parse("20060102", p.Date)
		if err != nil {
			return p.Date, true
		}
		if p.TotalAssets < 0 {
			return p.Date, true
		}
		if prev != nil {
			if p.Date <= prev.Date {
				return p.Date, true
			}
			prevDate, _ := time.Parse("20060102", prev.Date)
			gapDays := int(cur.Sub(prevDate).Hours() / 24)
			if gapDays < 1 {
				gapDays = 1
			}
			allowed := singleDayMoveThreshold
			if gapDays > 1 {
				allowed = float64(gapDays) * gapDayMovePerDay
			}
			if prev.TotalAssets > 0 {
				move := (p.TotalAssets - prev.TotalAssets) / prev.TotalAssets
				if move > allowed || move < -allowed {
					return p.Date, true
				}
			}
		}
		if bookAt != nil {
			cash, holdingsValue := bookAt(p.Date)
			declared := p.TotalAssets
			actual := cash + holdingsValue
			if declared > 0 {
				diff := (declared - actual) / declared
				if diff > consistencyTolerance || diff < -consistencyTolerance {
					return p.Date, true
				}
			}
		}
		prev = p
	}
	return "", false
}

// RollbackToDate rewinds one agent to just before cutoffDate. It deletes
// every trade, daily asset point, and reflection dated on or after
// cutoffDate (persistence.RollbackToDate, one transaction), then replays
// the surviving trade log into a fresh Book and writes its holdings and
// model state back, so the agent resumes from a state the trade log
// actually supports rather than a stale cache. Cash is restored from the
// last surviving daily_assets row when one exists, since that is the
// actual recorded cash after fees rather than a recomputation that could
// drift from it; if no daily_assets survive, the replay's own initial-
// capital cash stands, which is equivalent to a full reset.
func RollbackToDate(ctx context.Context, store *persistence.Store, sessionID, modelName, cutoffDate string, initialCapital float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.RollbackToDate(sessionID, modelName, cutoffDate); err != nil {
		return fmt.Errorf("recovery.RollbackToDate: %w", err)
	}

	trades, err := store.Trades(sessionID, modelName)
	if err != nil {
		return fmt.Errorf("recovery.RollbackToDate: reload trades %s/%s: %w", sessionID, modelName, err)
	}
	book := RebuildFromTradeLog(initialCapital, trades)

	if survivors, err := store.DailyAssets(sessionID, modelName, ""); err == nil && len(survivors) > 0 {
		book.Cash = survivors[len(survivors)-1].Cash
	}

	holdings := make([]domain.Holding, 0, len(book.Holdings))
	for _, h := range book.Holdings {
		holdings = append(holdings, h)
	}
	if err := store.ReplaceHoldings(sessionID, modelName, holdings); err != nil {
		return fmt.Errorf("recovery.RollbackToDate: rebuild holdings %s/%s: %w", sessionID, modelName, err)
	}

	profitPct := 0.0
	if initialCapital > 0 {
		profitPct = (book.TotalAssets() - initialCapital) / initialCapital * 100
	}
	if err := store.SaveModelState(sessionID, modelName, book.Cash, book.TotalAssets(), profitPct); err != nil {
		return fmt.Errorf("recovery.RollbackToDate: rebuild model state %s/%s: %w", sessionID, modelName, err)
	}

	return nil
}
