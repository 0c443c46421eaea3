package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/llm"
)

const maxNewsHoldings = 2
const newsPerHolding = 1
const candidateNewsItems = 2

// updatePrices fetches D's close for every holding, refreshes profit_pct
// and hold_days. A missing or zero price holds the previous price but the
// day still advances; this node never fails the pipeline.
func updatePrices(ctx context.Context, st *State, d Deps) error {
	for code, h := range st.Book.Holdings {
		bar, err := d.Market.GetBar(ctx, code, st.Date)
		if err != nil || bar.Close <= 0 {
			h.HoldDays++
			st.Book.Holdings[code] = h
			if err != nil && d.Log != nil {
				d.Log(fmt.Sprintf("update_prices: %s price unavailable, holding last close", code))
			}
			continue
		}
		h.CurrentPrice = bar.Close
		h.HoldDays++
		st.Book.Holdings[code] = h
	}
	return nil
}

// evaluateHoldings runs the hard stop-loss/stop-profit rule pass first; if
// that produces any forced sells, the LLM is skipped entirely for this
// node. Otherwise it prompts for discretionary sell decisions.
func evaluateHoldings(ctx context.Context, st *State, d Deps) error {
	st.SellDecisions = nil
	st.ForcedSell = false

	stopLoss := d.Config.StopLossPct
	stopProfit := d.Config.StopProfitPct

	for code, h := range st.Book.Holdings {
		pct := h.ProfitPct()
		switch {
		case pct <= -stopLoss:
			st.SellDecisions = append(st.SellDecisions, Decision{Code: code, Amount: h.Amount, Reason: "stop_loss"})
			st.ForcedSell = true
		case pct >= stopProfit:
			st.SellDecisions = append(st.SellDecisions, Decision{Code: code, Amount: h.Amount, Reason: "stop_profit"})
			st.ForcedSell = true
		}
	}
	if st.ForcedSell {
		return nil
	}

	if len(st.Book.Holdings) == 0 {
		return nil
	}

	prompt := buildHoldingsPrompt(ctx, st, d)
	raw, err := llm.Invoke(ctx, d.LLM, prompt)
	if err != nil {
		return err
	}

	codeForName := make(map[string]string, len(st.Book.Holdings))
	var singleCode string
	for code, h := range st.Book.Holdings {
		if h.Name != "" {
			codeForName[h.Name] = code
		}
		singleCode = code
	}
	if len(st.Book.Holdings) != 1 {
		singleCode = ""
	}

	raws, err := decodeDecisions(raw, codeForName, singleCode)
	if err != nil {
		return domain.NewArenaError(domain.ErrMalformed, "evaluate_holdings", err)
	}

	for _, r := range raws {
		if r.Action != "sell" {
			continue
		}
		dec := toDecision(r)
		if _, held := st.Book.Holdings[dec.Code]; !held {
			continue
		}
		st.SellDecisions = append(st.SellDecisions, dec)
	}
	return nil
}

func buildHoldingsPrompt(ctx context.Context, st *State, d Deps) string {
	var b fmtBuilder
	b.line("You are managing a live A-share portfolio. Decide whether to sell any holding.")
	b.line(fmt.Sprintf("Date: %s", st.Date))
	for code, h := range st.Book.Holdings {
		b.line(fmt.Sprintf("- %s (%s): amount=%d cost=%.2f price=%.2f profit_pct=%.2f%% hold_days=%d exit_plan=%+v",
			code, h.Name, h.Amount, h.Cost, h.CurrentPrice, h.ProfitPct(), h.HoldDays, h.ExitPlan))
		if d.News != nil {
			news, _ := d.News(code, st.Date, newsPerHolding)
			for _, n := range news {
				b.line(fmt.Sprintf("  news: %s", n.Title))
			}
		}
	}
	b.line(rankingContextLine(st.RankingContext))
	b.line(principlesLine(d.Principles))
	b.line(`Respond with a JSON array of {"code","action","amount","reason","confidence"}.`)
	return b.String()
}

// executeSells fills every pending sell decision at D's close, rejecting
// T+1 violations and skipping a duplicate code if it already executed
// earlier the same day (first decision for a code wins).
func executeSells(ctx context.Context, st *State, d Deps) error {
	seen := make(map[string]bool, len(st.SellDecisions))
	now := time.Now().Format("15:04:05")
	for _, dec := range st.SellDecisions {
		if seen[dec.Code] {
			continue
		}
		seen[dec.Code] = true

		h, ok := st.Book.Holdings[dec.Code]
		if !ok {
			continue
		}
		amount := dec.Amount
		if amount <= 0 || amount > h.Amount {
			amount = h.Amount
		}
		if err := st.Book.ApplySell(dec.Code, h.Name, st.Date, now, amount, h.CurrentPrice, dec.Reason); err != nil {
			if d.Log != nil {
				d.Log(fmt.Sprintf("execute_sells: %s rejected: %v", dec.Code, err))
			}
			continue
		}
		if d.Log != nil {
			d.Log(fmt.Sprintf("sold %s x%d @ %.2f (%s)", dec.Code, amount, h.CurrentPrice, dec.Reason))
		}
	}
	return nil
}

// findCandidates resolves D's candidate pool, orders hot codes first, and
// truncates/rotates the slice this agent will actually analyze so parallel
// agents don't all see an identical batch on the same date.
func findCandidates(ctx context.Context, st *State, d Deps) error {
	st.Candidates = nil
	if st.Book.Cash < d.Config.MinCashToBuy {
		return nil
	}
	if d.Candidates == nil {
		return nil
	}

	pool, err := d.Candidates(st.Date)
	if err != nil {
		if d.Log != nil {
			d.Log(fmt.Sprintf("find_candidates: pool unavailable: %v", err))
		}
		return nil
	}

	ordered := make([]domain.CandidateSnapshot, 0, len(pool.Candidates))
	var hot, rest []domain.CandidateSnapshot
	for _, c := range pool.Candidates {
		if _, isHot := pool.HotCodes[c.Code]; isHot {
			hot = append(hot, c)
		} else {
			rest = append(rest, c)
		}
	}
	ordered = append(ordered, hot...)
	ordered = append(ordered, rest...)

	n := d.Config.AnalyzeStockCount
	if n <= 0 || n > len(ordered) {
		n = len(ordered)
	}

	dateInt, _ := strconv.Atoi(st.Date)
	const batches = 5
	batchSize := len(ordered) / batches
	if batchSize == 0 {
		st.Candidates = ordered[:n]
		return nil
	}
	batchIdx := (dateInt + d.ModelOffset) % batches
	start := batchIdx * batchSize
	if start >= len(ordered) {
		start = 0
	}
	end := start + n
	if end > len(ordered) {
		end = len(ordered)
	}
	st.Candidates = ordered[start:end]
	return nil
}

// analyzeCandidates prompts the LLM over the selected candidates and
// parses a list of buy suggestions, dropping anything below the
// confidence threshold and normalizing amounts to round lots.
func analyzeCandidates(ctx context.Context, st *State, d Deps) error {
	st.BuyDecisions = nil
	if len(st.Candidates) == 0 {
		return nil
	}

	prompt := buildCandidatesPrompt(ctx, st, d)
	raw, err := llm.Invoke(ctx, d.LLM, prompt)
	if err != nil {
		return err
	}

	raws, err := decodeDecisions(raw, nil, "")
	if err != nil {
		return domain.NewArenaError(domain.ErrMalformed, "analyze_candidates", err)
	}

	for _, r := range raws {
		if r.Confidence < d.Config.AIConfidenceThreshold {
			continue
		}
		dec := toDecision(r)
		if dec.Code == "" || dec.Amount <= 0 {
			continue
		}
		st.BuyDecisions = append(st.BuyDecisions, dec)
	}
	return nil
}

func buildCandidatesPrompt(ctx context.Context, st *State, d Deps) string {
	var b fmtBuilder
	b.line("Select which candidates, if any, to buy today.")
	b.line(fmt.Sprintf("Date: %s cash=%.2f", st.Date, st.Book.Cash))
	for _, c := range st.Candidates {
		b.line(fmt.Sprintf("- %s (%s): close=%.2f volume=%.0f", c.Code, c.Name, c.Close, c.Volume))
	}
	if d.News != nil {
		shown := 0
		for _, c := range st.Candidates {
			if shown >= candidateNewsItems {
				break
			}
			news, _ := d.News(c.Code, st.Date, 1)
			for _, n := range news {
				b.line(fmt.Sprintf("  news: %s: %s", c.Code, n.Title))
				shown++
			}
		}
	}
	b.line(rankingContextLine(st.RankingContext))
	b.line(principlesLine(d.Principles))
	b.line(`Respond with a JSON array of {"stock_code","suggested_amount","confidence","reason","expected_days","exit_plan":{"profit_target","stop_loss","invalidation"}}.`)
	return b.String()
}

// executeBuys enforces the hard risk gates inside Book.ApplyBuy; any
// decision that violates a gate is dropped and logged, never retried.
func executeBuys(ctx context.Context, st *State, d Deps) error {
	now := time.Now().Format("15:04:05")
	for _, dec := range st.BuyDecisions {
		bar, err := d.Market.GetBar(ctx, dec.Code, st.Date)
		if err != nil || bar.Close <= 0 {
			continue
		}
		name := dec.Name
		if h, ok := st.Book.Holdings[dec.Code]; ok {
			name = h.Name
		}
		if err := st.Book.ApplyBuy(dec.Code, name, st.Date, now, dec.Amount, bar.Close, dec.Reason, dec.ExitPlan, d.Gates); err != nil {
			if d.Log != nil {
				d.Log(fmt.Sprintf("execute_buys: %s rejected: %v", dec.Code, err))
			}
			continue
		}
		if d.Log != nil {
			d.Log(fmt.Sprintf("bought %s x%d @ %.2f", dec.Code, dec.Amount, bar.Close))
		}
	}
	return nil
}

// recordDaily appends D's asset snapshot, the one state change every
// agent makes unconditionally every day.
func recordDaily(ctx context.Context, st *State, d Deps) error {
	if err := st.Book.AppendDailyAssetPoint(st.Date); err != nil {
		return err
	}
	if st.Book.TotalAssets() > st.PeakAssets {
		st.PeakAssets = st.Book.TotalAssets()
	}
	st.DaysSinceReflection++
	return nil
}

// reflect fires on an interval, a same-day loss beyond 3%, or a drawdown
// from peak beyond 5%; otherwise it is a no-op for the day.
func reflect(ctx context.Context, st *State, d Deps) error {
	if !shouldReflect(st, d) {
		return nil
	}

	prompt := buildReflectionPrompt(st, d)
	raw, err := llm.Invoke(ctx, d.LLM, prompt)
	if err != nil {
		return err
	}

	refl, principles := parseReflection(raw, st.Date, st.Agent)
	if d.OnReflect != nil {
		d.OnReflect(refl, principles)
	}
	st.DaysSinceReflection = 0
	return nil
}

func shouldReflect(st *State, d Deps) bool {
	if !d.Config.EnableReflection {
		return false
	}
	if d.Config.ReflectionInterval > 0 && st.DaysSinceReflection >= d.Config.ReflectionInterval {
		return true
	}
	total := st.Book.TotalAssets()
	if n := len(st.Book.DailyAssets); n >= 2 {
		yesterday := st.Book.DailyAssets[n-2].TotalAssets
		if yesterday > 0 {
			dayLoss := (yesterday - total) / yesterday * 100
			if dayLoss > 3 {
				return true
			}
		}
	}
	if st.PeakAssets > 0 {
		drawdown := (st.PeakAssets - total) / st.PeakAssets * 100
		if drawdown > 5 {
			return true
		}
	}
	return false
}

func buildReflectionPrompt(st *State, d Deps) string {
	var b fmtBuilder
	b.line("Reflect on recent trading performance and propose adjusted principles.")
	b.line(fmt.Sprintf("Total assets: %.2f, cash: %.2f, trades so far: %d", st.Book.TotalAssets(), st.Book.Cash, len(st.Book.Trades)))
	recent := st.Book.Trades
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	for _, t := range recent {
		b.line(fmt.Sprintf("- %s %s %s x%d @ %.2f profit=%.2f", t.Date, t.Action, t.Code, t.Amount, t.Price, t.Profit))
	}
	b.line(principlesLine(d.Principles))
	b.line(`Respond with JSON {"summary","cash_reflection","timing_reflection","decision_reflection","strengths":[],"weaknesses":[],"adjustment_plan":[]}.`)
	return b.String()
}

// parseReflection tolerates a raw-text fallback: if the response can't be
// parsed as structured JSON, the whole text becomes the summary and no
// principles are replaced.
func parseReflection(raw, date, agent string) (domain.Reflection, []string) {
	extracted, err := llm.ExtractJSON(raw)
	if err != nil {
		return domain.Reflection{Date: date, Model: agent, Summary: raw}, nil
	}

	var parsed struct {
		Summary            string   `json:"summary"`
		CashReflection     string   `json:"cash_reflection"`
		TimingReflection   string   `json:"timing_reflection"`
		DecisionReflection string   `json:"decision_reflection"`
		Strengths          []string `json:"strengths"`
		Weaknesses         []string `json:"weaknesses"`
		AdjustmentPlan     []string `json:"adjustment_plan"`
	}
	if err := json.Unmarshal(extracted, &parsed); err != nil {
		return domain.Reflection{Date: date, Model: agent, Summary: raw}, nil
	}

	refl := domain.Reflection{
		Date: date, Model: agent, Summary: parsed.Summary,
		CashReflection: parsed.CashReflection, TimingReflection: parsed.TimingReflection,
		DecisionReflection: parsed.DecisionReflection,
		Strengths:          parsed.Strengths, Weaknesses: parsed.Weaknesses, AdjustmentPlan: parsed.AdjustmentPlan,
	}
	return refl, parsed.AdjustmentPlan
}

func rankingContextLine(rc domain.RankingContext) string {
	return fmt.Sprintf("Rank %d/%d, stage=%s, gap_to_leader=%.2f, goal=%s", rc.YourRank.Rank, len(rc.Rankings), rc.Stage, rc.GapToLeader, rc.Goal)
}

func principlesLine(principles func() []string) string {
	if principles == nil {
		return ""
	}
	rules := principles()
	if len(rules) == 0 {
		return "No active principles yet."
	}
	var b fmtBuilder
	b.line("Active principles:")
	for _, r := range rules {
		b.line("- " + r)
	}
	return b.String()
}

// fmtBuilder is a minimal line-joining string builder shared by the
// prompt constructors above.
type fmtBuilder struct {
	lines []string
}

func (b *fmtBuilder) line(s string) {
	if s == "" {
		return
	}
	b.lines = append(b.lines, s)
}

func (b *fmtBuilder) String() string {
	out := ""
	for i, l := range b.lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
