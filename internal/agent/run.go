package agent

import (
	"context"
	"fmt"

	"github.com/aristath/arena-engine/internal/domain"
)

// node is one step of the eight-node pipeline.
type node struct {
	name string
	fn   func(ctx context.Context, st *State, d Deps) error
}

// pipeline is the fixed, linear DAG: update_prices through reflect. A node
// may produce an empty delta (e.g. no sells) but the sequence never
// branches and never skips a step.
var pipeline = []node{
	{"update_prices", updatePrices},
	{"evaluate_holdings", evaluateHoldings},
	{"execute_sells", executeSells},
	{"find_candidates", findCandidates},
	{"analyze_candidates", analyzeCandidates},
	{"execute_buys", executeBuys},
	{"record_daily", recordDaily},
	{"reflect", reflect},
}

// ShouldStop is polled between nodes so a cancellation mid-day finishes
// the current node and then stops without persisting a partial day.
type ShouldStop func() bool

// Result is what Run reports back to the scheduler for one agent/date.
type Result struct {
	Asset     domain.DailyAssetPoint
	Err       error
	Cancelled bool
}

// Run executes all eight nodes in order for one agent on one trade date.
// Before the first node it snapshots the book; if any node errors (or the
// node panics, recovered here), the book is restored to that snapshot and
// a synthetic DailyAssetPoint carrying the pre-exec total is returned so
// the curve stays continuous for this agent. This mirrors the egress
// guarantee the scheduler's barrier relies on: a single bad day never
// corrupts a portfolio for the days that follow.
func Run(ctx context.Context, st *State, d Deps, stop ShouldStop) (res Result) {
	preCash := st.Book.Cash
	preHoldings := make(map[string]domain.Holding, len(st.Book.Holdings))
	for k, v := range st.Book.Holdings {
		preHoldings[k] = v
	}
	preTrades := append([]domain.Trade(nil), st.Book.Trades...)
	preDaily := append([]domain.DailyAssetPoint(nil), st.Book.DailyAssets...)
	preTotal := st.Book.TotalAssets()

	restore := func() {
		st.Book.Cash = preCash
		st.Book.Holdings = preHoldings
		st.Book.Trades = preTrades
		st.Book.DailyAssets = preDaily
	}

	defer func() {
		if r := recover(); r != nil {
			restore()
			res = Result{Err: fmt.Errorf("panic in agent pipeline: %v", r), Asset: syntheticPoint(st.Date, preTotal, preCash, preTotal-preCash)}
		}
	}()

	for _, n := range pipeline {
		if stop != nil && stop() {
			restore()
			return Result{Cancelled: true}
		}
		if err := n.fn(ctx, st, d); err != nil {
			restore()
			return Result{
				Err:   domain.NewArenaError(classify(err), n.name, err),
				Asset: syntheticPoint(st.Date, preTotal, preCash, preTotal-preCash),
			}
		}
	}

	last := domain.DailyAssetPoint{}
	if n := len(st.Book.DailyAssets); n > 0 {
		last = st.Book.DailyAssets[n-1]
	}
	return Result{Asset: last}
}

func syntheticPoint(date string, total, cash, holdingsValue float64) domain.DailyAssetPoint {
	return domain.DailyAssetPoint{Date: date, TotalAssets: total, Cash: cash, HoldingsValue: holdingsValue}
}

func classify(err error) domain.ErrorKind {
	var ae *domain.ArenaError
	if e, ok := err.(*domain.ArenaError); ok {
		ae = e
		return ae.Kind
	}
	return domain.ErrTransient
}
