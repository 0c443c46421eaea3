// Package agent implements the eight-node trading pipeline one agent runs
// for one trade date: update_prices, evaluate_holdings, execute_sells,
// find_candidates, analyze_candidates, execute_buys, record_daily, reflect.
package agent

import (
	"github.com/aristath/arena-engine/internal/config"
	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/portfolio"
)

// Decision is one normalized trading instruction, whether it came from a
// hard rule (stop loss/profit) or was parsed out of an LLM response.
type Decision struct {
	Code         string
	Name         string
	Amount       int64
	Reason       string
	Confidence   float64
	ExpectedDays int
	ExitPlan     domain.ExitPlan
}

// CandidateProvider resolves the cached candidate pool for a trade date,
// built once per day by the market data preload step.
type CandidateProvider func(date string) (domain.CandidatePool, error)

// NewsProvider resolves time-filtered news for a code as of a trade date.
type NewsProvider func(code, asOfDate string, limit int) ([]domain.NewsItem, error)

// Deps bundles every external collaborator a node may need. Supplied once
// per agent by the scheduler; never mutated during a run.
type Deps struct {
	LLM    domain.LLMClient
	Market domain.MarketDataSource
	News   NewsProvider

	Candidates CandidateProvider

	Config *config.Config
	Gates  portfolio.RiskGates

	// ModelOffset staggers which slice of the candidate pool this agent
	// sees on a given date, so N agents don't all analyze the same batch.
	ModelOffset int

	// Principles returns the agent's currently active rule set, folded
	// into prompts. Reflect calls OnReflect to persist a new one.
	Principles func() []string
	OnReflect  func(domain.Reflection, []string)

	// Log narrates one line of agent reasoning/outcome, surfaced live.
	Log func(message string)
}

// State is the mutable context threaded through all eight nodes for one
// agent on one trade date. Book is the only field callers read back after
// a run; the rest is pipeline scratch space.
type State struct {
	Agent string
	Date  string

	Book *portfolio.Book

	RankingContext domain.RankingContext

	ForcedSell    bool
	SellDecisions []Decision
	BuyDecisions  []Decision
	Candidates    []domain.CandidateSnapshot

	// DaysSinceReflection and PeakAssets carry across days so reflect's
	// interval/drawdown triggers can be evaluated without a DB round trip.
	DaysSinceReflection int
	PeakAssets          float64
}
