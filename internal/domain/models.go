// Package domain provides the core entity types shared across the arena engine.
package domain

import "time"

// SessionStatus is the lifecycle state of a competition run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// Session identifies one competition run.
//
// Invariant: StartDate <= CurrentDate <= EndDate.
type Session struct {
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ID              string        `json:"id"`
	StartDate       string        `json:"start_date"` // YYYYMMDD
	EndDate         string        `json:"end_date"`   // YYYYMMDD
	CurrentDate     string        `json:"current_date"`
	Status          SessionStatus `json:"status"`
	InitialCapital  float64       `json:"initial_capital"`
}

// Agent is a competitor driven by an external LLM endpoint.
type Agent struct {
	Name     string `json:"name"` // unique within a session
	Provider string `json:"provider"`
	Color    string `json:"color"`
}

// ExitPlan is the triple decided at buy time and evaluated on each subsequent day.
type ExitPlan struct {
	ProfitTarget  float64 `json:"profit_target"`
	StopLoss      float64 `json:"stop_loss"`
	Invalidation  string  `json:"invalidation"`
	ExpectedDays  int     `json:"expected_days"`
}

// Holding is a long position in one stock code.
type Holding struct {
	BuyDate      string   `json:"buy_date"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Amount       int64    `json:"amount"` // shares, multiple of 100
	Cost         float64  `json:"cost"`   // average cost per share
	CurrentPrice float64  `json:"current_price"`
	HoldDays     int      `json:"hold_days"`
	ExitPlan     ExitPlan `json:"exit_plan"`
}

// MarketValue returns amount * current price.
func (h Holding) MarketValue() float64 {
	return float64(h.Amount) * h.CurrentPrice
}

// ProfitPct returns the unrealized return on this holding, in percent.
func (h Holding) ProfitPct() float64 {
	if h.Cost <= 0 {
		return 0
	}
	return (h.CurrentPrice - h.Cost) / h.Cost * 100
}

// TradeAction distinguishes buys from sells.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// Trade is an executed fill. Immutable once appended.
type Trade struct {
	Date         string      `json:"date"` // YYYYMMDD
	Time         string      `json:"time"`
	Action       TradeAction `json:"action"`
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	Amount       int64       `json:"amount"`
	Price        float64     `json:"price"`
	Total        float64     `json:"total"`
	Commission   float64     `json:"commission"`
	StampTax     float64     `json:"stamp_tax"`
	Profit       float64     `json:"profit,omitempty"`      // sell only
	ProfitPct    float64     `json:"profit_pct,omitempty"`  // sell only
	Reason       string      `json:"reason"`
	CashBefore   float64     `json:"cash_before,omitempty"`   // buy only
	AssetsBefore float64     `json:"assets_before,omitempty"` // buy only
}

// DailyAssetPoint is one day's asset snapshot for one agent.
type DailyAssetPoint struct {
	Date          string  `json:"date"` // YYYYMMDD
	TotalAssets   float64 `json:"total_assets"`
	Cash          float64 `json:"cash"`
	HoldingsValue float64 `json:"holdings_value"`
}

// CandidateSnapshot is one candidate stock as of the date a CandidatePool was built.
type CandidateSnapshot struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HotSector is a sector flagged by the news source as having elevated attention.
type HotSector struct {
	Name      string  `json:"name"`
	ChangePct float64 `json:"change_pct"`
}

// CandidatePoolSource records whether a pool was built from preload or the degraded fallback walk.
type CandidatePoolSource string

const (
	PoolSourcePreload  CandidatePoolSource = "preload"
	PoolSourceFallback CandidatePoolSource = "fallback"
)

// CandidatePool is the set of tradeable candidates for one date. Immutable after the date advances.
type CandidatePool struct {
	Date       string              `json:"date"`
	Candidates []CandidateSnapshot `json:"candidates"`
	HotCodes   map[string]struct{} `json:"-"`
	HotSectors []HotSector         `json:"hot_sectors"`
	Source     CandidatePoolSource `json:"source"`
}

// Reflection is a periodic self-assessment an agent produces.
type Reflection struct {
	Date               string   `json:"date"`
	Model              string   `json:"model"`
	Summary            string   `json:"summary"`
	CashReflection     string   `json:"cash_reflection"`
	TimingReflection   string   `json:"timing_reflection"`
	DecisionReflection string   `json:"decision_reflection"`
	Strengths          []string `json:"strengths"`
	Weaknesses         []string `json:"weaknesses"`
	AdjustmentPlan     []string `json:"adjustment_plan"`
}

// Principles is the ordered list of durable rules active for a (session, agent) pair.
// Exactly one set is active at any instant; a new reflection supersedes the prior set atomically.
type Principles struct {
	SessionID string    `json:"session_id"`
	Agent     string     `json:"agent"`
	Rules     []string   `json:"rules"`
	CreatedAt time.Time  `json:"created_at"`
	Active    bool       `json:"active"`
}

// RankingEntry is one agent's position in a ranking snapshot.
type RankingEntry struct {
	Name         string  `json:"name"`
	Rank         int     `json:"rank"`
	ProfitPct    float64 `json:"profit_pct"`
	TotalAssets  float64 `json:"total_assets"`
	Cash         float64 `json:"cash"`
	HoldingsN    int     `json:"holdings_count"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	TradeCount   int     `json:"trade_count"`
	Color        string  `json:"color"`
}

// ArenaStage buckets the run into an early/mid/final phase for prompt framing.
type ArenaStage string

const (
	StageEarly ArenaStage = "early"
	StageMid   ArenaStage = "mid"
	StageFinal ArenaStage = "final"
)

// RankingContext is the per-agent prompt context built once per trade date.
type RankingContext struct {
	Rankings     []RankingEntry `json:"rankings"`
	YourRank     RankingEntry   `json:"your_rank"`
	Leader       RankingEntry   `json:"leader"`
	GapToLeader  float64        `json:"gap_to_leader"`
	CurrentDay   int            `json:"current_day"`
	TotalDays    int            `json:"total_days"`
	Progress     float64        `json:"progress"`
	Stage        ArenaStage     `json:"stage"`
	Strategy     string         `json:"strategy"`
	Comment      string         `json:"comment"`
	Goal         string         `json:"goal"`
}
