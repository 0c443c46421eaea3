// Package arena drives the day-by-day competition: it advances every
// configured agent through the trade-date sequence in lockstep, enforcing
// a per-day barrier so one slow or stuck agent cannot desynchronize the
// field's daily asset curves.
package arena

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-engine/internal/agent"
	"github.com/aristath/arena-engine/internal/config"
	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/events"
	"github.com/aristath/arena-engine/internal/memstore"
	"github.com/aristath/arena-engine/internal/persistence"
	"github.com/aristath/arena-engine/internal/portfolio"
	"github.com/aristath/arena-engine/internal/utils"
)

// MarketData is the subset of the market data provider the scheduler
// drives directly: preloading D's candidate pool before fan-out, and
// resolving the calendar to normalize the requested date range.
type MarketData interface {
	domain.MarketDataSource
	Preload(ctx context.Context, date string) error
	CandidatePool(date string) (domain.CandidatePool, error)
}

// AgentHandle is one competitor's fixed identity plus its live portfolio
// book, held for the duration of a run.
type AgentHandle struct {
	Name        string
	Provider    string
	Color       string
	ModelOffset int
	Book        *portfolio.Book

	daysSinceReflection int
	peakAssets          float64
}

// Scheduler owns the barrier/fan-out loop over a fixed set of agents.
type Scheduler struct {
	Agents     []*AgentHandle
	MarketData MarketData
	News       agent.NewsProvider
	LLMFor     func(agentName string) domain.LLMClient

	Store   *memstore.Store
	Persist *persistence.Store
	Bus     *events.Manager
	Log     zerolog.Logger
	Config  *config.Config

	PrimaryTimeout time.Duration
	GraceTimeout   time.Duration

	SessionID string

	// running tracks agent names with an in-flight runAgentDay goroutine,
	// so a day boundary never launches a second goroutine for an agent
	// whose previous one hasn't returned yet.
	running sync.Map
}

// agentOutcome is one agent's result for one trade date, collected off the
// barrier's done/not-done channel.
type agentOutcome struct {
	agent  *AgentHandle
	result agent.Result
}

// RunArena advances every agent across tradeDates in lockstep. onProgress
// is called once per date with (completedDates, totalDates). onUpdate is
// called once per agent per date with its Result, right after that
// agent's barrier wait resolves (success, error, or severe timeout).
// shouldStop is polled at each date boundary; RunArena returns cleanly
// after the currently in-flight date finishes.
func (s *Scheduler) RunArena(ctx context.Context, tradeDates []string, onProgress func(done, total int), onUpdate func(agentName, date string, res agent.Result), shouldStop func() bool) map[string]agent.Result {
	final := make(map[string]agent.Result, len(s.Agents))
	total := len(tradeDates)

	for dayIndex, date := range tradeDates {
		if shouldStop != nil && shouldStop() {
			break
		}

		if err := s.MarketData.Preload(ctx, date); err != nil {
			s.Log.Warn().Err(err).Str("date", date).Msg("preload failed, degrading to fallback candidate walk")
		}

		results := s.runDay(ctx, date, dayIndex, total)

		for name, res := range results {
			final[name] = res
			if onUpdate != nil {
				onUpdate(name, date, res)
			}
			if res.Err != nil {
				s.Bus.EmitError("arena", res.Err, map[string]interface{}{"agent": name, "date": date})
			}
		}

		if err := s.Persist.UpdateSessionProgress(s.SessionID, date, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			s.Log.Error().Err(err).Str("date", date).Msg("failed to advance session progress")
		}

		logDailyMedals(s.Store, func(line string) { s.Log.Info().Str("date", date).Msg(line) })
		s.Bus.Emit(events.DayAdvanced, "arena", map[string]interface{}{"date": date, "day_index": dayIndex, "total_days": total})

		if onProgress != nil {
			onProgress(dayIndex+1, total)
		}
	}

	return final
}

// runDay fans every still-active agent out to its own goroutine, waits up
// to PrimaryTimeout for all of them, then gives stragglers one more
// GraceTimeout window. Each goroutine runs under a ctx bounded by
// primary+grace, so anything still outstanding after grace is actually
// being cancelled, not merely written off while it keeps mutating a.Book
// in the background. An agent whose prior goroutine has not returned by
// the next date is skipped rather than relaunched, since two goroutines
// racing on the same Book (a map) would corrupt it.
func (s *Scheduler) runDay(ctx context.Context, date string, dayIndex, totalDays int) map[string]agent.Result {
	outcomes := make(chan agentOutcome, len(s.Agents))
	results := make(map[string]agent.Result, len(s.Agents))
	launched := 0

	for _, a := range s.Agents {
		if _, busy := s.running.Load(a.Name); busy {
			s.Log.Error().Str("agent", a.Name).Str("date", date).
				Msg("agent has not returned from a previous date, skipping this date rather than racing its goroutine")
			results[a.Name] = agent.Result{
				Err: domain.NewArenaError(domain.ErrSevereTimeout, "runDay",
					fmt.Errorf("agent %s still running past a prior deadline, skipped %s", a.Name, date)),
			}
			continue
		}

		s.running.Store(a.Name, struct{}{})
		agentCtx, cancel := context.WithTimeout(ctx, s.primaryTimeout()+s.graceTimeout())
		go func(a *AgentHandle, agentCtx context.Context, cancel context.CancelFunc) {
			defer cancel()
			defer s.running.Delete(a.Name)
			res := s.runAgentDay(agentCtx, a, date, dayIndex, totalDays)
			outcomes <- agentOutcome{agent: a, result: res}
		}(a, agentCtx, cancel)
		launched++
	}

	deadline := time.After(s.primaryTimeout())
	remaining := s.drainUntil(outcomes, results, launched, deadline)
	if remaining == 0 {
		return results
	}

	graceDeadline := time.After(s.graceTimeout())
	remaining = s.drainUntil(outcomes, results, remaining, graceDeadline)
	if remaining == 0 {
		return results
	}

	for _, a := range s.Agents {
		if _, done := results[a.Name]; done {
			continue
		}
		s.Log.Error().Str("agent", a.Name).Str("date", date).Msg("severely timed out past primary+grace window")
		results[a.Name] = agent.Result{
			Err: domain.NewArenaError(domain.ErrSevereTimeout, "runDay", fmt.Errorf("agent %s exceeded primary+grace timeout on %s", a.Name, date)),
		}
	}
	return results
}

func (s *Scheduler) drainUntil(outcomes <-chan agentOutcome, results map[string]agent.Result, remaining int, deadline <-chan time.Time) int {
	for remaining > 0 {
		select {
		case o := <-outcomes:
			results[o.agent.Name] = o.result
			remaining--
		case <-deadline:
			return remaining
		}
	}
	return remaining
}

func (s *Scheduler) primaryTimeout() time.Duration {
	if s.PrimaryTimeout > 0 {
		return s.PrimaryTimeout
	}
	return 10 * time.Minute
}

func (s *Scheduler) graceTimeout() time.Duration {
	if s.GraceTimeout > 0 {
		return s.GraceTimeout
	}
	return 5 * time.Minute
}

// runAgentDay builds the per-agent state for date, runs the eight-node
// pipeline, and then writes the day's result to persistence and the
// in-memory projection itself (persistAgentDay) before returning it.
func (s *Scheduler) runAgentDay(ctx context.Context, a *AgentHandle, date string, dayIndex, totalDays int) agent.Result {
	defer utils.OperationTimer(fmt.Sprintf("agent_day:%s", a.Name), s.Log)()

	rankingCtx := s.GetRankingContextForAgent(a.Name, dayIndex, totalDays)

	principles, err := s.Persist.GetPrinciples(s.SessionID, a.Name)
	if err != nil {
		s.Log.Warn().Err(err).Str("agent", a.Name).Msg("failed to load principles, continuing without them")
	}

	st := &agent.State{
		Agent:               a.Name,
		Date:                date,
		Book:                a.Book,
		RankingContext:      rankingCtx,
		DaysSinceReflection: a.daysSinceReflection,
		PeakAssets:          a.peakAssets,
	}

	deps := agent.Deps{
		LLM:        s.LLMFor(a.Name),
		Market:     s.MarketData,
		News:       s.News,
		Candidates: s.MarketData.CandidatePool,
		Config:     s.Config,
		Gates: portfolio.RiskGates{
			MaxHoldings:       s.Config.MaxHoldings,
			CashReservePct:    0.05,
			SinglePositionPct: 0.40,
			CashCeilingPct:    0.95,
		},
		ModelOffset: a.ModelOffset,
		Principles:  func() []string { return principles },
		OnReflect: func(r domain.Reflection, newPrinciples []string) {
			if err := s.Persist.SaveReflection(s.SessionID, a.Name, r, newPrinciples); err != nil {
				s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist reflection")
			}
			s.Store.SetReflection(a.Name, r)
			s.Store.SetPrinciples(a.Name, newPrinciples)
			s.Bus.Emit(events.ReflectionRecorded, "arena", map[string]interface{}{"agent": a.Name, "date": date})
		},
		Log: func(message string) {
			s.Store.AppendLog(a.Name, message)
			if err := s.Persist.SaveAILog(s.SessionID, a.Name, time.Now().UTC().Format(time.RFC3339Nano), message, "info"); err != nil {
				s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist ai log")
			}
		},
	}

	tradesBefore := len(a.Book.Trades)
	res := agent.Run(ctx, st, deps, func() bool { return ctx.Err() != nil })

	a.daysSinceReflection = st.DaysSinceReflection
	if a.Book.TotalAssets() > a.peakAssets {
		a.peakAssets = a.Book.TotalAssets()
	}

	s.persistAgentDay(a, date, tradesBefore, res)
	return res
}

// persistAgentDay writes the durable record for one agent's day: any new
// trades (append-only), the fully-replaced holdings snapshot, the latest
// model state, and the day's asset point — then mirrors the same data
// into the in-memory projection the HTTP API reads from.
func (s *Scheduler) persistAgentDay(a *AgentHandle, date string, tradesBefore int, res agent.Result) {
	for _, t := range a.Book.Trades[tradesBefore:] {
		if err := s.Persist.SaveTrade(s.SessionID, a.Name, t); err != nil {
			s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist trade")
		}
		s.Store.AppendTrade(a.Name, t)
		s.Bus.Emit(events.TradeExecuted, "arena", map[string]interface{}{"agent": a.Name, "code": t.Code, "action": string(t.Action)})
	}

	holdings := make([]domain.Holding, 0, len(a.Book.Holdings))
	for _, h := range a.Book.Holdings {
		holdings = append(holdings, h)
	}
	if err := s.Persist.ReplaceHoldings(s.SessionID, a.Name, holdings); err != nil {
		s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist holdings")
	}

	point := res.Asset
	if point.Date == "" {
		point = domain.DailyAssetPoint{Date: date, TotalAssets: a.Book.TotalAssets(), Cash: a.Book.Cash, HoldingsValue: a.Book.HoldingsValue()}
	}
	if err := s.Persist.SaveDailyAsset(s.SessionID, a.Name, point); err != nil {
		s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist daily asset")
	}
	s.Store.AppendDailyAsset(a.Name, point)

	profitPct := 0.0
	if a.Book.InitialCapital > 0 {
		profitPct = (point.TotalAssets - a.Book.InitialCapital) / a.Book.InitialCapital * 100
	}
	if err := s.Persist.SaveModelState(s.SessionID, a.Name, a.Book.Cash, point.TotalAssets, profitPct); err != nil {
		s.Log.Error().Err(err).Str("agent", a.Name).Msg("failed to persist model state")
	}
	s.Store.UpdateAgent(a.Name, func(snap *memstore.AgentSnapshot) {
		snap.Cash = a.Book.Cash
		snap.HoldingsValue = point.HoldingsValue
		snap.TotalAssets = point.TotalAssets
		snap.ProfitPct = profitPct
		snap.Holdings = holdings
	})
}
