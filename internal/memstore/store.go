// Package memstore holds the process-wide, wipe-on-restart projection of
// the running competition that HTTP handlers read from. It is the only
// thing the API layer touches; the durable append-only tables in
// internal/persistence are written in parallel by the same callback path
// but are never read back during a live run.
//
// Lifecycle: constructed empty at startup, given the session and config
// by main, then mutated by the scheduler once per agent per day after that
// agent's pipeline returns (single writer). HTTP handlers only read,
// via Snapshot or the narrower accessors, and may observe a slightly stale
// but always internally consistent view.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
)

// LogLine is one line of an agent's narrated decision log, surfaced to the
// UI the way the donor's log tailer surfaces process logs.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// AgentSnapshot is the full per-agent state exposed over GET /data.
type AgentSnapshot struct {
	Name          string                    `json:"name"`
	Color         string                    `json:"color"`
	Cash          float64                   `json:"cash"`
	HoldingsValue float64                   `json:"holdings_value"`
	TotalAssets   float64                   `json:"total_assets"`
	ProfitPct     float64                   `json:"profit_pct"`
	Holdings      []domain.Holding          `json:"holdings"`
	DailyAssets   []domain.DailyAssetPoint  `json:"daily_assets"`
	Trades        []domain.Trade            `json:"trade_history"`
	AILogs        []LogLine                 `json:"ai_logs"`
	Principles    []string                  `json:"principles,omitempty"`
	LastReflect   *domain.Reflection        `json:"last_reflection,omitempty"`
}

// ArenaConfig is the read-only projection served by GET /config.
type ArenaConfig struct {
	InitialCapital float64       `json:"initial_capital"`
	StartDate      string        `json:"start_date"`
	EndDate        string        `json:"end_date"`
	Models         []ModelConfig `json:"models"`
}

// ModelConfig is one agent's entry in the config projection.
type ModelConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Color    string `json:"color"`
	Enabled  bool   `json:"enabled"`
}

// Progress is the read-only projection served by GET /progress.
type Progress struct {
	Current   int     `json:"current"`
	Total     int     `json:"total"`
	Message   string  `json:"message"`
	Percent   float64 `json:"percent"`
	IsRunning bool    `json:"is_running"`
}

// Snapshot is a consistent point-in-time read of the whole store.
type Snapshot struct {
	Session  *domain.Session
	Config   ArenaConfig
	Agents   map[string]*AgentSnapshot
	Progress Progress
}

// Store is the in-memory, single-writer/many-reader projection.
type Store struct {
	mu       sync.RWMutex
	session  *domain.Session
	config   ArenaConfig
	agents   map[string]*AgentSnapshot
	progress Progress
}

// New constructs an empty store.
func New() *Store {
	return &Store{agents: make(map[string]*AgentSnapshot)}
}

// SetConfig installs the arena's static configuration projection.
func (s *Store) SetConfig(cfg ArenaConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	for _, m := range cfg.Models {
		if _, ok := s.agents[m.Name]; !ok {
			s.agents[m.Name] = &AgentSnapshot{Name: m.Name, Color: m.Color, Cash: cfg.InitialCapital, TotalAssets: cfg.InitialCapital}
		}
	}
}

// SetSession records the active session.
func (s *Store) SetSession(session *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// SetProgress updates the run's progress projection.
func (s *Store) SetProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// UpdateAgent replaces an agent's cash/holdings/assets snapshot in place.
// The scheduler calls it once per agent per day after the pipeline returns;
// the Append*/Set* helpers below also go through it.
func (s *Store) UpdateAgent(name string, fn func(*AgentSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.agents[name]
	if !ok {
		snap = &AgentSnapshot{Name: name}
		s.agents[name] = snap
	}
	fn(snap)
}

// AppendTrade appends one fill to an agent's trade history.
func (s *Store) AppendTrade(agent string, t domain.Trade) {
	s.UpdateAgent(agent, func(snap *AgentSnapshot) {
		snap.Trades = append(snap.Trades, t)
	})
}

// AppendDailyAsset appends one day's asset point, keeping the curve ordered
// by date even if callbacks arrive slightly out of order across agents.
func (s *Store) AppendDailyAsset(agent string, p domain.DailyAssetPoint) {
	s.UpdateAgent(agent, func(snap *AgentSnapshot) {
		snap.DailyAssets = append(snap.DailyAssets, p)
		sort.Slice(snap.DailyAssets, func(i, j int) bool {
			return snap.DailyAssets[i].Date < snap.DailyAssets[j].Date
		})
	})
}

// AppendLog appends one narrated log line for an agent.
func (s *Store) AppendLog(agent, message string) {
	s.UpdateAgent(agent, func(snap *AgentSnapshot) {
		snap.AILogs = append(snap.AILogs, LogLine{Timestamp: time.Now(), Message: message})
		const maxLines = 500
		if len(snap.AILogs) > maxLines {
			snap.AILogs = snap.AILogs[len(snap.AILogs)-maxLines:]
		}
	})
}

// SetReflection installs an agent's latest reflection.
func (s *Store) SetReflection(agent string, r domain.Reflection) {
	s.UpdateAgent(agent, func(snap *AgentSnapshot) {
		snap.LastReflect = &r
	})
}

// SetPrinciples installs an agent's active rule set.
func (s *Store) SetPrinciples(agent string, rules []string) {
	s.UpdateAgent(agent, func(snap *AgentSnapshot) {
		snap.Principles = rules
	})
}

// Reset wipes the store back to empty, used by POST /reset before a new run starts.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.agents = make(map[string]*AgentSnapshot)
	s.progress = Progress{}
}

// Snapshot returns a deep-enough copy of the whole store for one consistent read.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make(map[string]*AgentSnapshot, len(s.agents))
	for name, snap := range s.agents {
		cp := *snap
		agents[name] = &cp
	}
	return Snapshot{Session: s.session, Config: s.config, Agents: agents, Progress: s.progress}
}

// Config returns the current config projection.
func (s *Store) Config() ArenaConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Agent returns one agent's snapshot, or false if unknown.
func (s *Store) Agent(name string) (AgentSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.agents[name]
	if !ok {
		return AgentSnapshot{}, false
	}
	return *snap, true
}

// Rankings computes the sorted-by-total-assets leaderboard, grounded on the
// original run's get_current_rankings: rank is 1-indexed by descending
// total assets, max drawdown from the peak of the daily-asset curve, win
// rate from sell trades with positive profit.
func (s *Store) Rankings() []domain.RankingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.RankingEntry, 0, len(s.agents))
	for _, snap := range s.agents {
		entries = append(entries, domain.RankingEntry{
			Name:        snap.Name,
			ProfitPct:   snap.ProfitPct,
			TotalAssets: snap.TotalAssets,
			Cash:        snap.Cash,
			HoldingsN:   len(snap.Holdings),
			MaxDrawdown: maxDrawdown(snap.DailyAssets),
			WinRate:     winRate(snap.Trades),
			TradeCount:  len(snap.Trades),
			Color:       snap.Color,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TotalAssets > entries[j].TotalAssets
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func maxDrawdown(points []domain.DailyAssetPoint) float64 {
	peak := 0.0
	worst := 0.0
	for _, p := range points {
		if p.TotalAssets > peak {
			peak = p.TotalAssets
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - p.TotalAssets) / peak * 100
		if drawdown > worst {
			worst = drawdown
		}
	}
	return worst
}

func winRate(trades []domain.Trade) float64 {
	sells, wins := 0, 0
	for _, t := range trades {
		if t.Action != domain.ActionSell {
			continue
		}
		sells++
		if t.Profit > 0 {
			wins++
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells) * 100
}
