package arena

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/memstore"
)

// GetCurrentRankings returns a snapshot leaderboard ordered by profit_pct
// descending; ties break on smaller max_drawdown, then on the agent's
// original session entry order (stable sort preserves it).
func (s *Scheduler) GetCurrentRankings() []domain.RankingEntry {
	entries := s.Store.Rankings()
	order := make(map[string]int, len(s.Agents))
	for i, a := range s.Agents {
		order[a.Name] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return order[entries[i].Name] < order[entries[j].Name]
	})
	sortByProfitThenDrawdown(entries)
	return entries
}

// sortByProfitThenDrawdown re-ranks memstore's total-assets ordering into
// the profit_pct-first tie-break rule this package's callers need for the
// day's prompt context and medal log line.
func sortByProfitThenDrawdown(entries []domain.RankingEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if a.ProfitPct > b.ProfitPct || (a.ProfitPct == b.ProfitPct && a.MaxDrawdown <= b.MaxDrawdown) {
				break
			}
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// GetRankingContextForAgent builds the per-agent prompt context: where the
// agent stands, the gap to the leader, which stage of the run this is, and
// a short dispersion comment computed across the whole field's profit_pct.
func (s *Scheduler) GetRankingContextForAgent(agent string, dayIndex, totalDays int) domain.RankingContext {
	entries := s.GetCurrentRankings()

	var mine, leader domain.RankingEntry
	if len(entries) > 0 {
		leader = entries[0]
	}
	for _, e := range entries {
		if e.Name == agent {
			mine = e
			break
		}
	}

	progress := 0.0
	if totalDays > 0 {
		progress = float64(dayIndex) / float64(totalDays)
	}
	stage := domain.StageMid
	switch {
	case progress < 0.30:
		stage = domain.StageEarly
	case progress > 0.70:
		stage = domain.StageFinal
	}

	return domain.RankingContext{
		Rankings:    entries,
		YourRank:    mine,
		Leader:      leader,
		GapToLeader: leader.ProfitPct - mine.ProfitPct,
		CurrentDay:  dayIndex,
		TotalDays:   totalDays,
		Progress:    progress * 100,
		Stage:       stage,
		Comment:     fieldDispersionComment(entries, mine),
		Goal:        stageGoal(stage),
	}
}

// fieldDispersionComment uses the field's mean and standard deviation of
// profit_pct to phrase how far ahead or behind of the pack this agent is,
// rather than just stating the raw gap to the leader.
func fieldDispersionComment(entries []domain.RankingEntry, mine domain.RankingEntry) string {
	if len(entries) < 2 {
		return "Only agent in the field so far."
	}
	profits := make([]float64, len(entries))
	for i, e := range entries {
		profits[i] = e.ProfitPct
	}
	mean, std := stat.MeanStdDev(profits, nil)
	if std == 0 {
		return "The field is tightly bunched on profit so far."
	}
	z := (mine.ProfitPct - mean) / std
	switch {
	case z > 1:
		return fmt.Sprintf("You are well ahead of the field (%.1f std dev above the mean).", z)
	case z < -1:
		return fmt.Sprintf("You are well behind the field (%.1f std dev below the mean).", -z)
	default:
		return "You are within one standard deviation of the field average."
	}
}

func stageGoal(stage domain.ArenaStage) string {
	switch stage {
	case domain.StageEarly:
		return "Establish positions deliberately; avoid overtrading this early."
	case domain.StageFinal:
		return "Protect gains; avoid speculative positions this late in the run."
	default:
		return "Balance growth against drawdown risk."
	}
}

// logDailyMedals writes a same-day ranking line with medals for the top
// three agents, matching the original run's daily ranking announcement.
func logDailyMedals(store *memstore.Store, log func(string)) {
	entries := store.Rankings()
	sortByProfitThenDrawdown(entries)
	medals := []string{"\U0001F947", "\U0001F948", "\U0001F949"}
	for i, e := range entries {
		if i >= len(medals) {
			break
		}
		log(fmt.Sprintf("%s %s: %.2f%%", medals[i], e.Name, e.ProfitPct))
	}
}
