package memstore

import (
	"testing"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigSeedsAgentsAtInitialCapital(t *testing.T) {
	s := New()
	s.SetConfig(ArenaConfig{
		InitialCapital: 100000,
		Models: []ModelConfig{
			{ID: "a", Name: "deepseek", Color: "#f00", Enabled: true},
			{ID: "b", Name: "qwen", Color: "#0f0", Enabled: true},
		},
	})

	snap, ok := s.Agent("deepseek")
	require.True(t, ok)
	assert.Equal(t, 100000.0, snap.Cash)
	assert.Equal(t, 100000.0, snap.TotalAssets)
}

func TestAppendDailyAssetKeepsDateOrder(t *testing.T) {
	s := New()
	s.UpdateAgent("deepseek", func(snap *AgentSnapshot) { snap.Name = "deepseek" })

	s.AppendDailyAsset("deepseek", domain.DailyAssetPoint{Date: "20240103", TotalAssets: 101000})
	s.AppendDailyAsset("deepseek", domain.DailyAssetPoint{Date: "20240102", TotalAssets: 100500})
	s.AppendDailyAsset("deepseek", domain.DailyAssetPoint{Date: "20240104", TotalAssets: 99800})

	snap, ok := s.Agent("deepseek")
	require.True(t, ok)
	require.Len(t, snap.DailyAssets, 3)
	assert.Equal(t, "20240102", snap.DailyAssets[0].Date)
	assert.Equal(t, "20240103", snap.DailyAssets[1].Date)
	assert.Equal(t, "20240104", snap.DailyAssets[2].Date)
}

func TestRankingsSortsByTotalAssetsDescending(t *testing.T) {
	s := New()
	s.UpdateAgent("leader", func(snap *AgentSnapshot) { snap.Name = "leader"; snap.TotalAssets = 120000 })
	s.UpdateAgent("laggard", func(snap *AgentSnapshot) { snap.Name = "laggard"; snap.TotalAssets = 95000 })

	rankings := s.Rankings()

	require.Len(t, rankings, 2)
	assert.Equal(t, "leader", rankings[0].Name)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, "laggard", rankings[1].Name)
	assert.Equal(t, 2, rankings[1].Rank)
}

func TestMaxDrawdownFromPeak(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "1", TotalAssets: 100000},
		{Date: "2", TotalAssets: 110000},
		{Date: "3", TotalAssets: 93500},
		{Date: "4", TotalAssets: 105000},
	}
	assert.InDelta(t, 15.0, maxDrawdown(points), 0.01)
}

func TestWinRateCountsOnlyProfitableSells(t *testing.T) {
	trades := []domain.Trade{
		{Action: domain.ActionBuy, Profit: 0},
		{Action: domain.ActionSell, Profit: 500},
		{Action: domain.ActionSell, Profit: -200},
		{Action: domain.ActionSell, Profit: 150},
	}
	assert.InDelta(t, 66.67, winRate(trades), 0.01)
}

func TestResetClearsAgentsAndSession(t *testing.T) {
	s := New()
	s.SetSession(&domain.Session{ID: "sess-1"})
	s.UpdateAgent("deepseek", func(snap *AgentSnapshot) { snap.Name = "deepseek" })

	s.Reset()

	snap := s.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Empty(t, snap.Agents)
}
