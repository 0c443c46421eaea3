package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/persistence"
	arenatesting "github.com/aristath/arena-engine/internal/testing"
)

func newRecoveryTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	db, cleanup := arenatesting.NewTestDB(t, "arena")
	t.Cleanup(cleanup)
	return persistence.New(db)
}

func TestRebuildFromTradeLogMergesBuysAndReducesSells(t *testing.T) {
	trades := []domain.Trade{
		{Date: "20240102", Time: "09:30:00", Action: domain.ActionBuy, Code: "600000", Name: "A", Amount: 1000, Price: 10, Total: 10000, Commission: 5},
		{Date: "20240103", Time: "09:30:00", Action: domain.ActionBuy, Code: "600000", Name: "A", Amount: 1000, Price: 12, Total: 12000, Commission: 5},
		{Date: "20240104", Time: "14:00:00", Action: domain.ActionSell, Code: "600000", Name: "A", Amount: 500, Price: 13, Total: 6500, Commission: 5, StampTax: 6.5},
	}

	book := RebuildFromTradeLog(100000, trades)

	h, ok := book.Holdings["600000"]
	require.True(t, ok)
	assert.Equal(t, int64(1500), h.Amount)
	assert.InDelta(t, 11.0, h.Cost, 0.0001)

	expectedCash := 100000.0 - 10005 - 12005 + (6500 - 5 - 6.5)
	assert.InDelta(t, expectedCash, book.Cash, 0.001)
}

func TestRebuildFromTradeLogRemovesHoldingWhenFullySold(t *testing.T) {
	trades := []domain.Trade{
		{Date: "20240102", Action: domain.ActionBuy, Code: "600000", Amount: 1000, Price: 10, Total: 10000, Commission: 5},
		{Date: "20240103", Action: domain.ActionSell, Code: "600000", Amount: 1000, Price: 11, Total: 11000, Commission: 5, StampTax: 11},
	}
	book := RebuildFromTradeLog(100000, trades)
	_, ok := book.Holdings["600000"]
	assert.False(t, ok)
}

func TestDetectGapFlagsMoreThanThreeDaysApart(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 100100},
		{Date: "20240110", TotalAssets: 100200},
	}
	gapDate, gapDays, ok := DetectGap(points)
	require.True(t, ok)
	assert.Equal(t, "20240110", gapDate)
	assert.Equal(t, 7, gapDays)
}

func TestDetectGapFindsNothingWithinThreshold(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 100100},
	}
	_, _, ok := DetectGap(points)
	assert.False(t, ok)
}

func TestDetectCorruptionFlagsExcessiveSingleDayMove(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 150000}, // +50% in a day
	}
	badDate, ok := DetectCorruption(points, nil)
	require.True(t, ok)
	assert.Equal(t, "20240103", badDate)
}

func TestDetectCorruptionPassesNormalMovement(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 101000},
		{Date: "20240104", TotalAssets: 99500},
	}
	_, ok := DetectCorruption(points, nil)
	assert.False(t, ok)
}

func TestDetectCorruptionFlagsInconsistentDeclaredTotal(t *testing.T) {
	points := []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
	}
	badDate, ok := DetectCorruption(points, func(date string) (float64, float64) {
		return 50000, 20000 // declared 100000, actual 70000: 30% off
	})
	require.True(t, ok)
	assert.Equal(t, "20240102", badDate)
}

func TestRollbackToDateRebuildsHoldingsAndCashFromSurvivingTrades(t *testing.T) {
	store := newRecoveryTestStore(t)
	sess := domain.Session{ID: "sess-recover", StartDate: "20240101", EndDate: "20240110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateSession(sess, "{}"))

	require.NoError(t, store.SaveTrade(sess.ID, "gpt", domain.Trade{
		Date: "20240102", Time: "09:30:00", Action: domain.ActionBuy, Code: "600000", Name: "A",
		Amount: 1000, Price: 10, Total: 10000, Commission: 5,
	}))
	require.NoError(t, store.SaveDailyAsset(sess.ID, "gpt",
		domain.DailyAssetPoint{Date: "20240102", TotalAssets: 99995, Cash: 89995, HoldingsValue: 10000}))

	// This day's trade and daily asset should be rolled back.
	require.NoError(t, store.SaveTrade(sess.ID, "gpt", domain.Trade{
		Date: "20240103", Time: "09:30:00", Action: domain.ActionBuy, Code: "600001", Name: "B",
		Amount: 500, Price: 20, Total: 10000, Commission: 5,
	}))
	require.NoError(t, store.SaveDailyAsset(sess.ID, "gpt",
		domain.DailyAssetPoint{Date: "20240103", TotalAssets: 99990, Cash: 79990, HoldingsValue: 20000}))

	require.NoError(t, RollbackToDate(context.Background(), store, sess.ID, "gpt", "20240103", sess.InitialCapital))

	trades, err := store.Trades(sess.ID, "gpt")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	holdings, err := store.Holdings(sess.ID, "gpt")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "600000", holdings[0].Code)
	assert.Equal(t, int64(1000), holdings[0].Amount)

	points, err := store.DailyAssets(sess.ID, "gpt", "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "20240102", points[0].Date)
}

func TestRollbackToDateResetsToInitialCapitalWhenNothingSurvives(t *testing.T) {
	store := newRecoveryTestStore(t)
	sess := domain.Session{ID: "sess-recover-2", StartDate: "20240101", EndDate: "20240110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateSession(sess, "{}"))

	require.NoError(t, store.SaveTrade(sess.ID, "gpt", domain.Trade{
		Date: "20240102", Action: domain.ActionBuy, Code: "600000", Amount: 1000, Price: 10, Total: 10000, Commission: 5,
	}))
	require.NoError(t, store.SaveDailyAsset(sess.ID, "gpt",
		domain.DailyAssetPoint{Date: "20240102", TotalAssets: 99995, Cash: 89995, HoldingsValue: 10000}))

	require.NoError(t, RollbackToDate(context.Background(), store, sess.ID, "gpt", "20240102", sess.InitialCapital))

	holdings, err := store.Holdings(sess.ID, "gpt")
	require.NoError(t, err)
	assert.Len(t, holdings, 0)

	points, err := store.DailyAssets(sess.ID, "gpt", "")
	require.NoError(t, err)
	assert.Len(t, points, 0)
}
