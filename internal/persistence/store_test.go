package persistence

import (
	"testing"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
	arenatesting "github.com/aristath/arena-engine/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, cleanup := arenatesting.NewTestDB(t, "arena")
	t.Cleanup(cleanup)
	return New(db)
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{
		ID:             "20260730_120000",
		StartDate:      "20260101",
		EndDate:        "20261231",
		CurrentDate:    "20260101",
		Status:         domain.SessionRunning,
		InitialCapital: 1_000_000,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateSession(sess, `{"models":[]}`))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.StartDate, got.StartDate)
	assert.Equal(t, domain.SessionRunning, got.Status)
}

func TestUpdateSessionProgressAndComplete(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-1", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	require.NoError(t, s.UpdateSessionProgress(sess.ID, "20260105", time.Now().UTC().Format(timeFormat)))
	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "20260105", got.CurrentDate)

	require.NoError(t, s.CompleteSession(sess.ID, time.Now().UTC().Format(timeFormat)))
	got, err = s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, got.Status)
}

func TestLatestUnfinishedSessionReopensShortCompletedRun(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-2", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionCompleted, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))
	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", domain.DailyAssetPoint{Date: "20260105", TotalAssets: 105000}))

	got, err := s.LatestUnfinishedSession()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionRunning, got.Status)
	assert.Equal(t, "20260105", got.CurrentDate)
}

func TestSaveAndLoadTradesAndHoldings(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-3", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	trade := domain.Trade{Date: "20260102", Time: "09:31:00", Action: domain.ActionBuy, Code: "600000",
		Name: "浦发银行", Amount: 100, Price: 10.0, Total: 1000, Commission: 5, StampTax: 0}
	require.NoError(t, s.SaveTrade(sess.ID, "gpt", trade))

	trades, err := s.Trades(sess.ID, "gpt")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "600000", trades[0].Code)
	assert.Equal(t, domain.ActionBuy, trades[0].Action)

	holdings := []domain.Holding{{Code: "600000", Name: "浦发银行", Amount: 100, Cost: 10.0, CurrentPrice: 10.5}}
	require.NoError(t, s.ReplaceHoldings(sess.ID, "gpt", holdings))

	got, err := s.Holdings(sess.ID, "gpt")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "600000", got[0].Code)
}

func TestSaveDailyAssetIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-4", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	point := domain.DailyAssetPoint{Date: "20260102", TotalAssets: 101000, Cash: 50000, HoldingsValue: 51000}
	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", point))
	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", point))

	points, err := s.DailyAssets(sess.ID, "gpt", "")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestReflectionAndPrinciplesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-5", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	reflection := domain.Reflection{
		Date: "20260107", Summary: "steady gains",
		Strengths: []string{"patient entries"}, Weaknesses: []string{"late exits"},
		AdjustmentPlan: []string{"tighten stop loss"},
	}
	require.NoError(t, s.SaveReflection(sess.ID, "gpt", reflection, []string{"never chase limit-up", "cut losers fast"}))

	principles, err := s.GetPrinciples(sess.ID, "gpt")
	require.NoError(t, err)
	assert.Equal(t, []string{"cut losers fast", "never chase limit-up"}, principles)

	got, err := s.GetLatestReflection(sess.ID, "gpt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "steady gains", got.Summary)
	assert.Equal(t, []string{"patient entries"}, got.Strengths)
}

func TestRollbackToDateRemovesDataOnOrAfterCutoff(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-6", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", domain.DailyAssetPoint{Date: "20260102", TotalAssets: 100500}))
	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", domain.DailyAssetPoint{Date: "20260103", TotalAssets: 101500}))
	require.NoError(t, s.SaveTrade(sess.ID, "gpt", domain.Trade{Date: "20260103", Code: "600000", Action: domain.ActionBuy, Amount: 100, Price: 10}))

	// cutoffDate itself must be dropped too, not kept.
	require.NoError(t, s.RollbackToDate(sess.ID, "gpt", "20260103"))

	points, err := s.DailyAssets(sess.ID, "gpt", "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "20260102", points[0].Date)

	trades, err := s.Trades(sess.ID, "gpt")
	require.NoError(t, err)
	assert.Len(t, trades, 0)
}

func TestRollbackToDateIsScopedToOneAgent(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-7", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", domain.DailyAssetPoint{Date: "20260103", TotalAssets: 101500}))
	require.NoError(t, s.SaveDailyAsset(sess.ID, "deepseek", domain.DailyAssetPoint{Date: "20260103", TotalAssets: 99500}))

	require.NoError(t, s.RollbackToDate(sess.ID, "gpt", "20260103"))

	gptPoints, err := s.DailyAssets(sess.ID, "gpt", "")
	require.NoError(t, err)
	assert.Len(t, gptPoints, 0)

	otherPoints, err := s.DailyAssets(sess.ID, "deepseek", "")
	require.NoError(t, err)
	assert.Len(t, otherPoints, 1)
}

func TestRollbackToDateReactivatesSurvivingPrinciples(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-8", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))

	require.NoError(t, s.SaveReflection(sess.ID, "gpt",
		domain.Reflection{Date: "20260102", Summary: "first pass"}, []string{"cut losers fast"}))
	require.NoError(t, s.SaveReflection(sess.ID, "gpt",
		domain.Reflection{Date: "20260105", Summary: "second pass"}, []string{"never chase limit-up"}))

	require.NoError(t, s.RollbackToDate(sess.ID, "gpt", "20260105"))

	principles, err := s.GetPrinciples(sess.ID, "gpt")
	require.NoError(t, err)
	assert.Equal(t, []string{"cut losers fast"}, principles)

	reflection, err := s.GetLatestReflection(sess.ID, "gpt")
	require.NoError(t, err)
	require.NotNil(t, reflection)
	assert.Equal(t, "first pass", reflection.Summary)
}

func TestPurgeSessionRemovesAllRows(t *testing.T) {
	s := newTestStore(t)
	sess := domain.Session{ID: "sess-7", StartDate: "20260101", EndDate: "20260110", InitialCapital: 100000,
		Status: domain.SessionRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(sess, "{}"))
	require.NoError(t, s.SaveDailyAsset(sess.ID, "gpt", domain.DailyAssetPoint{Date: "20260102", TotalAssets: 100500}))

	require.NoError(t, s.PurgeSession(sess.ID))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
