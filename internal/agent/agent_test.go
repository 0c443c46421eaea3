package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-engine/internal/config"
	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/portfolio"
)

type stubMarket struct {
	bars map[string]domain.Bar
}

func (m *stubMarket) GetBar(ctx context.Context, code, date string) (domain.Bar, error) {
	b, ok := m.bars[code]
	if !ok {
		return domain.Bar{}, nil
	}
	return b, nil
}
func (m *stubMarket) GetCalendar(ctx context.Context, start, end string) ([]string, error) {
	return nil, nil
}
func (m *stubMarket) GetBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error) {
	return domain.BasicInfo{Code: code}, nil
}
func (m *stubMarket) GetHotPool(ctx context.Context, date string) ([]string, []domain.HotSector, error) {
	return nil, nil, nil
}

type stubLLM struct {
	responses []string
	i         int
}

func (c *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if c.i >= len(c.responses) {
		return "[]", nil
	}
	out := c.responses[c.i]
	c.i++
	return out, nil
}

func baseDeps(market *stubMarket, llmClient *stubLLM) Deps {
	return Deps{
		LLM:    llmClient,
		Market: market,
		Config: &config.Config{
			StopLossPct:           8,
			StopProfitPct:         20,
			MaxHoldings:           5,
			MinCashToBuy:          5000,
			AnalyzeStockCount:     10,
			AIConfidenceThreshold: 0.6,
			ReflectionInterval:    5,
		},
		Gates: portfolio.RiskGates{MaxHoldings: 5, CashReservePct: 0.05, SinglePositionPct: 0.4, CashCeilingPct: 0.95},
	}
}

func TestRunForcedStopLossSkipsLLMAndSells(t *testing.T) {
	book := portfolio.NewBook(100000)
	require.NoError(t, book.ApplyBuy("600000", "A", "20240102", "09:30:00", 1000, 10.0, "", domain.ExitPlan{}, portfolio.RiskGates{MaxHoldings: 5, CashReservePct: 0.05, SinglePositionPct: 0.4, CashCeilingPct: 0.95}))
	h := book.Holdings["600000"]
	h.HoldDays = 1
	h.CurrentPrice = 9.0 // -10% from cost, beyond an 8% stop loss
	book.Holdings["600000"] = h

	market := &stubMarket{bars: map[string]domain.Bar{"600000": {Close: 9.0}}}
	llmClient := &stubLLM{responses: []string{"[]"}}

	st := &State{Agent: "test-agent", Date: "20240103", Book: book}
	res := Run(context.Background(), st, baseDeps(market, llmClient), nil)

	require.Nil(t, res.Err)
	_, held := book.Holdings["600000"]
	assert.False(t, held)
	assert.Equal(t, 0, llmClient.i, "forced stop loss must bypass the LLM entirely")
}

func TestRunWithEmptyBookRecordsDailyAssetWithoutError(t *testing.T) {
	book := portfolio.NewBook(100000)
	market := &stubMarket{}
	llmClient := &stubLLM{} // evaluate_holdings skipped (no holdings); find_candidates skipped (no provider)

	st := &State{Agent: "test-agent", Date: "20240103", Book: book}
	res := Run(context.Background(), st, baseDeps(market, llmClient), nil)

	require.Nil(t, res.Err)
	assert.Equal(t, 100000.0, book.Cash)
	require.Len(t, book.DailyAssets, 1)
	assert.Equal(t, "20240103", book.DailyAssets[0].Date)
}

func TestRunCancellationStopsBeforeNextNode(t *testing.T) {
	book := portfolio.NewBook(100000)
	market := &stubMarket{}
	llmClient := &stubLLM{}

	calls := 0
	stop := func() bool {
		calls++
		return calls > 1
	}

	st := &State{Agent: "test-agent", Date: "20240103", Book: book}
	res := Run(context.Background(), st, baseDeps(market, llmClient), stop)

	assert.True(t, res.Cancelled)
}

func TestDecodeDecisionsToleratesAlternateKeysAndFence(t *testing.T) {
	raw := "```json\n[{\"stock\":\"Pudong Bank\",\"action\":\"sell\",\"amount\":\"500\"}]\n```"
	codeForName := map[string]string{"Pudong Bank": "600000"}

	decisions, err := decodeDecisions(raw, codeForName, "")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "600000", decisions[0].code())
	assert.Equal(t, int64(500), decisions[0].amount())
}

func TestShouldReflectFiresOnSameDayLossIndependentlyOfPeak(t *testing.T) {
	book := portfolio.NewBook(100000)
	book.Cash = 96000 // today's total is 4% below yesterday's, but within the 5% drawdown-from-peak trigger
	st := &State{
		Book:       book,
		PeakAssets: 100000,
	}
	st.Book.DailyAssets = []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 96000},
	}
	d := baseDeps(&stubMarket{}, &stubLLM{})
	d.Config.EnableReflection = true

	assert.True(t, shouldReflect(st, d), "a >3%% same-day drop must trigger reflection even without a new peak-drawdown breach")
}

func TestShouldReflectDoesNotFireOnSmallSameDayLoss(t *testing.T) {
	book := portfolio.NewBook(100000)
	book.Cash = 99000 // 1% below yesterday, well under the peak too
	st := &State{
		Book:       book,
		PeakAssets: 100000,
	}
	st.Book.DailyAssets = []domain.DailyAssetPoint{
		{Date: "20240102", TotalAssets: 100000},
		{Date: "20240103", TotalAssets: 99000},
	}
	d := baseDeps(&stubMarket{}, &stubLLM{})
	d.Config.EnableReflection = true
	d.Config.ReflectionInterval = 0

	assert.False(t, shouldReflect(st, d))
}

func TestDecodeDecisionsSingleHoldingAutoInfer(t *testing.T) {
	raw := `[{"action":"sell","amount":100}]`
	decisions, err := decodeDecisions(raw, nil, "600000")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "600000", decisions[0].code())
}
