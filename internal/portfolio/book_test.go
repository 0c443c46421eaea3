package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-engine/internal/domain"
)

func defaultGates() RiskGates {
	return RiskGates{
		MaxHoldings:       5,
		CashReservePct:    0.05,
		SinglePositionPct: 0.40,
		CashCeilingPct:    0.95,
	}
}

func TestApplyBuyMergesAndRecomputesAverageCost(t *testing.T) {
	b := NewBook(100000)

	err := b.ApplyBuy("600000", "Pudong Bank", "20240102", "09:30:00", 1000, 10.0, "initial buy", domain.ExitPlan{}, defaultGates())
	require.NoError(t, err)

	err = b.ApplyBuy("600000", "Pudong Bank", "20240103", "09:30:00", 1000, 12.0, "add on", domain.ExitPlan{}, defaultGates())
	require.NoError(t, err)

	h := b.Holdings["600000"]
	assert.Equal(t, int64(2000), h.Amount)
	assert.InDelta(t, 11.0, h.Cost, 0.0001)
	assert.Len(t, b.Trades, 2)
}

func TestApplyBuyRejectsWhenMaxHoldingsReached(t *testing.T) {
	b := NewBook(100000)
	gates := defaultGates()
	gates.MaxHoldings = 1

	require.NoError(t, b.ApplyBuy("600000", "A", "20240102", "09:30:00", 100, 10.0, "", domain.ExitPlan{}, gates))

	err := b.ApplyBuy("600001", "B", "20240102", "09:30:00", 100, 10.0, "", domain.ExitPlan{}, gates)
	require.Error(t, err)
	_, exists := b.Holdings["600001"]
	assert.False(t, exists)
}

func TestApplyBuyRejectsBelowCashReserve(t *testing.T) {
	b := NewBook(10000)
	gates := defaultGates()

	err := b.ApplyBuy("600000", "A", "20240102", "09:30:00", 9900, 1.0, "", domain.ExitPlan{}, gates)
	require.Error(t, err)
	assert.Equal(t, 10000.0, b.Cash)
}

func TestApplyBuyRejectsSinglePositionCapBreach(t *testing.T) {
	b := NewBook(100000)
	gates := defaultGates()

	err := b.ApplyBuy("600000", "A", "20240102", "09:30:00", 40100, 1.0, "", domain.ExitPlan{}, gates)
	require.Error(t, err)
	_, exists := b.Holdings["600000"]
	assert.False(t, exists)
}

func TestApplySellRejectsSameDayHold(t *testing.T) {
	b := NewBook(100000)
	require.NoError(t, b.ApplyBuy("600000", "A", "20240102", "09:30:00", 1000, 10.0, "", domain.ExitPlan{}, defaultGates()))

	err := b.ApplySell("600000", "A", "20240102", "14:00:00", 1000, 11.0, "same day")
	require.Error(t, err)
}

func TestApplySellComputesFeesAndProfit(t *testing.T) {
	b := NewBook(100000)
	require.NoError(t, b.ApplyBuy("600000", "A", "20240102", "09:30:00", 1000, 10.0, "", domain.ExitPlan{}, defaultGates()))

	h := b.Holdings["600000"]
	h.HoldDays = 1
	b.Holdings["600000"] = h

	cashBefore := b.Cash
	err := b.ApplySell("600000", "A", "20240103", "14:00:00", 1000, 11.0, "take profit")
	require.NoError(t, err)

	total := 1000.0 * 11.0
	commission := Commission(total)
	stampTax := StampTax(total)
	netIncome := total - commission - stampTax

	assert.InDelta(t, cashBefore+netIncome, b.Cash, 0.001)
	_, exists := b.Holdings["600000"]
	assert.False(t, exists)

	trade := b.Trades[len(b.Trades)-1]
	assert.Equal(t, domain.ActionSell, trade.Action)
	assert.InDelta(t, netIncome-10.0*1000, trade.Profit, 0.001)
}

func TestApplySellPartialKeepsRemainderAtSameCost(t *testing.T) {
	b := NewBook(100000)
	require.NoError(t, b.ApplyBuy("600000", "A", "20240102", "09:30:00", 1000, 10.0, "", domain.ExitPlan{}, defaultGates()))

	h := b.Holdings["600000"]
	h.HoldDays = 1
	b.Holdings["600000"] = h

	require.NoError(t, b.ApplySell("600000", "A", "20240103", "14:00:00", 400, 11.0, "partial"))

	remaining := b.Holdings["600000"]
	assert.Equal(t, int64(600), remaining.Amount)
	assert.InDelta(t, 10.0, remaining.Cost, 0.0001)
}

func TestAppendDailyAssetPointRejectsOutOfOrderDate(t *testing.T) {
	b := NewBook(100000)
	require.NoError(t, b.AppendDailyAssetPoint("20240103"))

	err := b.AppendDailyAssetPoint("20240102")
	require.Error(t, err)
	assert.Len(t, b.DailyAssets, 1)
}

func TestNegativeCashRollsBackToPreOpSnapshot(t *testing.T) {
	b := NewBook(1000)
	gates := RiskGates{MaxHoldings: 5, CashReservePct: -1, SinglePositionPct: 1, CashCeilingPct: 1}

	err := b.ApplyBuy("600000", "A", "20240102", "09:30:00", 1000, 2.0, "", domain.ExitPlan{}, gates)
	require.Error(t, err)
	assert.Equal(t, 1000.0, b.Cash)
	assert.Empty(t, b.Holdings)
	assert.Empty(t, b.Trades)
}
