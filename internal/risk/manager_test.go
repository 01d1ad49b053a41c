package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/internal/strategy"
)

func testSettings() Settings {
	return Settings{
		MaxRiskPct:          1.0,
		MaxRiskUSD:          500,
		MaxOpenPositions:    1,
		MaxDailyDrawdownPct: 3.0,
		MaxDailyLossUSD:     300,
		MaxTradesPerDay:     3,
		CooldownMinutes:     15,

		TrailActivationATRMultiple: 1.5,
		TrailDistanceATRMultiple:   1.0,
	}
}

func at(day, hour int) time.Time {
	return time.Date(2026, 8, day, hour, 0, 0, 0, time.UTC)
}

func TestSizePositionScenario(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	sig := &strategy.Signal{
		Direction:  strategy.DirectionLong,
		EntryPrice: 2340.00,
		StopLoss:   2338.50,
	}
	// 风险额度 = min(10000×1%, 500) = 100；止损距离 1.50 ⇒ 66 个单位。
	assert.Equal(t, 66.0, m.SizePosition(sig))
}

func TestSizePositionZeroStopDistance(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	sig := &strategy.Signal{EntryPrice: 2340, StopLoss: 2340}
	assert.Equal(t, 0.0, m.SizePosition(sig))
	assert.Equal(t, 0.0, m.SizePosition(nil))
}

func TestSizePositionUSDCap(t *testing.T) {
	m := NewManager(testSettings(), 100_000)
	sig := &strategy.Signal{EntryPrice: 100, StopLoss: 99}
	// 10 万净值按 1% 是 1000，被 500 上限截断。
	assert.Equal(t, 500.0, m.SizePosition(sig))
}

func TestCanOpenTradeCheckOrder(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	now := at(10, 9)

	d := m.CanOpenTrade(1, now)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "最大持仓数")

	// 回撤百分比先于绝对亏损命中。
	m.RecordTradeClosed(-301)
	d = m.CanOpenTrade(0, now)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "回撤")
}

func TestCanOpenTradeDailyLossUSD(t *testing.T) {
	cfg := testSettings()
	cfg.MaxDailyDrawdownPct = 50
	m := NewManager(cfg, 10_000)
	m.RecordTradeClosed(-300)
	d := m.CanOpenTrade(0, at(10, 9))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "日内亏损")
}

func TestCanOpenTradeCooldownAndTradeCap(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	now := at(10, 9)
	require.True(t, m.CanOpenTrade(0, now).Allowed)

	m.RecordTradeOpened(now)
	d := m.CanOpenTrade(0, now.Add(5*time.Minute))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "冷却")

	assert.True(t, m.CanOpenTrade(0, now.Add(16*time.Minute)).Allowed)

	m.RecordTradeOpened(now.Add(20 * time.Minute))
	m.RecordTradeOpened(now.Add(40 * time.Minute))
	d = m.CanOpenTrade(0, now.Add(2*time.Hour))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "单日最大开仓数")
}

func TestDailyResetIdempotent(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	day1 := at(10, 9)
	m.CanOpenTrade(0, day1)
	m.RecordTradeOpened(day1)
	m.RecordTradeClosed(-200)
	assert.Equal(t, -200.0, m.DailyPnL())
	assert.Equal(t, 1, m.DailyTrades())

	// 同日重复检查不触发重置。
	m.CanOpenTrade(0, day1.Add(6*time.Hour))
	assert.Equal(t, -200.0, m.DailyPnL())

	// 跨日边界恰好重置一次，且幂等。
	day2 := at(11, 0)
	m.CanOpenTrade(0, day2)
	assert.Equal(t, 0.0, m.DailyPnL())
	assert.Equal(t, 0, m.DailyTrades())

	m.RecordTradeClosed(-50)
	m.CanOpenTrade(0, day2.Add(3*time.Hour))
	assert.Equal(t, -50.0, m.DailyPnL())
}

// 首次准入检查不得清掉此前累计的日内状态，重置只发生在真实跨日边界。
func TestDailyLimitsSurvivePreCheckLosses(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	m.RecordTradeOpened(at(10, 9))
	m.RecordTradeClosed(-200)

	m.CanOpenTrade(0, at(10, 10))
	assert.Equal(t, -200.0, m.DailyPnL())
	assert.Equal(t, 1, m.DailyTrades())

	m.CanOpenTrade(0, at(11, 1))
	assert.Equal(t, 0.0, m.DailyPnL())
	assert.Equal(t, 0, m.DailyTrades())
}

func TestRecordEquity(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	m.RecordEquity(10_500)
	assert.Equal(t, 10_500.0, m.Equity())
	assert.Equal(t, 10_500.0, m.PeakEquity())

	m.RecordEquity(10_100)
	assert.Equal(t, 10_100.0, m.Equity())
	assert.Equal(t, 10_500.0, m.PeakEquity())

	m.RecordEquity(math.NaN())
	m.RecordEquity(-5)
	assert.Equal(t, 10_100.0, m.Equity())
}

func TestTrailStopActivation(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	entry, atr, stop := 2340.0, 1.2, 2338.2

	// 浮盈不足激活倍数（1.5×1.2=1.8）时原样返回。
	assert.Equal(t, stop, m.TrailStop(strategy.DirectionLong, entry, 2341.0, atr, stop))

	// 激活后取保本偏移与回撤位中对持仓更有利者。
	got := m.TrailStop(strategy.DirectionLong, entry, 2342.0, atr, stop)
	assert.Greater(t, got, stop)
	// 止损位原样下发交易所，结果必须是精确的十进制值。
	assert.Equal(t, 2340.8, got)
	assert.Equal(t, 2341.2, m.TrailStop(strategy.DirectionLong, entry, 2342.4, atr, stop))
}

func TestTrailStopMonotonic(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	entry, atr := 2340.0, 1.2
	stop := 2338.2
	for _, price := range []float64{2341, 2342.5, 2344, 2343, 2346, 2345.5} {
		next := m.TrailStop(strategy.DirectionLong, entry, price, atr, stop)
		assert.GreaterOrEqual(t, next, stop, "price %.1f", price)
		stop = next
	}

	stop = 2341.8
	for _, price := range []float64{2339, 2337.5, 2336, 2337, 2334} {
		next := m.TrailStop(strategy.DirectionShort, entry, price, atr, stop)
		assert.LessOrEqual(t, next, stop, "price %.1f", price)
		stop = next
	}
}

func TestTrailStopShort(t *testing.T) {
	m := NewManager(testSettings(), 10_000)
	entry, atr, stop := 2340.0, 1.2, 2341.8

	assert.Equal(t, stop, m.TrailStop(strategy.DirectionShort, entry, 2339.0, atr, stop))

	got := m.TrailStop(strategy.DirectionShort, entry, 2338.0, atr, stop)
	assert.InDelta(t, 2339.2, got, 1e-9)
	assert.Less(t, got, stop)

	// 无效输入不移动止损。
	assert.Equal(t, stop, m.TrailStop(strategy.DirectionShort, entry, 2338.0, 0, stop))
}
