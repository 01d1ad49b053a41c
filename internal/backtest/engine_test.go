package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/internal/analysis/feature"
	"aurum/internal/market"
	"aurum/internal/risk"
	"aurum/internal/strategy"
)

func testEngineSettings() EngineSettings {
	return EngineSettings{
		ExecutionTimeframe: "1m",
		HigherTimeframe:    "5m",
		InitialEquity:      10_000,
		Spread:             0.2,
		Commission:         1,
		Strategy: strategy.Settings{
			MinATR:             0.0001,
			MaxATR:             1e9,
			MinConfluenceScore: 1,
			MinRiskReward:      1.0,
			SLATRMultiple:      1.5,
			TPRewardMultiple:   2.0,
			MinStopATRMultiple: 0.5,
			DivergenceLookback: 8,
		},
		Feature: feature.Settings{
			EMAFast: 3, EMASlow: 5, EMATrend: 8,
			RSIPeriod: 5, RSISlopeWindow: 2,
			MACDFast: 3, MACDSlow: 6, MACDSignal: 3,
			StochFastK: 5, StochSlowK: 2, StochSlowD: 2,
			ATRPeriod: 5, BBPeriod: 5, BBStdDev: 2,
			SwingWindow: 2, DivergenceLookback: 8,
		},
		Risk: risk.Settings{
			MaxRiskPct:          1,
			MaxRiskUSD:          500,
			MaxOpenPositions:    1,
			MaxDailyDrawdownPct: 90,
			MaxDailyLossUSD:     1e9,
			MaxTradesPerDay:     1000,
			CooldownMinutes:     1,
		},
	}
}

func syntheticCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 200.0
	for i := 0; i < n; i++ {
		drift := math.Sin(float64(i)/17)*6 + math.Sin(float64(i)/5)*2
		open := price
		close := 200 + drift
		high := math.Max(open, close) + 0.8
		low := math.Min(open, close) - 0.8
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    100 + float64(i%7),
		}
		price = close
	}
	return out
}

func TestEngineInsufficientData(t *testing.T) {
	e, err := NewEngine(testEngineSettings())
	require.NoError(t, err)
	_, err = e.Run(syntheticCandles(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

// 执行周期满足热身但聚合后的高周期不足以算出趋势均线时，
// 必须报数据不足错误而不是把过短序列喂给指标计算。
func TestEngineInsufficientHigherTimeframeData(t *testing.T) {
	e, err := NewEngine(testEngineSettings())
	require.NoError(t, err)

	candles := syntheticCandles(25)
	require.GreaterOrEqual(t, len(candles), e.WarmupBars()+warmupBuffer)

	_, err = e.Run(candles)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEngineDeterminism(t *testing.T) {
	candles := syntheticCandles(600)
	e, err := NewEngine(testEngineSettings())
	require.NoError(t, err)

	a, err := e.Run(candles)
	require.NoError(t, err)
	b, err := e.Run(candles)
	require.NoError(t, err)

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	assert.Equal(t, a.Metrics, b.Metrics)
}

// 截断输入不得改变截断点之前已经闭合的交易：任何 bar 的决策
// 只能依赖不晚于该 bar 的数据。
func TestEngineNoLookahead(t *testing.T) {
	candles := syntheticCandles(600)
	e, err := NewEngine(testEngineSettings())
	require.NoError(t, err)

	full, err := e.Run(candles)
	require.NoError(t, err)
	partial, err := e.Run(candles[:400])
	require.NoError(t, err)

	fullByEntry := make(map[int64]Trade, len(full.Trades))
	for _, tr := range full.Trades {
		fullByEntry[tr.EntryTime] = tr
	}
	for _, tr := range partial.Trades {
		if tr.CloseReason == CloseReasonEndOfData {
			continue
		}
		match, ok := fullByEntry[tr.EntryTime]
		require.True(t, ok, "截断后的交易在完整序列中缺失 entry=%d", tr.EntryTime)
		assert.Equal(t, match, tr)
	}

	// 资金曲线在首个分歧交易之前逐点一致。
	limit := len(partial.EquityCurve)
	if len(full.EquityCurve) < limit {
		limit = len(full.EquityCurve)
	}
	for i := 0; i < limit; i++ {
		if full.EquityCurve[i] != partial.EquityCurve[i] {
			break
		}
		assert.Equal(t, full.EquityCurve[i], partial.EquityCurve[i])
	}
}

func TestEngineEquityCurveCoversEveryBar(t *testing.T) {
	candles := syntheticCandles(300)
	e, err := NewEngine(testEngineSettings())
	require.NoError(t, err)
	res, err := e.Run(candles)
	require.NoError(t, err)

	warm := e.WarmupBars()
	require.GreaterOrEqual(t, len(res.EquityCurve), len(candles)-1-warm)
	for i := 1; i < len(res.EquityCurve); i++ {
		assert.Greater(t, res.EquityCurve[i].Time, res.EquityCurve[i-1].Time)
	}
}

func TestCheckExitStopBeatsTarget(t *testing.T) {
	long := &openPosition{
		direction:  strategy.DirectionLong,
		entryPrice: 100,
		stopLoss:   98,
		takeProfit: 104,
		units:      10,
	}
	// 下一根 bar 同时扫过止损与止盈：保守裁决取止损。
	next := market.Candle{Open: 100, High: 105, Low: 97, Close: 101}
	price, reason, hit := checkExit(long, next)
	require.True(t, hit)
	assert.Equal(t, CloseReasonStopLoss, reason)
	assert.Equal(t, 98.0, price)

	short := &openPosition{
		direction:  strategy.DirectionShort,
		entryPrice: 100,
		stopLoss:   102,
		takeProfit: 96,
		units:      10,
	}
	price, reason, hit = checkExit(short, next)
	require.True(t, hit)
	assert.Equal(t, CloseReasonStopLoss, reason)
	assert.Equal(t, 102.0, price)

	// 两者都未触及。
	calm := market.Candle{Open: 100, High: 101, Low: 99, Close: 100}
	_, _, hit = checkExit(long, calm)
	assert.False(t, hit)
}

func TestFillPriceAndPnL(t *testing.T) {
	assert.Equal(t, 100.1, fillPrice(strategy.DirectionLong, 100, 0.2))
	assert.Equal(t, 99.9, fillPrice(strategy.DirectionShort, 100, 0.2))

	long := &openPosition{direction: strategy.DirectionLong, entryPrice: 100, units: 10}
	assert.Equal(t, 40.0, realizedPnL(long, 104))
	assert.Equal(t, -20.0, realizedPnL(long, 98))

	short := &openPosition{direction: strategy.DirectionShort, entryPrice: 100, units: 10}
	assert.Equal(t, 40.0, realizedPnL(short, 96))
}

func TestClosedTradeRMultiple(t *testing.T) {
	pos := &openPosition{
		entryTime:  1,
		direction:  strategy.DirectionLong,
		entryPrice: 100,
		stopLoss:   98,
		takeProfit: 104,
		units:      10,
	}
	tr := closedTrade(pos, 2, 104, 40, CloseReasonTakeProfit)
	assert.InDelta(t, 2.0, tr.RMultiple, 1e-9)

	tr = closedTrade(pos, 2, 98, -20, CloseReasonStopLoss)
	assert.InDelta(t, -1.0, tr.RMultiple, 1e-9)
}

func TestInSession(t *testing.T) {
	cfg := testEngineSettings()
	cfg.SessionStartHour = 8
	cfg.SessionEndHour = 16
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	atHour := func(h int) int64 { return int64(h) * 3_600_000 }
	assert.True(t, e.inSession(atHour(8)))
	assert.True(t, e.inSession(atHour(15)))
	assert.False(t, e.inSession(atHour(16)))
	assert.False(t, e.inSession(atHour(3)))

	// 跨午夜时段。
	cfg.SessionStartHour = 22
	cfg.SessionEndHour = 4
	e2, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.True(t, e2.inSession(atHour(23)))
	assert.True(t, e2.inSession(atHour(2)))
	assert.False(t, e2.inSession(atHour(12)))
}
