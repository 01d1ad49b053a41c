package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum/internal/market"
)

func makeCandles(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i+1)*3_600_000 - 1,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

func TestEnrichWarmupIsNaN(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/7)*5
	}
	var cfg Settings
	cfg.Normalize()
	bars, err := Enrich(makeCandles(closes), cfg)
	require.NoError(t, err)
	require.Len(t, bars, 300)

	assert.True(t, math.IsNaN(bars[0].EMAFast))
	assert.True(t, math.IsNaN(bars[cfg.RSIPeriod-1].RSI))
	assert.True(t, math.IsNaN(bars[cfg.EMATrend-2].EMATrend))
	assert.False(t, math.IsNaN(bars[299].EMATrend))
	assert.False(t, math.IsNaN(bars[299].RSI))
	assert.False(t, math.IsNaN(bars[299].MACDHist))
	assert.False(t, math.IsNaN(bars[299].ATR))
	assert.False(t, math.IsNaN(bars[299].StochK))
	assert.False(t, math.IsNaN(bars[299].BBPos))

	warm := cfg.WarmupBars()
	assert.GreaterOrEqual(t, warm, cfg.EMATrend)
	for _, b := range bars[warm:] {
		assert.True(t, Ready(b.EMAFast, b.EMASlow, b.EMATrend, b.RSI, b.ATR))
	}
}

// 序列短于最慢指标周期时各派生列必须整列 NaN：talib 对过短输入会越界,
// 这类输入只能得到未就绪的特征，不能崩溃。
func TestEnrichShortSeriesAllNaN(t *testing.T) {
	var cfg Settings
	cfg.Normalize()

	for _, n := range []int{1, 5, 25, cfg.EMATrend - 1} {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 100 + float64(i)
		}
		bars, err := Enrich(makeCandles(closes), cfg)
		require.NoError(t, err)
		require.Len(t, bars, n)
		last := bars[n-1]
		assert.True(t, math.IsNaN(last.EMATrend), "n=%d", n)
		assert.False(t, Ready(last.EMAFast, last.EMASlow, last.EMATrend,
			last.RSI, last.MACDHist, last.StochK, last.ATR, last.BBPos), "n=%d", n)
		assert.Equal(t, TrendNeutral, last.Trend)
	}
}

func TestEnrichCausality(t *testing.T) {
	closes := make([]float64, 260)
	for i := range closes {
		closes[i] = 50 + float64(i%13) + math.Cos(float64(i)/5)*3
	}
	candles := makeCandles(closes)
	var cfg Settings
	full, err := Enrich(candles, cfg)
	require.NoError(t, err)
	cut := 240
	partial, err := Enrich(candles[:cut], cfg)
	require.NoError(t, err)

	// 截断后缀不得改变前缀上的任何派生值。
	for i := 0; i < cut; i++ {
		assertSameFloat(t, full[i].EMAFast, partial[i].EMAFast)
		assertSameFloat(t, full[i].RSI, partial[i].RSI)
		assertSameFloat(t, full[i].MACDHist, partial[i].MACDHist)
		assertSameFloat(t, full[i].ATR, partial[i].ATR)
		assert.Equal(t, full[i].SwingHighConfirmed, partial[i].SwingHighConfirmed)
		assertSameFloat(t, full[i].LastSwingHigh, partial[i].LastSwingHigh)
	}
}

func assertSameFloat(t *testing.T, a, b float64) {
	t.Helper()
	if math.IsNaN(a) {
		assert.True(t, math.IsNaN(b))
		return
	}
	assert.InDelta(t, a, b, 1e-9)
}

func TestSwingConfirmationLag(t *testing.T) {
	// 在索引 10 制造一个明显的摆动高点，window=3 时应在索引 13 确认。
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	candles := makeCandles(closes)
	for i := range candles {
		candles[i].High = 101
		candles[i].Low = 99
	}
	candles[10].High = 110

	bars := make([]Bar, len(candles))
	for i, c := range candles {
		bars[i].Candle = c
	}
	applySwings(bars, 3)

	assert.False(t, bars[10].SwingHighConfirmed)
	assert.False(t, bars[12].SwingHighConfirmed)
	assert.True(t, bars[13].SwingHighConfirmed)
	assert.True(t, math.IsNaN(bars[12].LastSwingHigh))
	assert.Equal(t, 110.0, bars[13].LastSwingHigh)
	assert.Equal(t, 110.0, bars[29].LastSwingHigh)
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, TrendBullish, classifyTrend(105, 103, 101, 100))
	assert.Equal(t, TrendBearish, classifyTrend(95, 97, 99, 100))
	assert.Equal(t, TrendNeutral, classifyTrend(105, 101, 103, 100))
	assert.Equal(t, TrendNeutral, classifyTrend(105, math.NaN(), 103, 100))
}

func TestDivergence(t *testing.T) {
	n := 40
	bars := make([]Bar, n)
	for i := range bars {
		bars[i].Close = 100
		bars[i].RSI = 50
	}
	// 前半段低点 90 / RSI 20，后半段更低低点 85 但 RSI 抬高到 30：看涨背离。
	bars[25].Close = 90
	bars[25].RSI = 20
	bars[35].Close = 85
	bars[35].RSI = 30
	assert.Equal(t, DivergenceBullish, Divergence(bars, 39, 20))

	// RSI 同步创新低则没有背离。
	bars[35].RSI = 10
	assert.Equal(t, DivergenceNone, Divergence(bars, 39, 20))

	// 数据不足。
	assert.Equal(t, DivergenceNone, Divergence(bars, 10, 20))
}
