package feature

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"aurum/internal/market"
)

// TrendDirection 表示均线结构给出的趋势方向。
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// Settings 描述派生特征所需的全部指标参数。
type Settings struct {
	EMAFast  int `toml:"ema_fast"`
	EMASlow  int `toml:"ema_slow"`
	EMATrend int `toml:"ema_trend"`

	RSIPeriod      int `toml:"rsi_period"`
	RSISlopeWindow int `toml:"rsi_slope_window"`

	MACDFast   int `toml:"macd_fast"`
	MACDSlow   int `toml:"macd_slow"`
	MACDSignal int `toml:"macd_signal"`

	StochFastK int `toml:"stoch_fast_k"`
	StochSlowK int `toml:"stoch_slow_k"`
	StochSlowD int `toml:"stoch_slow_d"`

	ATRPeriod int     `toml:"atr_period"`
	BBPeriod  int     `toml:"bb_period"`
	BBStdDev  float64 `toml:"bb_std_dev"`

	SwingWindow        int `toml:"swing_window"`
	DivergenceLookback int `toml:"divergence_lookback"`
}

// Normalize 为零值字段填入默认参数。
func (s *Settings) Normalize() {
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.EMATrend <= 0 {
		s.EMATrend = 200
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.RSISlopeWindow <= 0 {
		s.RSISlopeWindow = 3
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.StochFastK <= 0 {
		s.StochFastK = 14
	}
	if s.StochSlowK <= 0 {
		s.StochSlowK = 3
	}
	if s.StochSlowD <= 0 {
		s.StochSlowD = 3
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.BBPeriod <= 0 {
		s.BBPeriod = 20
	}
	if s.BBStdDev <= 0 {
		s.BBStdDev = 2
	}
	if s.SwingWindow <= 0 {
		s.SwingWindow = 5
	}
	if s.DivergenceLookback <= 0 {
		s.DivergenceLookback = 20
	}
}

// WarmupBars 返回最慢特征就绪所需的最小 bar 数。
func (s Settings) WarmupBars() int {
	warm := s.EMATrend
	if v := s.MACDSlow + s.MACDSignal; v > warm {
		warm = v
	}
	if v := s.BBPeriod; v > warm {
		warm = v
	}
	if v := s.ATRPeriod + 1; v > warm {
		warm = v
	}
	if v := s.StochFastK + s.StochSlowK + s.StochSlowD; v > warm {
		warm = v
	}
	if v := s.RSIPeriod + s.RSISlopeWindow; v > warm {
		warm = v
	}
	if v := 2*s.SwingWindow + 1; v > warm {
		warm = v
	}
	if v := s.DivergenceLookback; v > warm {
		warm = v
	}
	return warm
}

// Bar 是被派生特征富化后的 K 线。warm-up 阶段的派生字段统一为 NaN，
// 消费方必须通过 Ready 判断后才能使用。
type Bar struct {
	market.Candle

	EMAFast  float64
	EMASlow  float64
	EMATrend float64

	RSI      float64
	RSISlope float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	StochK float64
	StochD float64

	ATR float64

	BBUpper float64
	BBMid   float64
	BBLower float64
	// BBPos 为收盘价在带内的归一化位置（lower=0, upper=1）。
	BBPos float64

	// SwingHighConfirmed / SwingLowConfirmed 在确认 bar（枢轴后 window 根）
	// 上置位；LastSwingHigh / LastSwingLow 自确认点起向前填充，是消费方
	// 唯一应读取的结构位，保证无前视。
	SwingHighConfirmed bool
	SwingLowConfirmed  bool
	LastSwingHigh      float64
	LastSwingLow       float64

	Trend TrendDirection
}

// Ready 判断给定派生值是否全部就绪（非 NaN / Inf）。
func Ready(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Enrich 计算整条序列的派生特征。所有指标均为因果函数：索引 i 的值只依赖
// 索引 <= i 的输入，因此先整体计算再切片不会引入前视。
func Enrich(candles []market.Candle, cfg Settings) ([]Bar, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}
	cfg.Normalize()
	n := len(candles)
	bars := make([]Bar, n)
	if n == 0 {
		return bars, nil
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		bars[i].Candle = c
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	emaFast := emaColumn(closes, cfg.EMAFast)
	emaSlow := emaColumn(closes, cfg.EMASlow)
	emaTrend := emaColumn(closes, cfg.EMATrend)
	rsi := rsiColumn(closes, cfg.RSIPeriod)
	macd, macdSig, macdHist := macdColumns(closes, cfg)
	stochK, stochD := stochColumns(highs, lows, closes, cfg)
	atr := atrColumn(highs, lows, closes, cfg.ATRPeriod)
	bbUp, bbMid, bbLow := bbandsColumns(closes, cfg)

	for i := 0; i < n; i++ {
		b := &bars[i]
		b.EMAFast = emaFast[i]
		b.EMASlow = emaSlow[i]
		b.EMATrend = emaTrend[i]
		b.RSI = rsi[i]
		b.RSISlope = math.NaN()
		if i >= cfg.RSISlopeWindow && Ready(rsi[i], rsi[i-cfg.RSISlopeWindow]) {
			b.RSISlope = (rsi[i] - rsi[i-cfg.RSISlopeWindow]) / float64(cfg.RSISlopeWindow)
		}
		b.MACD = macd[i]
		b.MACDSignal = macdSig[i]
		b.MACDHist = macdHist[i]
		b.StochK = stochK[i]
		b.StochD = stochD[i]
		b.ATR = atr[i]
		b.BBUpper = bbUp[i]
		b.BBMid = bbMid[i]
		b.BBLower = bbLow[i]
		b.BBPos = math.NaN()
		if Ready(bbUp[i], bbLow[i]) && bbUp[i] > bbLow[i] {
			b.BBPos = (closes[i] - bbLow[i]) / (bbUp[i] - bbLow[i])
		}
		b.Trend = classifyTrend(closes[i], emaFast[i], emaSlow[i], emaTrend[i])
	}

	applySwings(bars, cfg.SwingWindow)
	return bars, nil
}

// classifyTrend 依据均线堆叠与价格位置分类趋势方向。
func classifyTrend(close, fast, slow, trend float64) TrendDirection {
	if !Ready(fast, slow, trend) {
		return TrendNeutral
	}
	switch {
	case close > trend && fast > slow:
		return TrendBullish
	case close < trend && fast < slow:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// maskWarmup 将 talib 输出里 warm-up 段的占位值替换为 NaN。
func maskWarmup(series []float64, lookback int) []float64 {
	for i := 0; i < len(series) && i < lookback; i++ {
		series[i] = math.NaN()
	}
	return series
}

// nanColumn 构造一列全 NaN 的派生值。序列短于指标 lookback 时不能把输入
// 交给 talib（会越界），此时整列视为未就绪。
func nanColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func emaColumn(series []float64, period int) []float64 {
	if len(series) < period {
		return nanColumn(len(series))
	}
	return maskWarmup(talib.Ema(series, period), period-1)
}

func rsiColumn(series []float64, period int) []float64 {
	if len(series) <= period {
		return nanColumn(len(series))
	}
	return maskWarmup(talib.Rsi(series, period), period)
}

func macdColumns(series []float64, cfg Settings) (macd, sig, hist []float64) {
	warm := cfg.MACDSlow + cfg.MACDSignal - 2
	if len(series) <= warm {
		n := len(series)
		return nanColumn(n), nanColumn(n), nanColumn(n)
	}
	macd, sig, hist = talib.Macd(series, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	return maskWarmup(macd, warm), maskWarmup(sig, warm), maskWarmup(hist, warm)
}

func stochColumns(highs, lows, closes []float64, cfg Settings) (k, d []float64) {
	warm := cfg.StochFastK + cfg.StochSlowK + cfg.StochSlowD - 3
	if len(closes) <= warm {
		n := len(closes)
		return nanColumn(n), nanColumn(n)
	}
	k, d = talib.Stoch(highs, lows, closes, cfg.StochFastK, cfg.StochSlowK, talib.SMA, cfg.StochSlowD, talib.SMA)
	return maskWarmup(k, warm), maskWarmup(d, warm)
}

func atrColumn(highs, lows, closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nanColumn(len(closes))
	}
	return maskWarmup(talib.Atr(highs, lows, closes, period), period)
}

func bbandsColumns(series []float64, cfg Settings) (up, mid, low []float64) {
	if len(series) < cfg.BBPeriod {
		n := len(series)
		return nanColumn(n), nanColumn(n), nanColumn(n)
	}
	up, mid, low = talib.BBands(series, cfg.BBPeriod, cfg.BBStdDev, cfg.BBStdDev, talib.SMA)
	return maskWarmup(up, cfg.BBPeriod-1), maskWarmup(mid, cfg.BBPeriod-1), maskWarmup(low, cfg.BBPeriod-1)
}
