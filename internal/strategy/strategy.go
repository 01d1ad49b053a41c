package strategy

import (
	"fmt"
	"math"

	"aurum/internal/analysis/feature"
)

// Direction 表示信号方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// scoreRejected 是反趋势且无背离确认时的哨兵分，任何阈值都无法通过。
const scoreRejected = math.MinInt32

// Signal 是一次评估产出的交易提案。
type Signal struct {
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	RiskReward    float64   `json:"risk_reward"`
	Score         int       `json:"score"`
	RequiredScore int       `json:"required_score"`
	CounterTrend  bool      `json:"counter_trend"`
	Reasons       []string  `json:"reasons"`
	BarTime       int64     `json:"bar_time"`
}

// Settings 是信号生成器的全部可调参数，构造后不可变。
type Settings struct {
	MinATR             float64 `toml:"min_atr"`
	MaxATR             float64 `toml:"max_atr"`
	MinConfluenceScore int     `toml:"min_confluence_score"`
	MinRiskReward      float64 `toml:"min_risk_reward"`
	SLATRMultiple      float64 `toml:"sl_atr_multiple"`
	TPRewardMultiple   float64 `toml:"tp_reward_multiple"`
	MinStopATRMultiple float64 `toml:"min_stop_atr_multiple"`

	StochOverbought float64 `toml:"stoch_overbought"`
	StochOversold   float64 `toml:"stoch_oversold"`
	RSIOverbought   float64 `toml:"rsi_overbought"`
	RSIOversold     float64 `toml:"rsi_oversold"`
	BBProximityPct  float64 `toml:"bb_proximity_pct"`

	DivergenceLookback int `toml:"divergence_lookback"`
}

// Normalize 为零值字段填入默认参数。
func (s *Settings) Normalize() {
	if s.MinATR <= 0 {
		s.MinATR = 0.0001
	}
	if s.MaxATR <= 0 {
		s.MaxATR = math.MaxFloat64
	}
	if s.MinConfluenceScore <= 0 {
		s.MinConfluenceScore = 3
	}
	if s.MinRiskReward <= 0 {
		s.MinRiskReward = 1.5
	}
	if s.SLATRMultiple <= 0 {
		s.SLATRMultiple = 1.5
	}
	if s.TPRewardMultiple <= 0 {
		s.TPRewardMultiple = 2.0
	}
	if s.MinStopATRMultiple <= 0 {
		s.MinStopATRMultiple = 0.5
	}
	if s.StochOverbought <= 0 {
		s.StochOverbought = 80
	}
	if s.StochOversold <= 0 {
		s.StochOversold = 20
	}
	if s.RSIOverbought <= 0 {
		s.RSIOverbought = 70
	}
	if s.RSIOversold <= 0 {
		s.RSIOversold = 30
	}
	if s.BBProximityPct <= 0 {
		s.BBProximityPct = 0.15
	}
	if s.DivergenceLookback <= 0 {
		s.DivergenceLookback = 20
	}
}

// Validate 检查参数区间，仅针对 Normalize 无法修正的组合错误。
func (s Settings) Validate() error {
	if s.MaxATR < s.MinATR {
		return fmt.Errorf("strategy.max_atr must be >= min_atr")
	}
	if s.StochOversold >= s.StochOverbought {
		return fmt.Errorf("strategy.stoch_oversold must be below stoch_overbought")
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("strategy.rsi_oversold must be below rsi_overbought")
	}
	if s.DivergenceLookback < 4 {
		return fmt.Errorf("strategy.divergence_lookback must be >= 4")
	}
	return nil
}

// Generator 在富化后的 bar 窗口上做共振打分并构造交易提案。
// 无状态，可被多个 goroutine 并发调用。
type Generator struct {
	cfg     Settings
	feature feature.Settings
}

// NewGenerator 构造生成器，参数在此处规范化一次。
func NewGenerator(cfg Settings, featureCfg feature.Settings) *Generator {
	cfg.Normalize()
	featureCfg.Normalize()
	return &Generator{cfg: cfg, feature: featureCfg}
}

// WarmupBars 返回评估所需的最小窗口长度。
func (g *Generator) WarmupBars() int {
	warm := g.feature.WarmupBars()
	if g.cfg.DivergenceLookback > warm {
		warm = g.cfg.DivergenceLookback
	}
	return warm
}

// HTFWarmupBars 返回高周期趋势判定就绪所需的最小窗口长度。
func (g *Generator) HTFWarmupBars() int {
	return g.feature.EMATrend
}

// Evaluate 对窗口末尾的 bar 做一次评估。所有拒绝路径都返回 nil，
// 调用方不需要区分「数据不足」和「条件不满足」。
func (g *Generator) Evaluate(bars, htfBars []feature.Bar) *Signal {
	if len(bars) < g.WarmupBars() || len(htfBars) < g.HTFWarmupBars() {
		return nil
	}
	last := bars[len(bars)-1]
	htfLast := htfBars[len(htfBars)-1]

	// 高周期趋势未就绪时不发信号：中性降级会悄悄放松逆势硬拒绝。
	if !feature.Ready(htfLast.EMAFast, htfLast.EMASlow, htfLast.EMATrend) {
		return nil
	}

	// 死市 / 新闻尖峰过滤。
	if !feature.Ready(last.ATR) || last.ATR < g.cfg.MinATR || last.ATR > g.cfg.MaxATR {
		return nil
	}

	htfTrend := htfLast.Trend
	div := feature.Divergence(bars, len(bars)-1, g.cfg.DivergenceLookback)

	longScore, longReasons := g.scoreDirection(bars, DirectionLong, htfTrend, div)
	shortScore, shortReasons := g.scoreDirection(bars, DirectionShort, htfTrend, div)

	longRequired := g.requiredScore(DirectionLong, htfTrend)
	shortRequired := g.requiredScore(DirectionShort, htfTrend)
	longOK := longScore >= longRequired
	shortOK := shortScore >= shortRequired

	var dir Direction
	var score, required int
	var reasons []string
	switch {
	case longOK && shortOK:
		// 平分时顺势方向胜出：逆势方向要打平必然已有背离加持，
		// 仍以顺势为准，保证决策确定性。
		if longScore > shortScore {
			dir, score, required, reasons = DirectionLong, longScore, longRequired, longReasons
		} else if shortScore > longScore {
			dir, score, required, reasons = DirectionShort, shortScore, shortRequired, shortReasons
		} else if isCounterTrend(DirectionLong, htfTrend) {
			dir, score, required, reasons = DirectionShort, shortScore, shortRequired, shortReasons
		} else {
			dir, score, required, reasons = DirectionLong, longScore, longRequired, longReasons
		}
	case longOK:
		dir, score, required, reasons = DirectionLong, longScore, longRequired, longReasons
	case shortOK:
		dir, score, required, reasons = DirectionShort, shortScore, shortRequired, shortReasons
	default:
		return nil
	}

	entry := last.Close
	stop, ok := g.buildStop(dir, last)
	if !ok {
		return nil
	}
	stopDist := math.Abs(entry - stop)
	var target float64
	if dir == DirectionLong {
		target = entry + stopDist*g.cfg.TPRewardMultiple
	} else {
		target = entry - stopDist*g.cfg.TPRewardMultiple
	}
	rr := math.Abs(target-entry) / stopDist
	if rr < g.cfg.MinRiskReward {
		return nil
	}

	return &Signal{
		Direction:     dir,
		EntryPrice:    entry,
		StopLoss:      stop,
		TakeProfit:    target,
		RiskReward:    rr,
		Score:         score,
		RequiredScore: required,
		CounterTrend:  isCounterTrend(dir, htfTrend),
		Reasons:       reasons,
		BarTime:       last.OpenTime,
	}
}

func isCounterTrend(dir Direction, htfTrend feature.TrendDirection) bool {
	return (dir == DirectionLong && htfTrend == feature.TrendBearish) ||
		(dir == DirectionShort && htfTrend == feature.TrendBullish)
}

func (g *Generator) requiredScore(dir Direction, htfTrend feature.TrendDirection) int {
	if isCounterTrend(dir, htfTrend) {
		return g.cfg.MinConfluenceScore + 1
	}
	return g.cfg.MinConfluenceScore
}

// scoreDirection 对单个候选方向做五项独立确认检查，每项一分。
func (g *Generator) scoreDirection(bars []feature.Bar, dir Direction, htfTrend feature.TrendDirection, div feature.DivergenceKind) (int, []string) {
	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	counter := isCounterTrend(dir, htfTrend)
	confirming := (dir == DirectionLong && div == feature.DivergenceBullish) ||
		(dir == DirectionShort && div == feature.DivergenceBearish)

	// 逆势且无背离确认：直接硬拒绝。
	if counter && !confirming {
		return scoreRejected, nil
	}

	score := 0
	var reasons []string

	// (i) 趋势一致或背离确认。
	if (dir == DirectionLong && htfTrend == feature.TrendBullish) ||
		(dir == DirectionShort && htfTrend == feature.TrendBearish) {
		score++
		reasons = append(reasons, fmt.Sprintf("htf trend %s aligned", htfTrend))
	} else if confirming {
		score++
		reasons = append(reasons, fmt.Sprintf("%s divergence confirms counter-trend entry", div))
	}

	// (ii) RSI：顺势回调 / 逆势极值背离条件。
	if feature.Ready(last.RSI, last.RSISlope) {
		if dir == DirectionLong {
			if !counter && last.RSI < 50 && last.RSISlope > 0 {
				score++
				reasons = append(reasons, fmt.Sprintf("rsi pullback turning up (%.1f)", last.RSI))
			} else if counter && last.RSI < g.cfg.RSIOversold {
				score++
				reasons = append(reasons, fmt.Sprintf("rsi oversold (%.1f)", last.RSI))
			}
		} else {
			if !counter && last.RSI > 50 && last.RSISlope < 0 {
				score++
				reasons = append(reasons, fmt.Sprintf("rsi pullback turning down (%.1f)", last.RSI))
			} else if counter && last.RSI > g.cfg.RSIOverbought {
				score++
				reasons = append(reasons, fmt.Sprintf("rsi overbought (%.1f)", last.RSI))
			}
		}
	}

	// (iii) MACD 金叉 / 死叉且柱状图同向确认。
	if feature.Ready(last.MACD, last.MACDSignal, last.MACDHist, prev.MACD, prev.MACDSignal) {
		if dir == DirectionLong && prev.MACD <= prev.MACDSignal && last.MACD > last.MACDSignal && last.MACDHist > 0 {
			score++
			reasons = append(reasons, "macd bullish crossover with rising histogram")
		}
		if dir == DirectionShort && prev.MACD >= prev.MACDSignal && last.MACD < last.MACDSignal && last.MACDHist < 0 {
			score++
			reasons = append(reasons, "macd bearish crossover with falling histogram")
		}
	}

	// (iv) 随机指标交叉，且交叉点位于极值区之外（区内交叉视为噪音）。
	if feature.Ready(last.StochK, last.StochD, prev.StochK, prev.StochD) {
		if dir == DirectionLong && prev.StochK <= prev.StochD && last.StochK > last.StochD && last.StochK < g.cfg.StochOverbought {
			score++
			reasons = append(reasons, fmt.Sprintf("stoch bullish cross below %.0f", g.cfg.StochOverbought))
		}
		if dir == DirectionShort && prev.StochK >= prev.StochD && last.StochK < last.StochD && last.StochK > g.cfg.StochOversold {
			score++
			reasons = append(reasons, fmt.Sprintf("stoch bearish cross above %.0f", g.cfg.StochOversold))
		}
	}

	// (v) 价格贴近外侧布林带且靠近最近确认的摆动位。
	if feature.Ready(last.BBPos, last.ATR) {
		if dir == DirectionLong && last.BBPos <= g.cfg.BBProximityPct &&
			feature.Ready(last.LastSwingLow) && math.Abs(last.Close-last.LastSwingLow) <= last.ATR {
			score++
			reasons = append(reasons, "price at lower band near swing low")
		}
		if dir == DirectionShort && last.BBPos >= 1-g.cfg.BBProximityPct &&
			feature.Ready(last.LastSwingHigh) && math.Abs(last.Close-last.LastSwingHigh) <= last.ATR {
			score++
			reasons = append(reasons, "price at upper band near swing high")
		}
	}

	return score, reasons
}

// buildStop 取 ATR 倍数止损与结构止损中更紧的一个，
// 但距离入场不得小于噪音下限（MinStopATRMultiple × ATR）。
// max/min 组合在结构上保证下限，不需要运行时校验。
func (g *Generator) buildStop(dir Direction, last feature.Bar) (float64, bool) {
	entry := last.Close
	atrDist := g.cfg.SLATRMultiple * last.ATR
	floorDist := g.cfg.MinStopATRMultiple * last.ATR

	if dir == DirectionLong {
		stop := entry - atrDist
		if feature.Ready(last.LastSwingLow) && last.LastSwingLow < entry {
			structural := last.LastSwingLow - 0.1*last.ATR
			if structural > stop {
				stop = structural
			}
		}
		stop = math.Min(stop, entry-floorDist)
		if stop >= entry {
			return 0, false
		}
		return stop, true
	}

	stop := entry + atrDist
	if feature.Ready(last.LastSwingHigh) && last.LastSwingHigh > entry {
		structural := last.LastSwingHigh + 0.1*last.ATR
		if structural < stop {
			stop = structural
		}
	}
	stop = math.Max(stop, entry+floorDist)
	if stop <= entry {
		return 0, false
	}
	return stop, true
}
