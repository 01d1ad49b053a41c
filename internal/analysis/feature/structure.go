package feature

import "math"

// applySwings 标记摆动枢轴并向前填充最近确认的摆动价位。
// 枢轴定义为在前后各 window 根内严格最高 / 最低的 bar，
// 只有当右侧 window 根全部收盘后才在确认 bar 上置位，
// 因此任意索引 i 的 LastSwingHigh / LastSwingLow 只依赖索引 <= i 的数据。
func applySwings(bars []Bar, window int) {
	n := len(bars)
	lastHigh := math.NaN()
	lastLow := math.NaN()
	for i := 0; i < n; i++ {
		// i 是确认 bar，p 是候选枢轴。
		p := i - window
		if p >= window {
			if isSwingHigh(bars, p, window) {
				bars[i].SwingHighConfirmed = true
				lastHigh = bars[p].High
			}
			if isSwingLow(bars, p, window) {
				bars[i].SwingLowConfirmed = true
				lastLow = bars[p].Low
			}
		}
		bars[i].LastSwingHigh = lastHigh
		bars[i].LastSwingLow = lastLow
	}
}

func isSwingHigh(bars []Bar, p, window int) bool {
	h := bars[p].High
	for j := p - window; j <= p+window; j++ {
		if j == p {
			continue
		}
		if bars[j].High >= h {
			return false
		}
	}
	return true
}

func isSwingLow(bars []Bar, p, window int) bool {
	l := bars[p].Low
	for j := p - window; j <= p+window; j++ {
		if j == p {
			continue
		}
		if bars[j].Low <= l {
			return false
		}
	}
	return true
}

// DivergenceKind 表示价格与 RSI 的背离类型。
type DivergenceKind string

const (
	DivergenceNone    DivergenceKind = "none"
	DivergenceBullish DivergenceKind = "bullish"
	DivergenceBearish DivergenceKind = "bearish"
)

// Divergence 在以 idx 结尾的 lookback 窗口内检测常规背离：
// 把窗口对半切开，比较两段的极值收盘与对应 RSI。
// 看涨背离 = 价格创更低低点而 RSI 抬高；看跌背离反之。
func Divergence(bars []Bar, idx, lookback int) DivergenceKind {
	if idx+1 < lookback || lookback < 4 {
		return DivergenceNone
	}
	start := idx + 1 - lookback
	mid := start + lookback/2

	oldLowC, oldLowR := minCloseWithRSI(bars, start, mid)
	newLowC, newLowR := minCloseWithRSI(bars, mid, idx+1)
	oldHighC, oldHighR := maxCloseWithRSI(bars, start, mid)
	newHighC, newHighR := maxCloseWithRSI(bars, mid, idx+1)

	if !Ready(oldLowR, newLowR, oldHighR, newHighR) {
		return DivergenceNone
	}
	if newLowC < oldLowC && newLowR > oldLowR {
		return DivergenceBullish
	}
	if newHighC > oldHighC && newHighR < oldHighR {
		return DivergenceBearish
	}
	return DivergenceNone
}

// minCloseWithRSI 返回 [from, to) 内最低收盘及其 RSI。
func minCloseWithRSI(bars []Bar, from, to int) (float64, float64) {
	best := from
	for j := from + 1; j < to; j++ {
		if bars[j].Close < bars[best].Close {
			best = j
		}
	}
	return bars[best].Close, bars[best].RSI
}

func maxCloseWithRSI(bars []Bar, from, to int) (float64, float64) {
	best := from
	for j := from + 1; j < to; j++ {
		if bars[j].Close > bars[best].Close {
			best = j
		}
	}
	return bars[best].Close, bars[best].RSI
}
