package backtest

import "math"

// Metrics 汇总一次模拟的收益与风控指标。
type Metrics struct {
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
	NetProfit      float64 `json:"net_profit"`
	ReturnPct      float64 `json:"return_pct"`
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	Expectancy     float64 `json:"expectancy"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	EquityPeak     float64 `json:"equity_peak"`
	EquityValley   float64 `json:"equity_valley"`
}

// computeMetrics 由完成的交易列表与资金曲线计算汇总指标。
// periodsPerYear 用于将逐 bar 收益率年化（Sharpe / Sortino）。
func computeMetrics(trades []Trade, curve []EquityPoint, initial, periodsPerYear float64) Metrics {
	m := Metrics{
		InitialEquity: initial,
		FinalEquity:   initial,
		EquityPeak:    initial,
		EquityValley:  initial,
	}
	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	}
	m.NetProfit = m.FinalEquity - initial
	if initial > 0 {
		m.ReturnPct = m.NetProfit / initial * 100
	}

	var grossWin, grossLoss float64
	for _, t := range trades {
		m.TotalTrades++
		if t.PnL > 0 {
			m.Wins++
			grossWin += t.PnL
		} else {
			m.Losses++
			grossLoss += -t.PnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
		m.Expectancy = (grossWin - grossLoss) / float64(m.TotalTrades)
	}
	if m.Wins > 0 {
		m.AvgWin = grossWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLoss / float64(m.Losses)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	peak := initial
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if p.Equity > m.EquityPeak {
			m.EquityPeak = p.Equity
		}
		if p.Equity < m.EquityValley {
			m.EquityValley = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	m.MaxDrawdownPct = maxDD

	m.Sharpe, m.Sortino = riskAdjusted(curve, periodsPerYear)
	return m
}

// riskAdjusted 用逐点收益率计算年化 Sharpe 与 Sortino。
func riskAdjusted(curve []EquityPoint, periodsPerYear float64) (float64, float64) {
	if len(curve) < 3 || periodsPerYear <= 0 {
		return 0, 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0, 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance, downVariance float64
	downN := 0
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downVariance += r * r
			downN++
		}
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)

	annual := math.Sqrt(periodsPerYear)
	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std * annual
	}
	sortino := 0.0
	if downN > 0 {
		downStd := math.Sqrt(downVariance / float64(downN))
		if downStd > 0 {
			sortino = mean / downStd * annual
		}
	}
	return sharpe, sortino
}
