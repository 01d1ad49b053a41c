package risk

import (
	"fmt"
	"math"
	"time"

	"aurum/internal/logger"
	"aurum/internal/strategy"
)

// Settings 是风控的全部可调参数，构造后不可变。
type Settings struct {
	MaxRiskPct          float64 `toml:"max_risk_pct"`
	MaxRiskUSD          float64 `toml:"max_risk_usd"`
	MaxOpenPositions    int     `toml:"max_open_positions"`
	MaxDailyDrawdownPct float64 `toml:"max_daily_drawdown_pct"`
	MaxDailyLossUSD     float64 `toml:"max_daily_loss_usd"`
	MaxTradesPerDay     int     `toml:"max_trades_per_day"`
	CooldownMinutes     int     `toml:"cooldown_minutes"`

	TrailActivationATRMultiple float64 `toml:"trail_activation_atr_multiple"`
	TrailDistanceATRMultiple   float64 `toml:"trail_distance_atr_multiple"`

	MinUnits float64 `toml:"min_units"`
}

// Normalize 为零值字段填入默认参数。
func (s *Settings) Normalize() {
	if s.MaxRiskPct <= 0 {
		s.MaxRiskPct = 1.0
	}
	if s.MaxRiskUSD <= 0 {
		s.MaxRiskUSD = 500
	}
	if s.MaxOpenPositions <= 0 {
		s.MaxOpenPositions = 1
	}
	if s.MaxDailyDrawdownPct <= 0 {
		s.MaxDailyDrawdownPct = 3.0
	}
	if s.MaxDailyLossUSD <= 0 {
		s.MaxDailyLossUSD = 300
	}
	if s.MaxTradesPerDay <= 0 {
		s.MaxTradesPerDay = 10
	}
	if s.CooldownMinutes <= 0 {
		s.CooldownMinutes = 15
	}
	if s.TrailActivationATRMultiple <= 0 {
		s.TrailActivationATRMultiple = 1.5
	}
	if s.TrailDistanceATRMultiple <= 0 {
		s.TrailDistanceATRMultiple = 1.0
	}
	if s.MinUnits <= 0 {
		s.MinUnits = 1
	}
}

// Validate 检查百分比类参数的合法区间。
func (s Settings) Validate() error {
	if s.MaxRiskPct > 100 {
		return fmt.Errorf("risk.max_risk_pct must be <= 100")
	}
	if s.MaxDailyDrawdownPct > 100 {
		return fmt.Errorf("risk.max_daily_drawdown_pct must be <= 100")
	}
	return nil
}

// Decision 是一次准入检查的结果，Reason 为第一条未通过的检查。
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Manager 持有单个账户的风控会话状态。
// 状态按日（UTC）滚动：日内盈亏与开仓计数在跨日边界处恰好重置一次。
// 非并发安全，调用方需保证所有变更来自同一决策循环。
type Manager struct {
	cfg Settings

	equity      float64
	peakEquity  float64
	dayStartEq  float64
	sessionDate string
	dailyPnL    float64
	dailyTrades int
	lastOpenAt  time.Time
}

// NewManager 以起始净值创建风控会话。
func NewManager(cfg Settings, startingEquity float64) *Manager {
	cfg.Normalize()
	return &Manager{
		cfg:        cfg,
		equity:     startingEquity,
		peakEquity: startingEquity,
		dayStartEq: startingEquity,
	}
}

// Equity 返回当前净值。
func (m *Manager) Equity() float64 { return m.equity }

// PeakEquity 返回会话内的净值峰值。
func (m *Manager) PeakEquity() float64 { return m.peakEquity }

// DailyPnL 返回当日已实现盈亏。
func (m *Manager) DailyPnL() float64 { return m.dailyPnL }

// DailyTrades 返回当日开仓次数。
func (m *Manager) DailyTrades() int { return m.dailyTrades }

// RecordEquity 覆写当前净值并在超越时抬升峰值。
// 非法值（NaN / Inf / 负数）直接忽略并告警。
func (m *Manager) RecordEquity(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		logger.Warnf("风控: 忽略非法净值 %v", value)
		return
	}
	m.equity = value
	if value > m.peakEquity {
		m.peakEquity = value
	}
}

// dayKey 以 UTC 日历日作为会话标识。
func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// rollSessionDay 在跨日边界处重置日内计数，同日重复调用为 no-op。
// 首次取得日期只是给会话挂上标识：构造以来累计的日内盈亏与开仓数
// 必须保留，否则首个边界前记录的亏损会被清零、绕过日内限额。
func (m *Manager) rollSessionDay(at time.Time) {
	key := dayKey(at)
	if m.sessionDate == key {
		return
	}
	if m.sessionDate == "" {
		m.sessionDate = key
		return
	}
	logger.Infof("风控: 会话跨日 %s -> %s, 日内盈亏 %.2f, 开仓 %d 次",
		m.sessionDate, key, m.dailyPnL, m.dailyTrades)
	m.sessionDate = key
	m.dailyPnL = 0
	m.dailyTrades = 0
	m.dayStartEq = m.equity
}

// CanOpenTrade 按固定顺序执行准入检查，返回第一条未通过的原因。
// 检查顺序对用户诊断是稳定契约的一部分，不可调整。
func (m *Manager) CanOpenTrade(openPositions int, at time.Time) Decision {
	m.rollSessionDay(at)

	if openPositions >= m.cfg.MaxOpenPositions {
		return Decision{Reason: fmt.Sprintf("已达最大持仓数 %d", m.cfg.MaxOpenPositions)}
	}
	if m.dayStartEq > 0 {
		ddPct := m.dailyPnL / m.dayStartEq * 100
		if ddPct <= -m.cfg.MaxDailyDrawdownPct {
			return Decision{Reason: fmt.Sprintf("日内回撤 %.2f%% 触及上限 %.2f%%", -ddPct, m.cfg.MaxDailyDrawdownPct)}
		}
	}
	if m.dailyPnL <= -m.cfg.MaxDailyLossUSD {
		return Decision{Reason: fmt.Sprintf("日内亏损 %.2f 触及上限 %.2f", -m.dailyPnL, m.cfg.MaxDailyLossUSD)}
	}
	if m.dailyTrades >= m.cfg.MaxTradesPerDay {
		return Decision{Reason: fmt.Sprintf("已达单日最大开仓数 %d", m.cfg.MaxTradesPerDay)}
	}
	cooldown := time.Duration(m.cfg.CooldownMinutes) * time.Minute
	if !m.lastOpenAt.IsZero() && at.Sub(m.lastOpenAt) < cooldown {
		return Decision{Reason: fmt.Sprintf("冷却中, 距上次开仓不足 %d 分钟", m.cfg.CooldownMinutes)}
	}
	return Decision{Allowed: true}
}

// SizePosition 按固定风险额度计算仓位：
// riskAmount = min(equity × pct, usd 上限)，units = floor(riskAmount / 止损距离)。
// 止损距离非正或结果低于最小单位时返回 0，调用方视为不交易。
func (m *Manager) SizePosition(sig *strategy.Signal) float64 {
	if sig == nil {
		return 0
	}
	stopDist := math.Abs(sig.EntryPrice - sig.StopLoss)
	if decimalLTE(stopDist, 0) || m.equity <= 0 {
		return 0
	}
	riskAmount := decimalMin(m.equity*m.cfg.MaxRiskPct/100, m.cfg.MaxRiskUSD)
	units := math.Floor(riskAmount / stopDist)
	if units < m.cfg.MinUnits {
		return 0
	}
	return units
}

// RecordTradeOpened 记录一次开仓。
func (m *Manager) RecordTradeOpened(at time.Time) {
	m.rollSessionDay(at)
	m.dailyTrades++
	m.lastOpenAt = at
}

// RecordTradeClosed 将已实现盈亏计入当日。
func (m *Manager) RecordTradeClosed(pnl float64) {
	m.dailyPnL += pnl
}
