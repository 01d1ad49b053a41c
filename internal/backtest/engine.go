package backtest

import (
	"errors"
	"fmt"
	"time"

	"aurum/internal/analysis/feature"
	"aurum/internal/market"
	"aurum/internal/risk"
	"aurum/internal/strategy"
)

// warmupBuffer 为热身期之外额外要求的最小 bar 数。
const warmupBuffer = 10

const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonEndOfData  = "end_of_data"
)

// ErrInsufficientData 表示输入序列不足以完成一次模拟。
var ErrInsufficientData = errors.New("历史数据不足")

// EngineSettings 是一次模拟的完整参数快照。
type EngineSettings struct {
	ExecutionTimeframe string  `json:"execution_timeframe"`
	HigherTimeframe    string  `json:"higher_timeframe"`
	InitialEquity      float64 `json:"initial_equity"`
	// Spread 为全点差（价格单位），成交价按半点差向不利方向调整。
	Spread float64 `json:"spread"`
	// Commission 为每笔往返佣金，开仓时一次性从净值扣除。
	Commission float64 `json:"commission"`
	// SessionStartHour/SessionEndHour 为 UTC 交易时段，两者相等表示全天。
	SessionStartHour int `json:"session_start_hour"`
	SessionEndHour   int `json:"session_end_hour"`

	Strategy strategy.Settings `json:"strategy"`
	Feature  feature.Settings  `json:"feature"`
	Risk     risk.Settings     `json:"risk"`
}

// Normalize 为零值字段填入默认参数。
func (s *EngineSettings) Normalize() {
	if s.ExecutionTimeframe == "" {
		s.ExecutionTimeframe = "1h"
	}
	if s.HigherTimeframe == "" {
		s.HigherTimeframe = "4h"
	}
	if s.InitialEquity <= 0 {
		s.InitialEquity = 10_000
	}
	s.Strategy.Normalize()
	s.Feature.Normalize()
	s.Risk.Normalize()
}

// Trade 记录一次已平仓交易。
type Trade struct {
	EntryTime   int64              `json:"entry_time"`
	ExitTime    int64              `json:"exit_time"`
	Direction   strategy.Direction `json:"direction"`
	EntryPrice  float64            `json:"entry_price"`
	ExitPrice   float64            `json:"exit_price"`
	StopLoss    float64            `json:"stop_loss"`
	TakeProfit  float64            `json:"take_profit"`
	Units       float64            `json:"units"`
	PnL         float64            `json:"pnl"`
	RMultiple   float64            `json:"r_multiple"`
	Score       int                `json:"score"`
	CloseReason string             `json:"close_reason"`
}

// EquityPoint 是资金曲线上的一个采样点。
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Result 是一次模拟的完整产出。
type Result struct {
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     Metrics       `json:"metrics"`
}

// openPosition 仅存在于模拟循环内部，从成交持续到出场。
type openPosition struct {
	entryTime  int64
	direction  strategy.Direction
	entryPrice float64
	stopLoss   float64
	takeProfit float64
	units      float64
	score      int
}

// Engine 是确定性的逐 bar 推演核心：同样的输入与参数必然产出
// 字节一致的交易列表与资金曲线。无 I/O，不持有跨次调用的状态。
type Engine struct {
	cfg EngineSettings
	gen *strategy.Generator
}

func NewEngine(cfg EngineSettings) (*Engine, error) {
	cfg.Normalize()
	if _, err := market.ParseTimeframe(cfg.ExecutionTimeframe); err != nil {
		return nil, err
	}
	if _, err := market.ParseTimeframe(cfg.HigherTimeframe); err != nil {
		return nil, err
	}
	return &Engine{
		cfg: cfg,
		gen: strategy.NewGenerator(cfg.Strategy, cfg.Feature),
	}, nil
}

// WarmupBars 返回模拟要求的最小热身 bar 数。
func (e *Engine) WarmupBars() int { return e.gen.WarmupBars() }

// Run 执行完整的 walk-forward 推演。
// 核心不变量：任意 bar 的评估只使用不晚于该 bar 的数据，
// 成交与出场只参照紧随其后的下一根 bar。
func (e *Engine) Run(candles []market.Candle) (*Result, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	warm := e.gen.WarmupBars()
	if len(candles) < warm+warmupBuffer {
		return nil, fmt.Errorf("%w: 需要至少 %d 根, 实际 %d 根", ErrInsufficientData, warm+warmupBuffer, len(candles))
	}

	execTF, _ := market.ParseTimeframe(e.cfg.ExecutionTimeframe)
	htfTF, _ := market.ParseTimeframe(e.cfg.HigherTimeframe)

	bars, err := feature.Enrich(candles, e.cfg.Feature)
	if err != nil {
		return nil, err
	}
	htfCandles := market.Aggregate(candles, htfTF)
	if htfWarm := e.gen.HTFWarmupBars(); len(htfCandles) < htfWarm {
		return nil, fmt.Errorf("%w: 高周期需要至少 %d 根, 聚合后仅 %d 根",
			ErrInsufficientData, htfWarm, len(htfCandles))
	}
	htfBars, err := feature.Enrich(htfCandles, e.cfg.Feature)
	if err != nil {
		return nil, err
	}

	equity := e.cfg.InitialEquity
	rm := risk.NewManager(e.cfg.Risk, equity)
	var pos *openPosition
	var trades []Trade
	curve := make([]EquityPoint, 0, len(bars)-warm)
	htfCursor := 0

	for i := warm; i < len(bars)-1; i++ {
		bar := bars[i]
		next := bars[i+1]

		if pos != nil {
			if exitPrice, reason, hit := checkExit(pos, next.Candle); hit {
				pnl := realizedPnL(pos, exitPrice)
				equity += pnl
				rm.RecordEquity(equity)
				rm.RecordTradeClosed(pnl)
				trades = append(trades, closedTrade(pos, next.OpenTime, exitPrice, pnl, reason))
				pos = nil
			}
		}

		if pos == nil && e.inSession(bar.OpenTime) {
			barTime := time.UnixMilli(bar.OpenTime).UTC()
			if rm.CanOpenTrade(0, barTime).Allowed {
				for htfCursor < len(htfBars) && htfBars[htfCursor].CloseTime <= bar.CloseTime {
					htfCursor++
				}
				sig := e.gen.Evaluate(bars[:i+1], htfBars[:htfCursor])
				if sig != nil {
					if units := rm.SizePosition(sig); units > 0 {
						fill := fillPrice(sig.Direction, next.Open, e.cfg.Spread)
						equity -= e.cfg.Commission
						rm.RecordEquity(equity)
						pos = &openPosition{
							entryTime:  next.OpenTime,
							direction:  sig.Direction,
							entryPrice: fill,
							stopLoss:   sig.StopLoss,
							takeProfit: sig.TakeProfit,
							units:      units,
							score:      sig.Score,
						}
						rm.RecordTradeOpened(barTime)
					}
				}
			}
		}

		curve = append(curve, EquityPoint{Time: bar.OpenTime, Equity: equity})
	}

	if pos != nil {
		last := bars[len(bars)-1]
		pnl := realizedPnL(pos, last.Close)
		equity += pnl
		rm.RecordEquity(equity)
		rm.RecordTradeClosed(pnl)
		trades = append(trades, closedTrade(pos, last.OpenTime, last.Close, pnl, CloseReasonEndOfData))
		curve = append(curve, EquityPoint{Time: last.OpenTime, Equity: equity})
	}

	metrics := computeMetrics(trades, curve, e.cfg.InitialEquity, execTF.PeriodsPerYear())
	return &Result{Trades: trades, EquityCurve: curve, Metrics: metrics}, nil
}

// checkExit 用下一根 bar 的极值检验止损 / 止盈。
// 同一根 bar 内两者都触发时止损优先（保守裁决）。
func checkExit(pos *openPosition, next market.Candle) (float64, string, bool) {
	if pos.direction == strategy.DirectionLong {
		if next.Low <= pos.stopLoss {
			return pos.stopLoss, CloseReasonStopLoss, true
		}
		if next.High >= pos.takeProfit {
			return pos.takeProfit, CloseReasonTakeProfit, true
		}
		return 0, "", false
	}
	if next.High >= pos.stopLoss {
		return pos.stopLoss, CloseReasonStopLoss, true
	}
	if next.Low <= pos.takeProfit {
		return pos.takeProfit, CloseReasonTakeProfit, true
	}
	return 0, "", false
}

func realizedPnL(pos *openPosition, exitPrice float64) float64 {
	sign := 1.0
	if pos.direction == strategy.DirectionShort {
		sign = -1.0
	}
	return (exitPrice - pos.entryPrice) * pos.units * sign
}

func closedTrade(pos *openPosition, exitTime int64, exitPrice, pnl float64, reason string) Trade {
	stopDist := pos.entryPrice - pos.stopLoss
	if pos.direction == strategy.DirectionShort {
		stopDist = pos.stopLoss - pos.entryPrice
	}
	rMultiple := 0.0
	if stopDist > 0 && pos.units > 0 {
		rMultiple = pnl / (stopDist * pos.units)
	}
	return Trade{
		EntryTime:   pos.entryTime,
		ExitTime:    exitTime,
		Direction:   pos.direction,
		EntryPrice:  pos.entryPrice,
		ExitPrice:   exitPrice,
		StopLoss:    pos.stopLoss,
		TakeProfit:  pos.takeProfit,
		Units:       pos.units,
		PnL:         pnl,
		RMultiple:   rMultiple,
		Score:       pos.score,
		CloseReason: reason,
	}
}

// fillPrice 按半点差向不利方向调整成交价。
func fillPrice(dir strategy.Direction, open, spread float64) float64 {
	if dir == strategy.DirectionLong {
		return open + spread/2
	}
	return open - spread/2
}

func (e *Engine) inSession(openTime int64) bool {
	if e.cfg.SessionStartHour == e.cfg.SessionEndHour {
		return true
	}
	hour := time.UnixMilli(openTime).UTC().Hour()
	start, end := e.cfg.SessionStartHour, e.cfg.SessionEndHour
	if start < end {
		return hour >= start && hour < end
	}
	// 跨午夜时段。
	return hour >= start || hour < end
}
