package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aurum/internal/analysis/feature"
	"aurum/internal/config/loader"
	"aurum/internal/gateway/notifier"
	"aurum/internal/logger"
	"aurum/internal/market"
	"aurum/internal/pkg/circuit"
	"aurum/internal/risk"
	"aurum/internal/scheduler"
	"aurum/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// Settings 是实时评估循环的运行参数。
type Settings struct {
	Symbols            []string
	ExecutionTimeframe string
	HigherTimeframe    string
	HistoryBars        int
	OffsetSeconds      int
	InitialEquity      float64

	Strategy strategy.Settings
	Feature  feature.Settings
	Risk     risk.Settings
}

// EngineParams 聚合引擎的全部依赖。
type EngineParams struct {
	Settings Settings
	Market   MarketData
	Executor OrderExecutor
	Account  AccountProvider
	Exchange ExchangeState
	Journal  TradeJournal
	Notifier notifier.TextNotifier
	Presets  *loader.PresetLoader
}

type openTrade struct {
	journalID int64
	dir       strategy.Direction
	entry     float64
	stop      float64
	target    float64
	units     float64
}

type symbolState struct {
	gen        *strategy.Generator
	riskMgr    *risk.Manager
	featureCfg feature.Settings

	lastBarTime int64
	open        *openTrade
	// external 表示交易所存在不由本引擎管理的持仓，
	// 置位期间暂停新开仓，直到交易所侧清空。
	external bool
}

// Engine 在每根执行周期 K 线收盘后跑一次完整的评估流水线：
// 拉取历史、富化、出场管理、信号评估、风控准入、下单与记录。
type Engine struct {
	cfg      Settings
	market   MarketData
	executor OrderExecutor
	account  AccountProvider
	exchange ExchangeState
	journal  TradeJournal
	notifier notifier.TextNotifier
	presets  *loader.PresetLoader

	states map[string]*symbolState
	nowFn  func() time.Time
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Market == nil || p.Executor == nil || p.Journal == nil {
		return nil, fmt.Errorf("live engine 缺少 market/executor/journal 依赖")
	}
	cfg := p.Settings
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 400
	}
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if p.Notifier == nil {
		p.Notifier = notifier.Noop{}
	}

	e := &Engine{
		cfg:      cfg,
		market:   p.Market,
		executor: p.Executor,
		account:  p.Account,
		exchange: p.Exchange,
		journal:  p.Journal,
		notifier: p.Notifier,
		presets:  p.Presets,
		states:   make(map[string]*symbolState),
		nowFn:    time.Now,
	}
	for _, sym := range cfg.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		st, err := e.buildSymbolState(sym)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym, err)
		}
		e.states[sym] = st
	}
	if len(e.states) == 0 {
		return nil, fmt.Errorf("live engine 没有可用交易对")
	}
	return e, nil
}

// buildSymbolState 合并该交易对的预设覆盖并构造生成器与风控会话。
func (e *Engine) buildSymbolState(symbol string) (*symbolState, error) {
	stratCfg := e.cfg.Strategy
	riskCfg := e.cfg.Risk
	if e.presets != nil {
		if def, ok := e.presets.PresetFor(symbol); ok {
			var err error
			if stratCfg, err = def.ApplyStrategy(stratCfg); err != nil {
				return nil, err
			}
			if riskCfg, err = def.ApplyRisk(riskCfg); err != nil {
				return nil, err
			}
			logger.Infof("LiveEngine: symbol=%s 使用预设 %s", symbol, def.Name)
		}
	}
	featureCfg := e.cfg.Feature
	featureCfg.Normalize()
	return &symbolState{
		gen:        strategy.NewGenerator(stratCfg, featureCfg),
		riskMgr:    risk.NewManager(riskCfg, e.cfg.InitialEquity),
		featureCfg: featureCfg,
	}, nil
}

// Run 为每个交易对启动一条按周期对齐的评估循环，阻塞直到 ctx 结束。
func (e *Engine) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(e.cfg.ExecutionTimeframe)
	if !ok {
		return fmt.Errorf("无法解析执行周期: %s", e.cfg.ExecutionTimeframe)
	}
	offset := 10 * time.Second
	if e.cfg.OffsetSeconds > 0 {
		offset = time.Duration(e.cfg.OffsetSeconds) * time.Second
	}

	e.syncAccountEquity(ctx)
	e.reconcilePositions(ctx)

	logger.Infof("LiveEngine: starting symbols=%d interval=%s offset=%s", len(e.states), interval, offset)

	group, gctx := errgroup.WithContext(ctx)
	for sym := range e.states {
		sym := sym
		group.Go(func() error {
			cb := circuit.NewBreaker("LiveEngine."+sym, 5, 2*time.Minute)
			sched := scheduler.NewAlignedScheduler(gctx, interval, offset)
			sched.Name = sym
			sched.Start(func() {
				if !cb.Allow() {
					logger.Warnf("LiveEngine: circuit breaker open, skip tick symbol=%s", sym)
					return
				}
				if err := e.Tick(gctx, sym); err != nil {
					logger.Errorf("LiveEngine: tick error symbol=%s err=%v", sym, err)
					cb.RecordFailure()
					return
				}
				cb.RecordSuccess()
			})
			return gctx.Err()
		})
	}
	return group.Wait()
}

// syncAccountEquity 用账户真实净值初始化各风控会话，失败时保留配置基线。
func (e *Engine) syncAccountEquity(ctx context.Context) {
	if e.account == nil {
		return
	}
	equity, err := e.account.AccountEquity(ctx)
	if err != nil {
		logger.Warnf("LiveEngine: 读取账户净值失败，使用配置基线: %v", err)
		return
	}
	for _, st := range e.states {
		st.riskMgr.RecordEquity(equity)
	}
}

// reconcilePositions 启动时核对交易所侧持仓：发现不由本引擎管理的仓位
// 就暂停该交易对的新开仓并推送告警，避免在未知仓位上叠加风险。
func (e *Engine) reconcilePositions(ctx context.Context) {
	if e.exchange == nil {
		return
	}
	for sym, st := range e.states {
		positions, err := e.exchange.OpenPositions(ctx, sym)
		if err != nil {
			logger.Warnf("LiveEngine: %s 持仓对账失败: %v", sym, err)
			continue
		}
		if len(positions) == 0 {
			continue
		}
		p := positions[0]
		st.external = true
		reason := fmt.Sprintf("交易所存在未接管持仓 %s %.4f @ %.4f", p.Side, p.Units, p.EntryPrice)
		logger.Warnf("LiveEngine: %s %s", sym, reason)
		if err := e.notifier.SendText(notifier.FormatHalt(sym, reason)); err != nil {
			logger.Warnf("LiveEngine: 推送失败 symbol=%s err=%v", sym, err)
		}
	}
}

// refreshExternal 在暂停期间复查外部持仓是否已清空，清空后恢复开仓。
func (e *Engine) refreshExternal(ctx context.Context, symbol string, st *symbolState) {
	if !st.external || e.exchange == nil {
		return
	}
	positions, err := e.exchange.OpenPositions(ctx, symbol)
	if err != nil {
		logger.Warnf("LiveEngine: %s 查询外部持仓失败: %v", symbol, err)
		return
	}
	if len(positions) == 0 {
		st.external = false
		logger.Infof("LiveEngine: %s 外部持仓已清空, 恢复开仓", symbol)
	}
}

// Tick 对单个交易对执行一轮完整评估。导出以便上层按需手动触发。
func (e *Engine) Tick(ctx context.Context, symbol string) error {
	st, ok := e.states[symbol]
	if !ok {
		return fmt.Errorf("未知交易对: %s", symbol)
	}

	ltf, htf, err := e.fetchWindows(ctx, symbol)
	if err != nil {
		return err
	}
	if len(ltf) == 0 {
		return fmt.Errorf("%s 无已收盘 K 线", symbol)
	}
	last := ltf[len(ltf)-1]
	if last.OpenTime == st.lastBarTime {
		return nil
	}
	st.lastBarTime = last.OpenTime

	bars, err := feature.Enrich(ltf, st.featureCfg)
	if err != nil {
		return fmt.Errorf("%s 富化失败: %w", symbol, err)
	}
	htfBars, err := feature.Enrich(htf, st.featureCfg)
	if err != nil {
		return fmt.Errorf("%s 高周期富化失败: %w", symbol, err)
	}

	lastBar := bars[len(bars)-1]
	if st.open != nil {
		if err := e.manageOpenTrade(ctx, symbol, st, lastBar); err != nil {
			return err
		}
	}

	sig := st.gen.Evaluate(bars, htfBars)
	if sig == nil {
		return e.journal.RecordNoSignal(ctx, symbol, last.OpenTime)
	}
	if err := e.journal.RecordSignal(ctx, symbol, sig); err != nil {
		return err
	}

	e.refreshExternal(ctx, symbol, st)
	openCount := 0
	if st.open != nil {
		openCount = 1
	}
	if st.external {
		openCount++
	}
	now := e.nowFn().UTC()
	if dec := st.riskMgr.CanOpenTrade(openCount, now); !dec.Allowed {
		logger.Infof("LiveEngine: %s 信号被风控拒绝: %s", symbol, dec.Reason)
		if err := e.notifier.SendText(notifier.FormatHalt(symbol, dec.Reason)); err != nil {
			logger.Warnf("LiveEngine: 推送失败 symbol=%s err=%v", symbol, err)
		}
		return e.journal.RecordRiskRejection(ctx, symbol, last.OpenTime, dec)
	}
	units := st.riskMgr.SizePosition(sig)
	if units <= 0 {
		dec := risk.Decision{Allowed: false, Reason: "仓位不足最小单位"}
		return e.journal.RecordRiskRejection(ctx, symbol, last.OpenTime, dec)
	}

	req := OrderRequest{
		Symbol:    symbol,
		Direction: sig.Direction,
		Units:     units,
		Entry:     sig.EntryPrice,
		StopLoss:  sig.StopLoss,
		Target:    sig.TakeProfit,
	}
	if err := e.executor.Open(ctx, req); err != nil {
		return fmt.Errorf("%s 开仓失败: %w", symbol, err)
	}
	journalID, err := e.journal.RecordTradeOpen(ctx, symbol, sig, units, sig.EntryPrice, last.OpenTime)
	if err != nil {
		return err
	}
	st.riskMgr.RecordTradeOpened(now)
	st.open = &openTrade{
		journalID: journalID,
		dir:       sig.Direction,
		entry:     sig.EntryPrice,
		stop:      sig.StopLoss,
		target:    sig.TakeProfit,
		units:     units,
	}
	text := notifier.FormatSignal(symbol, sig)
	if e.exchange != nil {
		if f, ferr := e.exchange.PremiumIndex(ctx, symbol); ferr != nil {
			logger.Warnf("LiveEngine: %s 资金费率查询失败: %v", symbol, ferr)
		} else {
			text += "\n" + notifier.FormatFunding(f.MarkPrice, f.FundingRate)
		}
	}
	if err := e.notifier.SendText(text); err != nil {
		logger.Warnf("LiveEngine: 推送失败 symbol=%s err=%v", symbol, err)
	}
	return nil
}

// manageOpenTrade 先做出场判定（同根触发时止损优先），再做移动止损。
func (e *Engine) manageOpenTrade(ctx context.Context, symbol string, st *symbolState, bar feature.Bar) error {
	trade := st.open
	exitPrice, reason := exitLevel(trade, bar)
	if reason != "" {
		if err := e.executor.Close(ctx, symbol, trade.units, exitPrice, reason); err != nil {
			return fmt.Errorf("%s 平仓失败: %w", symbol, err)
		}
		pnl := realizedPnL(trade, exitPrice)
		st.riskMgr.RecordEquity(st.riskMgr.Equity() + pnl)
		st.riskMgr.RecordTradeClosed(pnl)
		if err := e.journal.RecordTradeClose(ctx, trade.journalID, bar.CloseTime, exitPrice, pnl, reason); err != nil {
			return err
		}
		logger.Infof("LiveEngine: %s 平仓 reason=%s pnl=%.2f equity=%.2f",
			symbol, reason, pnl, st.riskMgr.Equity())
		st.open = nil
		return nil
	}

	if !feature.Ready(bar.ATR) {
		return nil
	}
	newStop := st.riskMgr.TrailStop(trade.dir, trade.entry, bar.Close, bar.ATR, trade.stop)
	if newStop != trade.stop {
		if err := e.executor.UpdateStop(ctx, symbol, newStop); err != nil {
			return fmt.Errorf("%s 移动止损失败: %w", symbol, err)
		}
		trade.stop = newStop
	}
	return nil
}

// exitLevel 判断 bar 是否触发出场，返回出场价与原因。
func exitLevel(trade *openTrade, bar feature.Bar) (float64, string) {
	if trade.dir == strategy.DirectionLong {
		if bar.Low <= trade.stop {
			return trade.stop, "stop_loss"
		}
		if bar.High >= trade.target {
			return trade.target, "take_profit"
		}
		return 0, ""
	}
	if bar.High >= trade.stop {
		return trade.stop, "stop_loss"
	}
	if bar.Low <= trade.target {
		return trade.target, "take_profit"
	}
	return 0, ""
}

func realizedPnL(trade *openTrade, exitPrice float64) float64 {
	if trade.dir == strategy.DirectionLong {
		return (exitPrice - trade.entry) * trade.units
	}
	return (trade.entry - exitPrice) * trade.units
}

// fetchWindows 并行拉取执行周期与高周期历史，并统一去掉未收盘的最后一根。
func (e *Engine) fetchWindows(ctx context.Context, symbol string) (ltf, htf []market.Candle, err error) {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		candles, err := e.market.FetchHistory(gctx, symbol, e.cfg.ExecutionTimeframe, e.cfg.HistoryBars)
		if err != nil {
			return fmt.Errorf("拉取 %s %s 失败: %w", symbol, e.cfg.ExecutionTimeframe, err)
		}
		ltf = scheduler.DropUnclosedKline(candles)
		return nil
	})
	group.Go(func() error {
		candles, err := e.market.FetchHistory(gctx, symbol, e.cfg.HigherTimeframe, e.cfg.HistoryBars)
		if err != nil {
			return fmt.Errorf("拉取 %s %s 失败: %w", symbol, e.cfg.HigherTimeframe, err)
		}
		htf = scheduler.DropUnclosedKline(candles)
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}
	return ltf, htf, nil
}
