package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aurum/internal/gateway/notifier"
	"aurum/internal/logger"
)

// Simulator 把确定性的 Engine 包装成异步任务：提交后立即返回 runID，
// 拉取数据、推演与落库在后台完成，状态通过 ResultStore 查询。
type Simulator struct {
	store     *Store
	results   *ResultStore
	defaults  EngineSettings
	notify    notifier.TextNotifier
	baseCtx   context.Context
	mu        sync.Mutex
	inflight  map[string]struct{}
	maxActive int
}

type SimulatorConfig struct {
	Store     *Store
	Results   *ResultStore
	Defaults  EngineSettings
	Notifier  notifier.TextNotifier
	MaxActive int
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Store == nil || cfg.Results == nil {
		return nil, fmt.Errorf("store/results 不能为空")
	}
	maxActive := cfg.MaxActive
	if maxActive <= 0 {
		maxActive = 2
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Noop{}
	}
	defaults := cfg.Defaults
	defaults.Normalize()
	return &Simulator{
		store:     cfg.Store,
		results:   cfg.Results,
		defaults:  defaults,
		notify:    cfg.Notifier,
		baseCtx:   context.Background(),
		inflight:  make(map[string]struct{}),
		maxActive: maxActive,
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SubmitRun 校验请求、落一条 pending 记录并启动后台推演。
func (s *Simulator) SubmitRun(req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	if req.EndTS <= req.StartTS {
		return Run{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	cfg := s.defaults
	if req.ExecutionTimeframe != "" {
		cfg.ExecutionTimeframe = req.ExecutionTimeframe
	}
	if req.HigherTimeframe != "" {
		cfg.HigherTimeframe = req.HigherTimeframe
	}
	if req.InitialEquity > 0 {
		cfg.InitialEquity = req.InitialEquity
	}
	if req.Spread > 0 {
		cfg.Spread = req.Spread
	}
	if req.Commission > 0 {
		cfg.Commission = req.Commission
	}
	if _, err := NewEngine(cfg); err != nil {
		return Run{}, err
	}

	s.mu.Lock()
	if len(s.inflight) >= s.maxActive {
		s.mu.Unlock()
		return Run{}, fmt.Errorf("并发任务已达上限 %d", s.maxActive)
	}
	runID := uuid.NewString()
	s.inflight[runID] = struct{}{}
	s.mu.Unlock()

	run := Run{
		ID:        runID,
		Symbol:    req.Symbol,
		Status:    RunStatusPending,
		StartTS:   req.StartTS,
		EndTS:     req.EndTS,
		Timeframe: cfg.ExecutionTimeframe,
		Config: RunConfig{
			Symbol:  req.Symbol,
			StartTS: req.StartTS,
			EndTS:   req.EndTS,
			Engine:  cfg,
		},
		CreatedAt: time.Now(),
	}
	if err := s.results.InsertRun(s.baseCtx, run); err != nil {
		s.release(runID)
		return Run{}, err
	}
	go s.execute(runID, run.Config)
	return run, nil
}

func (s *Simulator) release(runID string) {
	s.mu.Lock()
	delete(s.inflight, runID)
	s.mu.Unlock()
}

func (s *Simulator) execute(runID string, cfg RunConfig) {
	defer s.release(runID)
	ctx := s.baseCtx

	if err := s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, ""); err != nil {
		logger.Errorf("[backtest] run %s 状态更新失败: %v", runID, err)
	}

	candles, err := s.store.RangeCandles(ctx, cfg.Symbol, cfg.Engine.ExecutionTimeframe, cfg.StartTS, cfg.EndTS)
	if err != nil {
		s.fail(ctx, runID, fmt.Sprintf("读取历史数据失败: %v", err))
		return
	}

	engine, err := NewEngine(cfg.Engine)
	if err != nil {
		s.fail(ctx, runID, err.Error())
		return
	}
	started := time.Now()
	result, err := engine.Run(candles)
	if err != nil {
		s.fail(ctx, runID, err.Error())
		return
	}
	if err := s.results.CompleteRun(ctx, runID, result); err != nil {
		s.fail(ctx, runID, fmt.Sprintf("结果落库失败: %v", err))
		return
	}
	logger.Infof("[backtest] run %s 完成: 交易=%d 收益=%.2f%% 耗时=%s",
		runID, len(result.Trades), result.Metrics.ReturnPct, time.Since(started).Round(time.Millisecond))
	text := fmt.Sprintf("✅ 回测完成 %s\nrun: %s\n交易: %d 胜率: %.1f%%\n收益: %.2f%% 最大回撤: %.2f%%",
		cfg.Symbol, runID, result.Metrics.TotalTrades, result.Metrics.WinRate,
		result.Metrics.ReturnPct, result.Metrics.MaxDrawdownPct)
	if err := s.notify.SendText(text); err != nil {
		logger.Warnf("[backtest] run %s 完成通知发送失败: %v", runID, err)
	}
}

func (s *Simulator) fail(ctx context.Context, runID, message string) {
	logger.Errorf("[backtest] run %s 失败: %s", runID, message)
	if err := s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, message); err != nil {
		logger.Errorf("[backtest] run %s 失败状态写入失败: %v", runID, err)
	}
	if err := s.notify.SendText(fmt.Sprintf("❌ 回测失败 run: %s\n%s", runID, message)); err != nil {
		logger.Warnf("[backtest] run %s 失败通知发送失败: %v", runID, err)
	}
}

// RunSnapshot 读取 run 当前状态。
func (s *Simulator) RunSnapshot(ctx context.Context, runID string) (Run, error) {
	return s.results.GetRun(ctx, runID)
}

// ListRuns 列出最近的 run。
func (s *Simulator) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.results.ListRuns(ctx, limit)
}
