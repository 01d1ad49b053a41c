package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aurum/internal/backtest"
	aucfg "aurum/internal/config"
	cfgloader "aurum/internal/config/loader"
	"aurum/internal/gateway/binance"
	"aurum/internal/gateway/notifier"
	"aurum/internal/journal"
	"aurum/internal/live"
	"aurum/internal/logger"
)

// AppBuilder 按依赖顺序装配应用，各构造函数可在测试中替换。
type AppBuilder struct {
	cfg *aucfg.Config

	marketClientFn func(binance.Config) (*binance.Client, error)
	notifierFn     func(aucfg.TelegramConfig) notifier.TextNotifier
	journalFn      func(string) (*journal.Journal, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *aucfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		marketClientFn: binance.New,
		notifierFn:     buildNotifier,
		journalFn:      openJournal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithNotifier 替换通知渠道，测试用。
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(aucfg.TelegramConfig) notifier.TextNotifier { return n }
	}
}

func buildNotifier(cfg aucfg.TelegramConfig) notifier.TextNotifier {
	if !cfg.Enabled {
		return notifier.Noop{}
	}
	return notifier.NewTelegram(cfg.BotToken, cfg.ChatID)
}

func openJournal(path string) (*journal.Journal, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return journal.New(path)
}

func (b *AppBuilder) Build() (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	client, err := b.marketClientFn(cfg.Binance.GatewayConfig())
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败: %w", err)
	}

	store, err := backtest.NewStore(cfg.Data.CandleRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultsRoot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         map[string]backtest.CandleSource{client.Name(): client},
		DefaultExchange: client.Name(),
		RateLimitPerMin: cfg.Backtest.FetchRatePerMinute,
		MaxBatch:        cfg.Backtest.FetchMaxBatch,
		MaxConcurrent:   cfg.Backtest.FetchMaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Store:     store,
		Results:   results,
		Defaults:  cfg.EngineSettings(),
		Notifier:  b.notifierFn(cfg.Notify.Telegram),
		MaxActive: cfg.Backtest.MaxActiveRuns,
	})
	if err != nil {
		return nil, err
	}
	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Results:   results,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		store:   store,
		results: results,
		svc:     svc,
		sim:     sim,
		http:    httpSrv,
	}

	if cfg.Live.Enabled {
		liveEngine, jnl, err := b.buildLiveEngine(client)
		if err != nil {
			return nil, err
		}
		app.live = liveEngine
		app.journal = jnl
	}
	return app, nil
}

func (b *AppBuilder) buildLiveEngine(client *binance.Client) (*live.Engine, *journal.Journal, error) {
	cfg := b.cfg
	jnl, err := b.journalFn(cfg.Data.JournalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化交易日志失败: %w", err)
	}

	var presets *cfgloader.PresetLoader
	if path := strings.TrimSpace(cfg.Live.PresetsPath); path != "" {
		presets, err = cfgloader.NewPresetLoader(path)
		if err != nil {
			jnl.Close()
			return nil, nil, fmt.Errorf("加载策略预设失败: %w", err)
		}
	}

	if !cfg.Live.DryRun {
		logger.Warnf("实盘下单尚未接入，live.dry_run=false 被忽略，使用影子执行")
	}

	engine, err := live.NewEngine(live.EngineParams{
		Settings: live.Settings{
			Symbols:            cfg.Live.Symbols,
			ExecutionTimeframe: cfg.Backtest.ExecutionTimeframe,
			HigherTimeframe:    cfg.Backtest.HigherTimeframe,
			HistoryBars:        cfg.Live.HistoryBars,
			OffsetSeconds:      cfg.Live.OffsetSeconds,
			InitialEquity:      cfg.Backtest.InitialEquity,
			Strategy:           cfg.Strategy,
			Feature:            cfg.Feature,
			Risk:               cfg.Risk,
		},
		Market:   client,
		Executor: live.NewDryRunExecutor(),
		Account:  client,
		Exchange: client,
		Journal:  jnl,
		Notifier: b.notifierFn(cfg.Notify.Telegram),
		Presets:  presets,
	})
	if err != nil {
		jnl.Close()
		return nil, nil, err
	}
	return engine, jnl, nil
}
