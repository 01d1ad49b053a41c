package app

import (
	"context"
	"fmt"

	"aurum/internal/backtest"
	aucfg "aurum/internal/config"
	"aurum/internal/journal"
	"aurum/internal/live"
	"aurum/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务与实时评估循环。
type App struct {
	cfg     *aucfg.Config
	store   *backtest.Store
	results *backtest.ResultStore
	svc     *backtest.Service
	sim     *backtest.Simulator
	http    *backtest.HTTPServer
	live    *live.Engine
	journal *journal.Journal
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *aucfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(cfg)
}

// Run 启动 HTTP 服务与实时循环，阻塞直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	a.svc.SetContext(ctx)
	a.sim.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	if a.live != nil {
		group.Go(func() error {
			return a.live.Run(ctx)
		})
	}
	logger.Infof("aurum started http=%s live=%v symbols=%v",
		a.cfg.App.HTTPAddr, a.live != nil, a.cfg.Live.Symbols)
	return group.Wait()
}

// Close 释放全部持久化资源，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("关闭交易日志失败: %v", err)
		}
		a.journal = nil
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("关闭结果存储失败: %v", err)
		}
		a.results = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭 K 线存储失败: %v", err)
		}
		a.store = nil
	}
}

// LiveEngine 暴露底层实时引擎，供回放与测试使用。
func (a *App) LiveEngine() *live.Engine {
	if a == nil {
		return nil
	}
	return a.live
}
