package live

import (
	"context"
	"sync"

	"aurum/internal/logger"
)

// DryRunExecutor 不触达交易所，仅在内存中维护持仓并输出日志。
// 用于实时评估循环的影子运行。
type DryRunExecutor struct {
	mu        sync.Mutex
	positions map[string]OrderRequest
}

func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{positions: make(map[string]OrderRequest)}
}

func (e *DryRunExecutor) Open(_ context.Context, req OrderRequest) error {
	e.mu.Lock()
	e.positions[req.Symbol] = req
	e.mu.Unlock()
	logger.Infof("[DRY-RUN] 开仓 %s %s units=%.4f entry=%.4f sl=%.4f tp=%.4f",
		req.Symbol, req.Direction, req.Units, req.Entry, req.StopLoss, req.Target)
	return nil
}

func (e *DryRunExecutor) Close(_ context.Context, symbol string, units, price float64, reason string) error {
	e.mu.Lock()
	delete(e.positions, symbol)
	e.mu.Unlock()
	logger.Infof("[DRY-RUN] 平仓 %s units=%.4f price=%.4f reason=%s", symbol, units, price, reason)
	return nil
}

func (e *DryRunExecutor) UpdateStop(_ context.Context, symbol string, stop float64) error {
	e.mu.Lock()
	if pos, ok := e.positions[symbol]; ok {
		pos.StopLoss = stop
		e.positions[symbol] = pos
	}
	e.mu.Unlock()
	logger.Infof("[DRY-RUN] 移动止损 %s stop=%.4f", symbol, stop)
	return nil
}

// Position 返回当前影子持仓。
func (e *DryRunExecutor) Position(symbol string) (OrderRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	return pos, ok
}
