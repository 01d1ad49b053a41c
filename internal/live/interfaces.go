package live

import (
	"context"

	"aurum/internal/gateway/binance"
	"aurum/internal/market"
	"aurum/internal/risk"
	"aurum/internal/strategy"
)

// MarketData 提供按周期拉取最近历史 K 线的能力。
type MarketData interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// AccountProvider 提供账户净值查询。
type AccountProvider interface {
	AccountEquity(ctx context.Context) (float64, error)
}

// ExchangeState 暴露对账与通知所需的交易所侧状态：
// 持仓用于启动对账，资金费率附在开仓推送里。
type ExchangeState interface {
	OpenPositions(ctx context.Context, symbol string) ([]binance.Position, error)
	PremiumIndex(ctx context.Context, symbol string) (binance.Funding, error)
}

// OrderRequest 描述一次开仓请求。
type OrderRequest struct {
	Symbol    string             `json:"symbol"`
	Direction strategy.Direction `json:"direction"`
	Units     float64            `json:"units"`
	Entry     float64            `json:"entry"`
	StopLoss  float64            `json:"stop_loss"`
	Target    float64            `json:"target"`
}

// OrderExecutor 执行开仓、平仓与止损调整。
// 实盘实现对接交易所接口，DryRunExecutor 仅记录。
type OrderExecutor interface {
	Open(ctx context.Context, req OrderRequest) error
	Close(ctx context.Context, symbol string, units, price float64, reason string) error
	UpdateStop(ctx context.Context, symbol string, stop float64) error
}

// TradeJournal 记录每根 K 线的评估结论与成交生命周期。
type TradeJournal interface {
	RecordSignal(ctx context.Context, symbol string, sig *strategy.Signal) error
	RecordNoSignal(ctx context.Context, symbol string, barTime int64) error
	RecordRiskRejection(ctx context.Context, symbol string, barTime int64, d risk.Decision) error
	RecordTradeOpen(ctx context.Context, symbol string, sig *strategy.Signal, units, fillPrice float64, entryTime int64) (int64, error)
	RecordTradeClose(ctx context.Context, tradeID int64, exitTime int64, exitPrice, pnl float64, reason string) error
}
