package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次模拟的参数快照，便于重放。
type RunConfig struct {
	Symbol   string         `json:"symbol"`
	StartTS  int64          `json:"start_ts"`
	EndTS    int64          `json:"end_ts"`
	Engine   EngineSettings `json:"engine"`
	Exchange string         `json:"exchange,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

// Run 表示一次模拟任务及其汇总结果。
type Run struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"`
	StartTS     int64     `json:"start_ts"`
	EndTS       int64     `json:"end_ts"`
	Timeframe   string    `json:"timeframe"`
	Message     string    `json:"message,omitempty"`
	Config      RunConfig `json:"config"`
	Metrics     Metrics   `json:"metrics"`
	Trades      int       `json:"trades"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// MarshalMetrics 返回 metrics JSON。
func (r Run) MarshalMetrics() ([]byte, error) {
	return json.Marshal(r.Metrics)
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol             string  `json:"symbol" binding:"required"`
	StartTS            int64   `json:"start_ts" binding:"required"`
	EndTS              int64   `json:"end_ts" binding:"required"`
	ExecutionTimeframe string  `json:"execution_timeframe"`
	HigherTimeframe    string  `json:"higher_timeframe"`
	InitialEquity      float64 `json:"initial_equity"`
	Spread             float64 `json:"spread"`
	Commission         float64 `json:"commission"`
}
