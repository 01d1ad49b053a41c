package config

import "aurum/internal/backtest"

// EngineSettings 将配置投影为回测引擎的默认参数。
// 单次回测请求仍可覆盖其中任意字段。
func (c *Config) EngineSettings() backtest.EngineSettings {
	return backtest.EngineSettings{
		ExecutionTimeframe: c.Backtest.ExecutionTimeframe,
		HigherTimeframe:    c.Backtest.HigherTimeframe,
		InitialEquity:      c.Backtest.InitialEquity,
		Spread:             c.Backtest.Spread,
		Commission:         c.Backtest.Commission,
		SessionStartHour:   c.Backtest.SessionStartHour,
		SessionEndHour:     c.Backtest.SessionEndHour,
		Strategy:           c.Strategy,
		Feature:            c.Feature,
		Risk:               c.Risk,
	}
}
