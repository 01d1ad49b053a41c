package config

import (
	"fmt"
	"strings"

	"aurum/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	exec, err := market.ParseTimeframe(b.ExecutionTimeframe)
	if err != nil {
		return fmt.Errorf("backtest.execution_timeframe invalid: %w", err)
	}
	higher, err := market.ParseTimeframe(b.HigherTimeframe)
	if err != nil {
		return fmt.Errorf("backtest.higher_timeframe invalid: %w", err)
	}
	if higher.DurationMillis() <= exec.DurationMillis() {
		return fmt.Errorf("backtest.higher_timeframe must be longer than execution_timeframe")
	}
	if b.SessionStartHour < 0 || b.SessionStartHour > 23 {
		return fmt.Errorf("backtest.session_start_hour must be in [0, 23]")
	}
	if b.SessionEndHour < 0 || b.SessionEndHour > 23 {
		return fmt.Errorf("backtest.session_end_hour must be in [0, 23]")
	}
	if b.Spread < 0 {
		return fmt.Errorf("backtest.spread must be >= 0")
	}
	if b.Commission < 0 {
		return fmt.Errorf("backtest.commission must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token cannot be empty when enabled")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id cannot be empty when enabled")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if len(l.NormalizedSymbols()) == 0 {
		return fmt.Errorf("live.symbols requires at least one symbol when enabled")
	}
	return nil
}
