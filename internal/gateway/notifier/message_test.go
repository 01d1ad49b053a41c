package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aurum/internal/strategy"
)

func TestFormatSignal(t *testing.T) {
	sig := &strategy.Signal{
		Direction:     strategy.DirectionLong,
		EntryPrice:    2340,
		StopLoss:      2338.2,
		TakeProfit:    2343.6,
		RiskReward:    2,
		Score:         3,
		RequiredScore: 3,
		Reasons:       []string{"htf trend bullish aligned"},
		BarTime:       1709251200000,
	}
	text := FormatSignal("ETHUSDT", sig)
	assert.Contains(t, text, "ETHUSDT LONG")
	assert.Contains(t, text, "2340.0000")
	assert.Contains(t, text, "htf trend bullish aligned")
	assert.NotContains(t, text, "逆势")

	sig.CounterTrend = true
	assert.Contains(t, FormatSignal("ETHUSDT", sig), "逆势")

	assert.Empty(t, FormatSignal("ETHUSDT", nil))
}

func TestFormatHaltAndFunding(t *testing.T) {
	halt := FormatHalt("ETHUSDT", "日内亏损 300.00 触及上限 300.00")
	assert.Contains(t, halt, "ETHUSDT")
	assert.Contains(t, halt, "暂停开仓")

	funding := FormatFunding(2341.5, 0.0001)
	assert.Contains(t, funding, "2341.5000")
	assert.Contains(t, funding, "0.0100%")
}
