package scheduler

import (
	"testing"
	"time"

	"aurum/internal/market"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{" 1H ", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"h", 0, false},
		{"0m", 0, false},
		{"10s", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestDropUnclosedKline(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mk := func(open time.Time, dur time.Duration) market.Candle {
		return market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(dur).UnixMilli() - 1,
			Open:      1, High: 1, Low: 1, Close: 1,
		}
	}
	klines := []market.Candle{
		mk(base, time.Hour),
		mk(base.Add(time.Hour), time.Hour),
	}

	// 最后一根尚未越过收盘+宽限，丢弃
	now := base.Add(90 * time.Minute)
	got := dropUnclosedKlineAt(klines, now, DefaultKlineGrace)
	assert.Len(t, got, 1)

	// 收盘且过了宽限期，保留
	now = base.Add(2*time.Hour + 11*time.Second)
	got = dropUnclosedKlineAt(klines, now, DefaultKlineGrace)
	assert.Len(t, got, 2)

	assert.Empty(t, dropUnclosedKlineAt(nil, now, 0))
}
