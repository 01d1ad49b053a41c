package scheduler

import (
	"strconv"
	"strings"
	"time"

	"aurum/internal/market"
)

// ParseIntervalDuration 把 "15m"、"1h"、"4h"、"1d"、"1w" 解析成 time.Duration。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// DefaultKlineGrace 允许交易所在收盘后短暂延迟落盘。
const DefaultKlineGrace = 10 * time.Second

// DropUnclosedKline 去掉序列末尾仍在进行中的 K 线。
// 币安风格接口的最后一根可能是当前未收盘的周期。
func DropUnclosedKline(klines []market.Candle) []market.Candle {
	return dropUnclosedKlineAt(klines, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedKlineAt(klines []market.Candle, now time.Time, grace time.Duration) []market.Candle {
	if len(klines) == 0 {
		return klines
	}
	if grace < 0 {
		grace = 0
	}
	last := klines[len(klines)-1]
	if last.CloseTime <= 0 {
		return klines
	}
	if now.UnixMilli() < last.CloseTime+grace.Milliseconds() {
		return klines[:len(klines)-1]
	}
	return klines
}
