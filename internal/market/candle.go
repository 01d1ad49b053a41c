package market

import (
	"fmt"
	"sort"
)

// Candle 表示一根已收盘的 K 线（毫秒时间戳）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// ValidateSeries 校验序列时间严格递增且价格为正；重复时间戳视为非法。
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			return fmt.Errorf("candle #%d: price must be positive", i)
		}
		if c.Volume < 0 {
			return fmt.Errorf("candle #%d: volume must be >= 0", i)
		}
		if c.High < c.Low {
			return fmt.Errorf("candle #%d: high < low", i)
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("candle #%d: open_time not strictly increasing", i)
		}
	}
	return nil
}

// SortByOpenTime 按 open_time 升序排序（就地）。
func SortByOpenTime(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})
}

// Aggregate 将基础周期 K 线按固定宽度时间桶聚合成更粗周期。
// 桶定义：open 取桶内第一根的 open，high/low 取桶内极值，close 取最后一根
// 的 close，volume 累加。输出包含尾部未走完的桶；需要无前视语义时应配合
// CompletedBefore 过滤掉尚未完成的最后一桶。
func Aggregate(candles []Candle, bucket Timeframe) []Candle {
	if len(candles) == 0 {
		return nil
	}
	step := bucket.durationMillis()
	if step <= 0 {
		return nil
	}
	out := make([]Candle, 0, len(candles)/4+1)
	var cur *Candle
	var curBucket int64 = -1
	for _, c := range candles {
		b := alignDown(c.OpenTime, step)
		if cur == nil || b != curBucket {
			if cur != nil {
				out = append(out, *cur)
			}
			curBucket = b
			cc := Candle{
				OpenTime:  b,
				CloseTime: b + step - 1,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
				Trades:    c.Trades,
			}
			cur = &cc
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		cur.Trades += c.Trades
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// CompletedBefore 返回 close_time 不晚于 cutoff 的前缀，保证聚合出的高周期
// 序列在任意时刻只暴露已完成的桶。
func CompletedBefore(candles []Candle, cutoff int64) []Candle {
	n := 0
	for n < len(candles) && candles[n].CloseTime <= cutoff {
		n++
	}
	return candles[:n]
}
