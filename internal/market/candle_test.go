package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkCandle(openMs int64, o, h, l, c, v float64) Candle {
	return Candle{
		OpenTime:  openMs,
		CloseTime: openMs + 5*60*1000 - 1,
		Open:      o, High: h, Low: l, Close: c, Volume: v,
	}
}

func TestValidateSeries(t *testing.T) {
	base := int64(1_700_000_000_000)
	good := []Candle{
		mkCandle(base, 100, 101, 99, 100.5, 10),
		mkCandle(base+300_000, 100.5, 102, 100, 101, 12),
	}
	assert.NoError(t, ValidateSeries(good))

	dup := append(append([]Candle{}, good...), good[1])
	assert.Error(t, ValidateSeries(dup), "duplicate timestamp must be rejected")

	bad := []Candle{mkCandle(base, 0, 101, 99, 100, 1)}
	assert.Error(t, ValidateSeries(bad))
}

func TestAggregateBuckets(t *testing.T) {
	tf5m, err := ParseTimeframe("5m")
	require.NoError(t, err)
	tf15m, err := ParseTimeframe("15m")
	require.NoError(t, err)

	base := tf15m.DurationMillis() * 100 // 对齐到 15m 网格
	var in []Candle
	prices := []struct{ o, h, l, c float64 }{
		{10, 12, 9, 11},
		{11, 14, 10, 13},
		{13, 13.5, 12, 12.5},
		{12.5, 13, 11, 11.5}, // 第二个桶的第一根
	}
	for i, p := range prices {
		c := mkCandle(base+int64(i)*tf5m.DurationMillis(), p.o, p.h, p.l, p.c, 10)
		c.CloseTime = c.OpenTime + tf5m.DurationMillis() - 1
		in = append(in, c)
	}

	out := Aggregate(in, tf15m)
	require.Len(t, out, 2)
	first := out[0]
	assert.Equal(t, 10.0, first.Open)
	assert.Equal(t, 14.0, first.High)
	assert.Equal(t, 9.0, first.Low)
	assert.Equal(t, 12.5, first.Close)
	assert.Equal(t, 30.0, first.Volume)

	// cutoff 在第一个桶结束之后、第二个桶结束之前：只暴露第一个桶
	visible := CompletedBefore(out, first.CloseTime)
	assert.Len(t, visible, 1)
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.DurationMillis()
	start, end := tf.AlignRange(step+123, 3*step+9)
	assert.Equal(t, step, start)
	assert.Equal(t, 3*step, end)
	assert.EqualValues(t, 3, tf.ExpectedCandles(start, end))
}

func TestPeriodsPerYear(t *testing.T) {
	tf, _ := ParseTimeframe("1d")
	assert.InDelta(t, 365, tf.PeriodsPerYear(), 0.001)
}
