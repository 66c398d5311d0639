package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quorum/internal/pkg/format"
)

type Candles []Candle

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// Closes 返回收盘价序列。
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Last 返回最后一根 K 线。
func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// ChangePct 返回窗口首尾收盘价涨跌幅（百分比）。
func (cs Candles) ChangePct() float64 {
	if len(cs) < 2 {
		return 0
	}
	base := cs[0].Close
	if base == 0 {
		base = cs[0].Open
	}
	if base == 0 {
		return 0
	}
	return (cs[len(cs)-1].Close - base) / base * 100
}

// Summary 输出一行价格摘要，供 prompt 使用。
func (cs Candles) Summary(interval string) string {
	last, ok := cs.Last()
	if !ok {
		return ""
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range cs {
		low = math.Min(low, bar.Low)
		high = math.Max(high, bar.High)
	}
	iv := strings.TrimSpace(interval)
	if iv == "" {
		iv = "window"
	}
	return fmt.Sprintf("close=%s (%+.2f%% over %d×%s), range %s–%s, last bar %s",
		format.Float(last.Close, 6), cs.ChangePct(), len(cs), iv,
		format.Float(low, 6), format.Float(high, 6), last.TimeString())
}
