package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"

	"quorum/internal/market"
)

// Settings 描述计算指标所需的参数，零值使用默认。
type Settings struct {
	EMAFast    int
	EMASlow    int
	RSIPeriod  int
	ATRPeriod  int
	Overbought float64
	Oversold   float64
}

func (s Settings) withDefaults() Settings {
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 55
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.Overbought == 0 {
		s.Overbought = 70
	}
	if s.Oversold == 0 {
		s.Oversold = 30
	}
	return s
}

// Value 保存单个指标的最新值与状态。
type Value struct {
	Latest float64 `json:"latest"`
	State  string  `json:"state,omitempty"`
}

// Digest 是技术分析师 prompt 中每个 symbol 附带的指标摘要。
type Digest struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Count     int     `json:"count"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
	EMAFast   Value   `json:"ema_fast"`
	EMASlow   Value   `json:"ema_slow"`
	RSI       Value   `json:"rsi"`
	MACDHist  Value   `json:"macd_hist"`
	ATRPct    float64 `json:"atr_pct"`
	StochK    Value   `json:"stoch_k"`
	CVD       *Flow   `json:"cvd,omitempty"`
}

// Flow 是主动买卖量差的摘要，仅在行情源提供主动买入量时存在。
type Flow struct {
	Normalized float64 `json:"normalized"`
	Divergence string  `json:"divergence"`
	PeakFlip   string  `json:"peak_flip"`
}

// Compute 计算常用指标摘要。
func Compute(symbol, interval string, candles []market.Candle, cfg Settings) (Digest, error) {
	cfg = cfg.withDefaults()
	d := Digest{Symbol: symbol, Interval: interval, Count: len(candles)}
	if len(candles) == 0 {
		return d, fmt.Errorf("no candles")
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	lastClose := closes[len(closes)-1]
	d.Close = lastClose
	d.ChangePct = round4(market.Candles(candles).ChangePct())
	if len(candles) < cfg.RSIPeriod+2 {
		return d, fmt.Errorf("insufficient candles: need %d got %d", cfg.RSIPeriod+2, len(candles))
	}

	emaFast := lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAFast))))
	emaSlow := lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMASlow))))
	d.EMAFast = Value{Latest: emaFast, State: relativeState(lastClose, emaFast)}
	d.EMASlow = Value{Latest: emaSlow, State: relativeState(lastClose, emaSlow)}

	rsi := lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	rsiState := "neutral"
	switch {
	case rsi >= cfg.Overbought:
		rsiState = "overbought"
	case rsi <= cfg.Oversold:
		rsiState = "oversold"
	}
	d.RSI = Value{Latest: rsi, State: rsiState}

	_, _, hist := talib.Macd(closes, 12, 26, 9)
	h := lastValid(sanitizeSeries(hist))
	macdState := "flat"
	switch {
	case h > 0:
		macdState = "bullish"
	case h < 0:
		macdState = "bearish"
	}
	d.MACDHist = Value{Latest: h, State: macdState}

	atr := lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))
	if lastClose > 0 {
		d.ATRPct = round4(atr / lastClose * 100)
	}

	k, _ := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	kv := lastValid(sanitizeSeries(k))
	d.StochK = Value{Latest: kv, State: stochasticState(kv)}

	if m, ok := market.ComputeCVD(candles); ok {
		norm, _ := m.Normalized.Float64()
		d.CVD = &Flow{Normalized: norm, Divergence: m.Divergence, PeakFlip: m.PeakFlip}
	}
	return d, nil
}

// Line 输出单行摘要。
func (d Digest) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s] close=%.6g chg=%+.2f%%", d.Symbol, d.Interval, d.Close, d.ChangePct)
	fmt.Fprintf(&b, " ema_fast=%s ema_slow=%s", d.EMAFast.State, d.EMASlow.State)
	fmt.Fprintf(&b, " rsi=%.1f(%s) macd=%s atr=%.2f%% stoch=%.1f(%s)",
		d.RSI.Latest, d.RSI.State, d.MACDHist.State, d.ATRPct, d.StochK.Latest, d.StochK.State)
	if d.CVD != nil {
		fmt.Fprintf(&b, " cvd=%.2f(%s,%s)", d.CVD.Normalized, d.CVD.Divergence, d.CVD.PeakFlip)
	}
	return b.String()
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros 去掉 TALib 在样本不足时填充的 0。
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

func lastValid(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func stochasticState(v float64) string {
	switch {
	case v >= 80:
		return "overbought"
	case v <= 20:
		return "oversold"
	default:
		return "neutral"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
