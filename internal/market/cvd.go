package market

import "github.com/shopspring/decimal"

// CVDMetrics 累计成交量差（主动买 - 主动卖）的摘要。
type CVDMetrics struct {
	Value      decimal.Decimal
	Momentum   decimal.Decimal
	Normalized decimal.Decimal
	Divergence string
	PeakFlip   string
}

const cvdLookback = 6

// ComputeCVD 依据 TakerBuyVolume 计算 CVD；没有任何主动买入数据时返回 false。
func ComputeCVD(candles []Candle) (CVDMetrics, bool) {
	if len(candles) == 0 || !hasTakerFlow(candles) {
		return CVDMetrics{}, false
	}
	cvd := make([]decimal.Decimal, 0, len(candles))
	closes := make([]decimal.Decimal, 0, len(candles))
	cumulative := decimal.Zero
	for _, c := range candles {
		buy := decimal.NewFromFloat(c.TakerBuyVolume)
		sell := decimal.NewFromFloat(c.Volume).Sub(buy)
		if sell.IsNegative() {
			sell = decimal.Zero
		}
		cumulative = cumulative.Add(buy.Sub(sell))
		cvd = append(cvd, cumulative)
		closes = append(closes, decimal.NewFromFloat(c.Close))
	}

	last := cvd[len(cvd)-1]
	momentum := decimal.Zero
	if len(cvd) > cvdLookback {
		momentum = last.Sub(cvd[len(cvd)-cvdLookback])
	}

	minVal, maxVal := cvd[0], cvd[0]
	for _, v := range cvd[1:] {
		if v.LessThan(minVal) {
			minVal = v
		}
		if v.GreaterThan(maxVal) {
			maxVal = v
		}
	}
	norm := decimal.NewFromFloat(0.5)
	if maxVal.GreaterThan(minVal) {
		norm = last.Sub(minVal).Div(maxVal.Sub(minVal))
	}

	priceNow := closes[len(closes)-1]
	pricePrev, cvdPrev := closes[0], cvd[0]
	if len(closes) > cvdLookback {
		pricePrev = closes[len(closes)-cvdLookback]
		cvdPrev = cvd[len(cvd)-cvdLookback]
	}
	divergence := "neutral"
	switch {
	case priceNow.GreaterThan(pricePrev) && last.LessThan(cvdPrev):
		divergence = "bearish"
	case priceNow.LessThan(pricePrev) && last.GreaterThan(cvdPrev):
		divergence = "bullish"
	}

	peakFlip := "none"
	if len(cvd) > 3 {
		a, b, c := cvd[len(cvd)-1], cvd[len(cvd)-2], cvd[len(cvd)-3]
		if a.LessThan(b) && b.GreaterThan(c) {
			peakFlip = "top"
		} else if a.GreaterThan(b) && b.LessThan(c) {
			peakFlip = "bottom"
		}
	}

	return CVDMetrics{
		Value:      last,
		Momentum:   momentum,
		Normalized: norm.Round(4),
		Divergence: divergence,
		PeakFlip:   peakFlip,
	}, true
}

func hasTakerFlow(candles []Candle) bool {
	for _, c := range candles {
		if c.TakerBuyVolume > 0 {
			return true
		}
	}
	return false
}
