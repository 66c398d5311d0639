package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDerivativesTTL    = 5 * time.Minute
	defaultDerivativesPeriod = "1h"
	oiHistoryLimit           = 30
	ratioLookback            = 5
)

type OpenInterestPoint struct {
	SumOpenInterest float64 `json:"sumOpenInterest"`
	Timestamp       int64   `json:"timestamp"`
}

type LongShortRatioPoint struct {
	Ratio     float64 `json:"ratio"`
	Timestamp int64   `json:"timestamp"`
}

// DerivativesFeed 提供合约资金费率与持仓量历史。
type DerivativesFeed interface {
	FundingRate(ctx context.Context, symbol string) (float64, error)
	OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)
}

// LongShortRatioProvider 可选，提供大户持仓多空比。
type LongShortRatioProvider interface {
	TopPositionRatio(ctx context.Context, symbol, period string, limit int) ([]LongShortRatioPoint, error)
}

// DerivativesFactors 各因子归一化到 [0,1]，越大越偏多。
type DerivativesFactors struct {
	OpenInterest float64 `json:"open_interest"`
	FundingRate  float64 `json:"funding_rate"`
	BigWhales    float64 `json:"big_whales,omitempty"`
}

// DerivativesReading 是单个合约的衍生品情绪读数。
type DerivativesReading struct {
	Symbol         string             `json:"symbol"`
	FundingRate    float64            `json:"funding_rate"`
	OpenInterest   float64            `json:"open_interest"`
	OIChangePct    float64            `json:"oi_change_pct"`
	LongShortRatio float64            `json:"long_short_ratio,omitempty"`
	Score          int                `json:"score"`
	Tag            string             `json:"tag"`
	Factors        DerivativesFactors `json:"factors"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type derivativesCacheEntry struct {
	At      time.Time
	Reading DerivativesReading
}

// DerivativesService 汇总资金费率、持仓量与多空比，按 symbol 缓存 ttl。
type DerivativesService struct {
	feed   DerivativesFeed
	ratios LongShortRatioProvider
	period string
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]derivativesCacheEntry
	clock func() time.Time
}

// NewDerivativesService 在 feed 同时实现 LongShortRatioProvider 时启用多空比因子。
func NewDerivativesService(feed DerivativesFeed, period string, ttl time.Duration) *DerivativesService {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = defaultDerivativesPeriod
	}
	if ttl <= 0 {
		ttl = defaultDerivativesTTL
	}
	svc := &DerivativesService{
		feed:   feed,
		period: period,
		ttl:    ttl,
		cache:  make(map[string]derivativesCacheEntry),
		clock:  time.Now,
	}
	if ratioProvider, ok := feed.(LongShortRatioProvider); ok {
		svc.ratios = ratioProvider
	}
	return svc
}

// Reading 返回 symbol 的衍生品读数；资金费率或持仓量任一失败即返回错误，多空比失败只忽略该因子。
func (s *DerivativesService) Reading(ctx context.Context, symbol string) (DerivativesReading, error) {
	if s == nil || s.feed == nil {
		return DerivativesReading{}, fmt.Errorf("derivatives service not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return DerivativesReading{}, fmt.Errorf("symbol is required")
	}
	now := s.clock()
	if cached, ok := s.cached(symbol, now); ok {
		return cached, nil
	}

	var (
		funding float64
		oiHist  []OpenInterestPoint
		ratios  []LongShortRatioPoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		funding, err = s.feed.FundingRate(gctx, symbol)
		if err != nil {
			return fmt.Errorf("funding rate %s: %w", symbol, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		oiHist, err = s.feed.OpenInterestHistory(gctx, symbol, s.period, oiHistoryLimit)
		if err != nil {
			return fmt.Errorf("open interest %s: %w", symbol, err)
		}
		return nil
	})
	if s.ratios != nil {
		g.Go(func() error {
			items, err := s.ratios.TopPositionRatio(gctx, symbol, s.period, ratioLookback)
			if err == nil {
				ratios = items
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DerivativesReading{}, err
	}
	if len(oiHist) == 0 {
		return DerivativesReading{}, fmt.Errorf("open interest %s: empty history", symbol)
	}

	reading := scoreDerivatives(symbol, funding, oiHist, ratios)
	reading.UpdatedAt = now
	s.mu.Lock()
	s.cache[symbol] = derivativesCacheEntry{At: now, Reading: reading}
	s.mu.Unlock()
	return reading, nil
}

func (s *DerivativesService) cached(symbol string, now time.Time) (DerivativesReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[symbol]
	if !ok || now.Sub(entry.At) > s.ttl {
		return DerivativesReading{}, false
	}
	return entry.Reading, true
}

var (
	fundingFloor = dec("-0.001")
	fundingCeil  = dec("0.001")
	ratioFloor   = dec("0.9")
	ratioCeil    = dec("2.0")
)

// scoreDerivatives 加权三个因子；缺少多空比时只用持仓量与资金费率。
func scoreDerivatives(symbol string, funding float64, oiHist []OpenInterestPoint, ratios []LongShortRatioPoint) DerivativesReading {
	first := decimal.NewFromFloat(oiHist[0].SumOpenInterest)
	cur := decimal.NewFromFloat(oiHist[len(oiHist)-1].SumOpenInterest)
	minOI, maxOI := minMaxOI(oiHist)
	oiScore := dec("0.5")
	if !maxOI.Equal(minOI) {
		oiScore = normalize(cur, minOI, maxOI)
	}
	fundingScore := normalize(decimal.NewFromFloat(funding), fundingFloor, fundingCeil)

	avg := avgRatio(ratios)
	var score decimal.Decimal
	factors := DerivativesFactors{
		OpenInterest: round3(oiScore),
		FundingRate:  round3(fundingScore),
	}
	if avg.IsPositive() {
		bigScore := normalize(avg, ratioFloor, ratioCeil)
		factors.BigWhales = round3(bigScore)
		score = dec("0.35").Mul(oiScore).Add(dec("0.3").Mul(fundingScore)).Add(dec("0.35").Mul(bigScore))
	} else {
		score = dec("0.5").Mul(oiScore).Add(dec("0.5").Mul(fundingScore))
	}
	score100 := int(decimal.Max(decimal.Zero, decimal.Min(dec("100"), score.Mul(dec("100")))).Round(0).IntPart())

	changePct := 0.0
	if first.IsPositive() {
		changePct, _ = cur.Sub(first).Div(first).Mul(dec("100")).Round(2).Float64()
	}
	ratioVal, _ := avg.Round(3).Float64()
	curVal, _ := cur.Float64()
	return DerivativesReading{
		Symbol:         symbol,
		FundingRate:    funding,
		OpenInterest:   curVal,
		OIChangePct:    changePct,
		LongShortRatio: ratioVal,
		Score:          score100,
		Tag:            derivativesTag(score100),
		Factors:        factors,
	}
}

// Line 输出单行摘要，用于 prompt。
func (r DerivativesReading) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s funding=%.4f%% oi_chg=%+.2f%%", r.Symbol, r.FundingRate*100, r.OIChangePct)
	if r.LongShortRatio > 0 {
		fmt.Fprintf(&b, " top_ls=%.2f", r.LongShortRatio)
	}
	fmt.Fprintf(&b, " score=%d(%s)", r.Score, r.Tag)
	return b.String()
}

func minMaxOI(hist []OpenInterestPoint) (decimal.Decimal, decimal.Decimal) {
	minVal := decimal.NewFromFloat(hist[0].SumOpenInterest)
	maxVal := minVal
	for _, p := range hist[1:] {
		val := decimal.NewFromFloat(p.SumOpenInterest)
		if val.LessThan(minVal) {
			minVal = val
		}
		if val.GreaterThan(maxVal) {
			maxVal = val
		}
	}
	return minVal, maxVal
}

func avgRatio(items []LongShortRatioPoint) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range items {
		sum = sum.Add(decimal.NewFromFloat(v.Ratio))
	}
	return sum.Div(decimal.NewFromInt(int64(len(items))))
}

func normalize(value, minV, maxV decimal.Decimal) decimal.Decimal {
	if maxV.Equal(minV) {
		return decimal.Zero
	}
	val := value.Sub(minV).Div(maxV.Sub(minV))
	if val.IsNegative() {
		return decimal.Zero
	}
	if val.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return val
}

func derivativesTag(score int) string {
	switch {
	case score >= 85:
		return "Strong Long"
	case score >= 65:
		return "Long Bias"
	case score >= 45:
		return "Neutral"
	case score >= 25:
		return "Short Bias"
	default:
		return "Strong Short"
	}
}

func round3(v decimal.Decimal) float64 {
	f, _ := v.Round(3).Float64()
	return f
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
