package binance

import (
	"context"
	"fmt"
	"strings"

	"quorum/internal/market"
	symbolpkg "quorum/internal/pkg/symbol"
)

const maxStatsLimit = 500

var (
	_ market.DerivativesFeed        = (*Source)(nil)
	_ market.LongShortRatioProvider = (*Source)(nil)
)

// FundingRate 获取最新资金费率（例如 0.0001 即 0.01%）。
func (s *Source) FundingRate(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	binanceSymbol := symbolpkg.Parse(sym).Binance()
	if binanceSymbol == "" {
		return 0, fmt.Errorf("invalid symbol: %s", sym)
	}
	res, err := s.client.NewPremiumIndexService().Symbol(binanceSymbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, binanceSymbol) {
			return parseFloat(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("funding rate not available for %s", sym)
}

// OpenInterestHistory 返回持仓量统计，旧的在前。
func (s *Source) OpenInterestHistory(ctx context.Context, sym, period string, limit int) ([]market.OpenInterestPoint, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	binanceSymbol, period, limit, err := statsParams(sym, period, limit)
	if err != nil {
		return nil, err
	}
	stats, err := s.client.NewOpenInterestStatisticsService().Symbol(binanceSymbol).Period(period).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]market.OpenInterestPoint, 0, len(stats))
	for _, item := range stats {
		if item == nil {
			continue
		}
		points = append(points, market.OpenInterestPoint{
			SumOpenInterest: parseFloat(item.SumOpenInterest),
			Timestamp:       item.Timestamp,
		})
	}
	return points, nil
}

// TopPositionRatio 返回大户持仓多空比。
func (s *Source) TopPositionRatio(ctx context.Context, sym, period string, limit int) ([]market.LongShortRatioPoint, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	binanceSymbol, period, limit, err := statsParams(sym, period, limit)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.NewTopLongShortPositionRatioService().
		Symbol(binanceSymbol).
		Period(period).
		Limit(uint32(limit)).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]market.LongShortRatioPoint, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		points = append(points, market.LongShortRatioPoint{
			Ratio:     parseFloat(item.LongShortRatio),
			Timestamp: int64(item.Timestamp),
		})
	}
	return points, nil
}

func statsParams(sym, period string, limit int) (string, string, int, error) {
	binanceSymbol := symbolpkg.Parse(sym).Binance()
	period = strings.ToLower(strings.TrimSpace(period))
	if binanceSymbol == "" || period == "" {
		return "", "", 0, fmt.Errorf("symbol and period are required")
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > maxStatsLimit {
		limit = maxStatsLimit
	}
	return binanceSymbol, period, limit, nil
}
