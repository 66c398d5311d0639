package gate

import (
	"context"
	"fmt"
	"strings"

	"quorum/internal/market"
	symbolpkg "quorum/internal/pkg/symbol"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

var _ market.DerivativesFeed = (*Source)(nil)

func (s *Source) FundingRate(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.rest == nil {
		return 0, fmt.Errorf("gate source not initialized")
	}
	normalized := symbolpkg.Normalize(sym)
	if normalized == "" {
		return 0, fmt.Errorf("invalid symbol: %s", sym)
	}
	res, _, err := s.rest.FuturesApi.GetFuturesContract(ctx, s.cfg.Settle, symbolpkg.Gate.ToExchange(normalized))
	if err != nil {
		return 0, err
	}
	return parseFloat(res.FundingRate), nil
}

// OpenInterestHistory 基于合约统计接口，持仓量单位为张。
func (s *Source) OpenInterestHistory(ctx context.Context, sym, period string, limit int) ([]market.OpenInterestPoint, error) {
	if s == nil || s.rest == nil {
		return nil, fmt.Errorf("gate source not initialized")
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > gateMaxHistoryLimit {
		limit = gateMaxHistoryLimit
	}
	normalized := symbolpkg.Normalize(sym)
	period = strings.ToLower(strings.TrimSpace(period))
	if normalized == "" || period == "" {
		return nil, fmt.Errorf("symbol and period are required")
	}
	opts := &gateapi.ListContractStatsOpts{
		Interval: optional.NewString(period),
		Limit:    optional.NewInt32(int32(limit)),
	}
	stats, _, err := s.rest.FuturesApi.ListContractStats(ctx, s.cfg.Settle, symbolpkg.Gate.ToExchange(normalized), opts)
	if err != nil {
		return nil, err
	}
	points := make([]market.OpenInterestPoint, 0, len(stats))
	for _, item := range stats {
		points = append(points, market.OpenInterestPoint{
			SumOpenInterest: float64(item.OpenInterest),
			Timestamp:       item.Time * 1000,
		})
	}
	return points, nil
}
