package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	funding    float64
	fundingErr error
	oi         []OpenInterestPoint
	calls      atomic.Int32
	gotPeriod  string
}

func (f *fakeFeed) FundingRate(context.Context, string) (float64, error) {
	f.calls.Add(1)
	return f.funding, f.fundingErr
}

func (f *fakeFeed) OpenInterestHistory(_ context.Context, _ string, period string, _ int) ([]OpenInterestPoint, error) {
	f.gotPeriod = period
	return f.oi, nil
}

type fakeRatioFeed struct {
	fakeFeed
	ratios []LongShortRatioPoint
}

func (f *fakeRatioFeed) TopPositionRatio(context.Context, string, string, int) ([]LongShortRatioPoint, error) {
	return f.ratios, nil
}

func risingOI() []OpenInterestPoint {
	return []OpenInterestPoint{{SumOpenInterest: 100}, {SumOpenInterest: 80}, {SumOpenInterest: 120}}
}

func TestDerivativesService_ScoresWithoutRatios(t *testing.T) {
	feed := &fakeFeed{funding: 0.0005, oi: risingOI()}
	svc := NewDerivativesService(feed, "4H", time.Minute)

	r, err := svc.Reading(context.Background(), "btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "4h", feed.gotPeriod)
	assert.Equal(t, "BTC/USDT", r.Symbol)
	assert.Equal(t, 120.0, r.OpenInterest)
	assert.Equal(t, 20.0, r.OIChangePct)
	assert.Equal(t, 1.0, r.Factors.OpenInterest)
	assert.Equal(t, 0.75, r.Factors.FundingRate)
	assert.Equal(t, 88, r.Score)
	assert.Equal(t, "Strong Long", r.Tag)
	assert.Contains(t, r.Line(), "funding=0.0500%")
	assert.NotContains(t, r.Line(), "top_ls")
}

func TestDerivativesService_UsesLongShortRatio(t *testing.T) {
	feed := &fakeRatioFeed{
		fakeFeed: fakeFeed{funding: 0.0005, oi: risingOI()},
		ratios:   []LongShortRatioPoint{{Ratio: 1.4}, {Ratio: 1.5}},
	}
	r, err := NewDerivativesService(feed, "", 0).Reading(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, "1h", feed.gotPeriod)
	assert.Equal(t, 0.5, r.Factors.BigWhales)
	assert.Equal(t, 1.45, r.LongShortRatio)
	assert.Equal(t, 75, r.Score)
	assert.Equal(t, "Long Bias", r.Tag)
}

func TestDerivativesService_CachesUntilTTL(t *testing.T) {
	feed := &fakeFeed{funding: 0, oi: risingOI()}
	svc := NewDerivativesService(feed, "1h", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	_, err := svc.Reading(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	_, err = svc.Reading(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), feed.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = svc.Reading(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), feed.calls.Load())
}

func TestDerivativesService_Errors(t *testing.T) {
	feed := &fakeFeed{fundingErr: errors.New("down"), oi: risingOI()}
	_, err := NewDerivativesService(feed, "1h", 0).Reading(context.Background(), "BTC/USDT")
	assert.ErrorContains(t, err, "funding rate BTC/USDT")

	empty := &fakeFeed{}
	_, err = NewDerivativesService(empty, "1h", 0).Reading(context.Background(), "BTC/USDT")
	assert.ErrorContains(t, err, "empty history")

	var nilSvc *DerivativesService
	_, err = nilSvc.Reading(context.Background(), "BTC/USDT")
	assert.Error(t, err)
}
