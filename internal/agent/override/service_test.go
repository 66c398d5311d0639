package override

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/agent/agenttest"
	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/reconcile"
	"quorum/internal/agent/snapshot"
	"quorum/internal/config"
	"quorum/internal/decision"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, action reconcile.HumanAction) {
	m.Called(ctx, action)
}

func seeded() *agenttest.MemoryPortfolio {
	p := agenttest.NewMemoryPortfolio(1000)
	p.Seed(decision.PositionSnapshot{Symbol: "ETH/USDT", Side: decision.SideShort, Quantity: 2, EntryPrice: 3000})
	p.Seed(decision.PositionSnapshot{Symbol: "SOL/USDT", Side: decision.SideLong, Quantity: 10, EntryPrice: 100})
	return p
}

func TestRequestValidate(t *testing.T) {
	err := Request{Symbol: "", Amount: 0}.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "symbol is required", verr.Fields["symbol"])
	assert.Equal(t, "amount must be greater than 0", verr.Fields["amount"])

	err = Request{Symbol: "ETH", Amount: 1}.Validate()
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["symbol"], "trading pair")
	assert.NotContains(t, verr.Fields, "amount")

	assert.NoError(t, Request{Symbol: "ethusdt", Amount: 0.5}.Validate())
}

func TestCloseShort_ValidationHasNoSideEffects(t *testing.T) {
	store := seeded()
	mkt := new(agenttest.MockMarket)
	d := new(MockDispatcher)
	_, _, err := NewService(store, mkt, d).CloseShort(context.Background(), Request{Symbol: "ETH/USDT", Amount: -1, Reason: "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	trades, _ := store.Trades(context.Background(), 0)
	assert.Empty(t, trades)
	mkt.AssertNotCalled(t, "CurrentPrice", mock.Anything, mock.Anything)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestCloseShort_WithoutReasonSkipsReconciler(t *testing.T) {
	store := seeded()
	mkt := new(agenttest.MockMarket)
	mkt.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(2900.0, nil)
	d := new(MockDispatcher)

	snap, trade, err := NewService(store, mkt, d).CloseShort(context.Background(), Request{Symbol: "eth/usdt", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, decision.TradeCloseShort, trade.Action)
	assert.Equal(t, 100.0, trade.RealizedPnL)
	pos, ok := snap.Position("ETH/USDT", decision.SideShort)
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Quantity)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestCloseShort_WithReasonDispatchesPreCloseSnapshot(t *testing.T) {
	store := seeded()
	mkt := new(agenttest.MockMarket)
	mkt.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(2900.0, nil)
	d := new(MockDispatcher)
	d.On("Dispatch", mock.Anything, mock.MatchedBy(func(a reconcile.HumanAction) bool {
		return a.Reason == "CPI tomorrow" && a.Position.Quantity == 2 && a.Trade.Quantity == 2
	})).Return()

	snap, _, err := NewService(store, mkt, d).CloseShort(context.Background(), Request{Symbol: "ETH/USDT", Amount: 5, Reason: " CPI tomorrow "})
	require.NoError(t, err)
	_, ok := snap.Position("ETH/USDT", decision.SideShort)
	assert.False(t, ok)
	d.AssertExpectations(t)
}

type failingConfig struct{}

func (failingConfig) Load() (*config.Config, error) { return nil, errors.New("config unreadable") }

type unusedGatherer struct{}

func (unusedGatherer) Gather(context.Context, snapshot.Options) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, errors.New("unreachable")
}

func TestCloseShort_ReconcilerFailureDoesNotFailClose(t *testing.T) {
	store := seeded()
	mkt := new(agenttest.MockMarket)
	mkt.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(3100.0, nil)

	var outcome reconcile.Outcome
	r := reconcile.NewReconciler(failingConfig{}, unusedGatherer{}, new(agenttest.MockReviewer), new(agenttest.MockConflictLedger),
		func(o reconcile.Outcome) { outcome = o })

	snap, trade, err := NewService(store, mkt, r).CloseShort(context.Background(), Request{Symbol: "ETH/USDT", Amount: 2, Reason: "stop out"})
	r.Wait()
	require.NoError(t, err)
	assert.Equal(t, -200.0, trade.RealizedPnL)
	assert.InDelta(t, 800, snap.Balance, 1e-9)
	assert.ErrorContains(t, outcome.Ignored, "config unreadable")
}

func TestCloseShort_UnknownPosition(t *testing.T) {
	store := seeded()
	_, _, err := NewService(store, new(agenttest.MockMarket), nil).CloseShort(context.Background(), Request{Symbol: "BTC/USDT", Amount: 1})
	assert.ErrorIs(t, err, interfaces.ErrPositionNotFound)
}

func TestSellAndOpenShort(t *testing.T) {
	store := seeded()
	mkt := new(agenttest.MockMarket)
	mkt.On("CurrentPrice", mock.Anything, "SOL/USDT").Return(120.0, nil)
	mkt.On("CurrentPrice", mock.Anything, "BTC/USDT").Return(60000.0, nil)
	svc := NewService(store, mkt, nil)

	snap, trade, err := svc.Sell(context.Background(), Request{Symbol: "SOL/USDT", Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, 80.0, trade.RealizedPnL)
	pos, _ := snap.Position("SOL/USDT", decision.SideLong)
	assert.Equal(t, 6.0, pos.Quantity)

	snap, _, err = svc.OpenShort(context.Background(), Request{Symbol: "BTC/USDT", Amount: 0.01})
	require.NoError(t, err)
	short, ok := snap.Position("BTC/USDT", decision.SideShort)
	require.True(t, ok)
	assert.Equal(t, 60000.0, short.EntryPrice)
}
