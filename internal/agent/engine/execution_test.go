package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/analyst"
	"quorum/internal/decision"
)

func buyDecision(sym string, amount float64) decision.AllocationDecision {
	return decision.AllocationDecision{Symbol: sym, Action: analyst.ActionExecuteBuy, AmountUSD: amount}
}

func TestExecution_NeverOverdrawsBalance(t *testing.T) {
	f := newFixture(100)
	f.market.On("CurrentPrice", mock.Anything, "BTC/USDT").Return(40000.0, nil)
	f.market.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(3000.0, nil)
	f.market.On("CurrentPrice", mock.Anything, "SOL/USDT").Return(150.0, nil)

	stage := NewExecutionStage(f.market, f.portfolio)
	start, err := f.portfolio.GetPortfolio(context.Background())
	require.NoError(t, err)

	var events eventLog
	execs, final := stage.Execute(context.Background(), []decision.AllocationDecision{
		buyDecision("BTC/USDT", 80),
		buyDecision("ETH/USDT", 80),
		buyDecision("SOL/USDT", 80),
	}, start, events.emit)

	require.Len(t, execs, 3)
	assert.True(t, execs[0].Filled())
	assert.True(t, execs[1].Filled())
	assert.InDelta(t, 20, execs[1].AmountUSD, 1e-9)
	assert.False(t, execs[2].Filled())
	assert.Equal(t, "no balance left", execs[2].Skipped)
	assert.GreaterOrEqual(t, final.Balance, 0.0)
	assert.GreaterOrEqual(t, f.portfolio.MinBalance, 0.0)
	assert.Equal(t, 2, f.portfolio.BuyCalls)
}

func TestExecution_TradeFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(1000)
	f.market.On("CurrentPrice", mock.Anything, "BTC/USDT").Return(0.0, errors.New("ticker unavailable"))
	f.market.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(2500.0, nil)
	f.market.On("CurrentPrice", mock.Anything, "SOL/USDT").Return(100.0, nil)
	f.portfolio.FailBuy = map[string]error{"ETH/USDT": errors.New("rejected")}

	stage := NewExecutionStage(f.market, f.portfolio)
	start, _ := f.portfolio.GetPortfolio(context.Background())
	var events eventLog
	execs, final := stage.Execute(context.Background(), []decision.AllocationDecision{
		buyDecision("BTC/USDT", 100),
		buyDecision("ETH/USDT", 100),
		{Symbol: "XRP/USDT", Action: analyst.ActionSkip},
		buyDecision("SOL/USDT", 100),
	}, start, events.emit)

	require.Len(t, execs, 3)
	assert.ErrorContains(t, execs[0].Err, "ticker unavailable")
	assert.ErrorContains(t, execs[1].Err, "rejected")
	require.True(t, execs[2].Filled())
	assert.Equal(t, 1.0, execs[2].Quantity)
	assert.InDelta(t, 900, final.Balance, 1e-9)
	assert.Len(t, events.logs(), 3)
}

func TestExecution_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stage := NewExecutionStage(f.market, f.portfolio)
	execs, _ := stage.Execute(ctx, []decision.AllocationDecision{buyDecision("BTC/USDT", 100)}, decision.PortfolioSnapshot{Balance: 1000}, (&eventLog{}).emit)
	require.Len(t, execs, 1)
	assert.ErrorIs(t, execs[0].Err, context.Canceled)
	f.market.AssertNotCalled(t, "CurrentPrice", mock.Anything, mock.Anything)
}
