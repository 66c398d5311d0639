package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/analyst"
)

type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, in analyst.AllocationInput) (analyst.Result[analyst.AllocationReport], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.AllocationReport]), args.Error(1)
}

func signals(symbols ...string) []BuySignal {
	out := make([]BuySignal, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, BuySignal{Symbol: s, ConfidenceScore: 75})
	}
	return out
}

func buy(sym string, amount float64) analyst.AllocationCall {
	return analyst.AllocationCall{Symbol: sym, Action: analyst.ActionExecuteBuy, AmountUSD: amount}
}

func TestAllocate_NoSignalsSkipsAllocator(t *testing.T) {
	alloc := new(MockAllocator)
	out, err := NewAllocationStage(alloc).Allocate(context.Background(), AllocationRequest{
		Portfolio: PortfolioSnapshot{Balance: 1000, Equity: 1000},
		Config:    baseRisk(),
	})
	require.NoError(t, err)
	assert.Empty(t, out.Plan.Decisions)
	assert.Nil(t, out.Result)
	alloc.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything)
}

func TestAllocate_EnforcesCeilings(t *testing.T) {
	alloc := new(MockAllocator)
	alloc.On("Allocate", mock.Anything, mock.MatchedBy(func(in analyst.AllocationInput) bool {
		return len(in.Signals) == 8 && in.Deployable == 900
	})).Return(analyst.Result[analyst.AllocationReport]{Response: analyst.AllocationReport{Calls: []analyst.AllocationCall{
		buy("A/USDT", 500),
		buy("B/USDT", 150),
		buy("C/USDT", 5),
		buy("D/USDT", 200),
		buy("E/USDT", 200),
		buy("F/USDT", 200),
		buy("ZZZ/USDT", 100),
		buy("H/USDT", 50),
	}}}, nil)

	cfg := RiskConfig{MaxPositionPct: 0.2, MinConfidence: 60, MinTradeUSD: 10, ReservePct: 0.1}
	out, err := NewAllocationStage(alloc).Allocate(context.Background(), AllocationRequest{
		Signals:   signals("A/USDT", "B/USDT", "C/USDT", "D/USDT", "E/USDT", "F/USDT", "G/USDT", "H/USDT"),
		Portfolio: PortfolioSnapshot{Balance: 1000, Equity: 1000},
		Config:    cfg,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Result)

	type row struct {
		sym    string
		action analyst.AllocationAction
		amount float64
	}
	want := []row{
		{"A/USDT", analyst.ActionExecuteBuy, 200},
		{"B/USDT", analyst.ActionExecuteBuy, 150},
		{"C/USDT", analyst.ActionSkip, 0},
		{"D/USDT", analyst.ActionExecuteBuy, 200},
		{"E/USDT", analyst.ActionExecuteBuy, 200},
		{"F/USDT", analyst.ActionExecuteBuy, 150},
		{"H/USDT", analyst.ActionSkip, 0},
		{"G/USDT", analyst.ActionSkip, 0},
	}
	require.Len(t, out.Plan.Decisions, len(want))
	total := 0.0
	for i, w := range want {
		d := out.Plan.Decisions[i]
		assert.Equal(t, w.sym, d.Symbol, "row %d", i)
		assert.Equal(t, w.action, d.Action, "row %d", i)
		assert.Equal(t, w.amount, d.AmountUSD, "row %d", i)
		if d.IsBuy() {
			total += d.AmountUSD
		}
	}
	assert.Equal(t, 900.0, total)
	assert.Equal(t, 900.0, out.Plan.Committed)
	assert.Equal(t, 200.0, out.Plan.PerPositionCap)
	assert.Equal(t, "no allocation returned", out.Plan.Decisions[7].Note)
	assert.Len(t, out.Plan.Buys(), 5)
}

func TestAllocate_AllocatorSkipKeepsRationale(t *testing.T) {
	alloc := new(MockAllocator)
	alloc.On("Allocate", mock.Anything, mock.Anything).Return(analyst.Result[analyst.AllocationReport]{
		Response: analyst.AllocationReport{Calls: []analyst.AllocationCall{
			{Symbol: "A/USDT", Action: analyst.ActionSkip, Rationale: "already exposed"},
		}},
	}, nil)
	out, err := NewAllocationStage(alloc).Allocate(context.Background(), AllocationRequest{
		Signals:   signals("A/USDT"),
		Portfolio: PortfolioSnapshot{Balance: 1000, Equity: 1000},
		Config:    baseRisk(),
	})
	require.NoError(t, err)
	require.Len(t, out.Plan.Decisions, 1)
	assert.Equal(t, analyst.ActionSkip, out.Plan.Decisions[0].Action)
	assert.Equal(t, "already exposed", out.Plan.Decisions[0].Note)
}

func TestAllocate_AllocatorError(t *testing.T) {
	alloc := new(MockAllocator)
	alloc.On("Allocate", mock.Anything, mock.Anything).
		Return(analyst.Result[analyst.AllocationReport]{}, errors.New("timeout"))
	_, err := NewAllocationStage(alloc).Allocate(context.Background(), AllocationRequest{
		Signals:   signals("A/USDT"),
		Portfolio: PortfolioSnapshot{Balance: 100, Equity: 100},
		Config:    baseRisk(),
	})
	assert.ErrorContains(t, err, "timeout")
}

func TestQuantity(t *testing.T) {
	assert.Equal(t, 0.00333333, Quantity(100, 30000))
	assert.Equal(t, 0.0, Quantity(100, 0))
	assert.Equal(t, 12.34, Cents(12.3499))
}
