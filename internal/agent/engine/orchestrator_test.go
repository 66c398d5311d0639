package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/agent/agenttest"
	"quorum/internal/analysis/indicator"
	"quorum/internal/analyst"
	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/pipeline"
)

var sixSymbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "ADA/USDT", "DOGE/USDT"}

func TestOrchestrator_FullCycle(t *testing.T) {
	f := newFixture(1000)
	f.market.On("TopSymbols", mock.Anything, 6).Return(sixSymbols, nil)
	f.candlesFor(sixSymbols...)
	f.technicalEcho()
	f.risk.On("DecideBatch", mock.Anything, riskFor(1)).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictBuy, Confidence: 80, Summary: "trend intact"},
		analyst.RiskCall{Symbol: "ETH/USDT", Verdict: analyst.VerdictAvoid, Confidence: 40, Summary: "range"},
		analyst.RiskCall{Symbol: "SOL/USDT", Verdict: analyst.VerdictAvoid, Confidence: 35, Summary: "overextended"},
	), nil)
	f.risk.On("DecideBatch", mock.Anything, riskFor(2)).Return(riskReport(2,
		analyst.RiskCall{Symbol: "XRP/USDT", Verdict: analyst.VerdictBuy, Confidence: 75, Summary: "breakout"},
		analyst.RiskCall{Symbol: "ADA/USDT", Verdict: analyst.VerdictAvoid, Confidence: 20, Summary: "weak"},
		analyst.RiskCall{Symbol: "DOGE/USDT", Verdict: analyst.VerdictBuy, Confidence: 40, Summary: "meme"},
	), nil)
	f.allocator.On("Allocate", mock.Anything, mock.MatchedBy(func(in analyst.AllocationInput) bool {
		return len(in.Signals) == 2 && in.Signals[0].Symbol == "BTC/USDT" && in.Signals[1].Symbol == "XRP/USDT"
	})).Return(analyst.Result[analyst.AllocationReport]{Response: analyst.AllocationReport{Calls: []analyst.AllocationCall{
		{Symbol: "BTC/USDT", Action: analyst.ActionExecuteBuy, AmountUSD: 300},
		{Symbol: "XRP/USDT", Action: analyst.ActionExecuteBuy, AmountUSD: 80},
	}}}, nil)
	f.market.On("CurrentPrice", mock.Anything, "BTC/USDT").Return(50000.0, nil)
	f.market.On("CurrentPrice", mock.Anything, "XRP/USDT").Return(0.5, nil)

	o := f.orchestrator()
	ch, err := o.Start(context.Background(), "test")
	require.NoError(t, err)
	events := drain(t, ch)
	assert.Equal(t, StateIdle, o.State())

	report, ok := o.LastReport()
	require.True(t, ok)
	assert.Equal(t, StateCompleted, report.State)
	assert.Len(t, report.Signals, 2)
	assert.Equal(t, 2, report.Filled())
	assert.ElementsMatch(t, []string{"ETH/USDT", "SOL/USDT", "ADA/USDT", "DOGE/USDT"}, f.ledger.Symbols())
	for _, d := range report.Plan.Decisions {
		assert.NotContains(t, f.ledger.Symbols(), d.Symbol)
	}

	snap, err := f.portfolio.GetPortfolio(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000-100-80, snap.Balance, 1e-6)
	assert.GreaterOrEqual(t, f.portfolio.MinBalance, 0.0)

	var last ContextEvent
	for _, ev := range events {
		if c, ok := ev.(ContextEvent); ok {
			last = c
		}
	}
	keys := last.Snapshot.Keys()
	require.Len(t, keys, 8)
	assert.Equal(t, []string{"macro", "sentiment", "risk_config"}, keys[:3])
	assert.ElementsMatch(t, []string{"batch-1:technical", "batch-1:risk", "batch-2:technical", "batch-2:risk"}, keys[3:7])
	assert.Equal(t, "allocation", keys[7])

	_, isErr := events[len(events)-1].(ErrorEvent)
	assert.False(t, isErr)
	summary, ok := f.cycles.Last()
	require.True(t, ok)
	assert.Equal(t, "completed", summary.State)
	assert.Equal(t, 2, summary.Executed)
	f.allocator.AssertExpectations(t)
}

func TestOrchestrator_SecondBatchWithoutBuys(t *testing.T) {
	f := newFixture(1000)
	f.market.On("TopSymbols", mock.Anything, 6).Return(sixSymbols, nil)
	f.candlesFor(sixSymbols...)
	f.technicalEcho()
	f.risk.On("DecideBatch", mock.Anything, riskFor(1)).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictBuy, Confidence: 80, Summary: "trend intact"},
		analyst.RiskCall{Symbol: "ETH/USDT", Verdict: analyst.VerdictBuy, Confidence: 75, Summary: "higher lows"},
		analyst.RiskCall{Symbol: "SOL/USDT", Verdict: analyst.VerdictAvoid, Confidence: 35, Summary: "overextended"},
	), nil)
	f.risk.On("DecideBatch", mock.Anything, riskFor(2)).Return(riskReport(2,
		analyst.RiskCall{Symbol: "XRP/USDT", Verdict: analyst.VerdictAvoid, Confidence: 30, Summary: "range"},
		analyst.RiskCall{Symbol: "ADA/USDT", Verdict: analyst.VerdictAvoid, Confidence: 20, Summary: "weak"},
		analyst.RiskCall{Symbol: "DOGE/USDT", Verdict: analyst.VerdictAvoid, Confidence: 25, Summary: "meme"},
	), nil)
	var received []string
	f.allocator.On("Allocate", mock.Anything, mock.MatchedBy(func(in analyst.AllocationInput) bool {
		received = received[:0]
		for _, s := range in.Signals {
			received = append(received, s.Symbol)
		}
		return len(in.Signals) == 2
	})).Return(analyst.Result[analyst.AllocationReport]{Response: analyst.AllocationReport{Calls: []analyst.AllocationCall{
		{Symbol: "BTC/USDT", Action: analyst.ActionExecuteBuy, AmountUSD: 100},
		{Symbol: "ETH/USDT", Action: analyst.ActionExecuteBuy, AmountUSD: 50},
	}}}, nil).Once()
	f.market.On("CurrentPrice", mock.Anything, "BTC/USDT").Return(50000.0, nil)
	f.market.On("CurrentPrice", mock.Anything, "ETH/USDT").Return(2500.0, nil)

	report, err := f.orchestrator().RunOnce(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)

	f.allocator.AssertNumberOfCalls(t, "Allocate", 1)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, received)
	require.Len(t, report.Signals, 2)
	assert.Equal(t, "BTC/USDT", report.Signals[0].Symbol)
	assert.Equal(t, "ETH/USDT", report.Signals[1].Symbol)
	assert.Equal(t, 4, report.Avoided)
	assert.ElementsMatch(t, []string{"SOL/USDT", "XRP/USDT", "ADA/USDT", "DOGE/USDT"}, f.ledger.Symbols())

	risk2, ok := report.Context.Get(pipeline.BatchKey(2, pipeline.StageRisk))
	require.True(t, ok)
	assert.Len(t, risk2.(analyst.RiskReport).Calls, 3)
	assert.Equal(t, 2, report.Filled())
}

func TestOrchestrator_UsesConfiguredIndicators(t *testing.T) {
	f := newFixture(1000)
	f.cfg.Cycle.SymbolsToAnalyze = 1
	f.cfg.Market.Indicators = config.IndicatorConfig{EMAFast: 3, EMASlow: 5, RSIPeriod: 7, ATRPeriod: 7, Overbought: 80, Oversold: 20}
	f.market.On("TopSymbols", mock.Anything, 1).Return([]string{"BTC/USDT"}, nil)
	f.candlesFor("BTC/USDT")

	var digest indicator.Digest
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in analyst.TechnicalInput) analyst.Result[analyst.TechnicalReport] {
			if len(in.Series) == 1 {
				digest = in.Series[0].Digest
			}
			return analyst.Result[analyst.TechnicalReport]{Response: analyst.TechnicalReport{Batch: in.Batch}}
		},
		nil,
	)
	f.risk.On("DecideBatch", mock.Anything, mock.Anything).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictAvoid, Confidence: 30},
	), nil)

	_, err := f.orchestrator().RunOnce(context.Background(), "test")
	require.NoError(t, err)

	want, err := indicator.Compute("BTC/USDT", "4h", agenttest.Candles(60, 100), indicator.Settings{EMAFast: 3, EMASlow: 5, RSIPeriod: 7, ATRPeriod: 7, Overbought: 80, Oversold: 20})
	require.NoError(t, err)
	assert.Equal(t, want.EMAFast, digest.EMAFast)
	assert.Equal(t, want.RSI, digest.RSI)

	opts := f.gatherer.LastOptions()
	assert.Equal(t, 3, opts.Indicators.EMAFast)
	assert.Equal(t, 5, opts.Indicators.EMASlow)
	assert.Equal(t, 20.0, opts.Indicators.Oversold)
}

func TestOrchestrator_GateStopsCycle(t *testing.T) {
	f := newFixture(1000)
	f.gatherer.regime = 20

	o := f.orchestrator()
	ch, err := o.Start(context.Background(), "test")
	require.NoError(t, err)
	events := drain(t, ch)

	require.NotEmpty(t, events)
	lastCtx := -1
	for i, ev := range events {
		if _, ok := ev.(ContextEvent); ok {
			lastCtx = i
		}
	}
	tail := events[lastCtx+1:]
	require.Len(t, tail, 1)
	gate, ok := tail[0].(LogEvent)
	require.True(t, ok)
	assert.Contains(t, gate.Message, "below threshold")

	f.market.AssertNotCalled(t, "TopSymbols", mock.Anything, mock.Anything)
	f.allocator.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything)
	assert.Zero(t, f.portfolio.BuyCalls)
	report, _ := o.LastReport()
	assert.Equal(t, StateCompleted, report.State)
}

func TestOrchestrator_MinimumBalanceSkipsCycle(t *testing.T) {
	f := newFixture(10)
	o := f.orchestrator()
	ch, err := o.Start(context.Background(), "test")
	require.NoError(t, err)
	events := drain(t, ch)

	msgs := logs(events)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "below minimum")
	assert.Zero(t, f.gatherer.Calls())
}

func TestRunOnce_LogsEventsBeforeFinish(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	f := newFixture(10)
	report, err := f.orchestrator().RunOnce(context.Background(), "schedule")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)

	out := buf.String()
	skipped := strings.Index(out, "below minimum")
	finished := strings.Index(out, "cycle finished")
	require.GreaterOrEqual(t, skipped, 0)
	require.GreaterOrEqual(t, finished, 0)
	assert.Less(t, skipped, finished)
}

func TestOrchestrator_ConfigFailureFailsCycle(t *testing.T) {
	f := newFixture(1000)
	f.cfgErr = errors.New("open config.yaml: permission denied")
	o := f.orchestrator()

	report, err := o.RunOnce(context.Background(), "test")
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.Message, "permission denied")
	assert.Equal(t, StateIdle, o.State())
	assert.Zero(t, f.gatherer.Calls())
}

func TestOrchestrator_FailedCycleEmitsErrorLast(t *testing.T) {
	f := newFixture(1000)
	f.gatherer.err = errBoom
	o := f.orchestrator()
	ch, err := o.Start(context.Background(), "test")
	require.NoError(t, err)
	events := drain(t, ch)
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, last.Message, "boom")
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	f := newFixture(1000)
	f.gatherer.regime = 10
	f.gatherer.gate = make(chan struct{})
	o := f.orchestrator()

	ch, err := o.Start(context.Background(), "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.gatherer.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateGathering, o.State())

	_, err = o.Start(context.Background(), "second")
	assert.ErrorIs(t, err, ErrCycleActive)

	close(f.gatherer.gate)
	drain(t, ch)
	assert.Equal(t, StateIdle, o.State())

	ch, err = o.Start(context.Background(), "third")
	require.NoError(t, err)
	drain(t, ch)
}

func TestOrchestrator_CancelStopsCycle(t *testing.T) {
	f := newFixture(1000)
	f.gatherer.gate = make(chan struct{})
	o := f.orchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.Start(ctx, "stream")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.gatherer.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	drain(t, ch)

	report, ok := o.LastReport()
	require.True(t, ok)
	assert.Equal(t, StateFailed, report.State)
	assert.ErrorIs(t, report.Err, context.Canceled)
	assert.Equal(t, StateIdle, o.State())
}

func TestOrchestrator_NoSignalsSkipsAllocation(t *testing.T) {
	f := newFixture(1000)
	f.cfg.Cycle.SymbolsToAnalyze = 2
	f.market.On("TopSymbols", mock.Anything, 2).Return([]string{"btcusdt", "ETH/USDT", "ETH/USDT"}, nil)
	f.candlesFor("BTC/USDT", "ETH/USDT")
	f.technicalEcho()
	f.risk.On("DecideBatch", mock.Anything, mock.Anything).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictAvoid, Confidence: 30},
	), nil)

	o := f.orchestrator()
	report, err := o.RunOnce(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, report.Symbols)
	assert.Empty(t, report.Signals)
	assert.Equal(t, 2, report.Avoided)
	f.allocator.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything)
	_, ok := report.Context.Get(pipeline.CycleKey(pipeline.StageAllocation))
	assert.False(t, ok)
}
