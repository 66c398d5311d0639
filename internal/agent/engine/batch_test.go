package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/analyst"
	"quorum/internal/decision"
	"quorum/internal/pipeline"
)

func TestPartition(t *testing.T) {
	syms := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	batches := Partition(syms, 4)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{4, 4, 2}, []int{len(batches[0]), len(batches[1]), len(batches[2])})
	assert.Equal(t, []string{"I", "J"}, batches[2])

	var flat []string
	for _, b := range batches {
		flat = append(flat, b...)
	}
	assert.Equal(t, syms, flat)

	for n := 1; n <= 12; n++ {
		for size := 1; size <= 5; size++ {
			seen := make(map[string]int)
			total := 0
			for _, b := range Partition(syms[:min(n, len(syms))], size) {
				assert.LessOrEqual(t, len(b), size)
				for _, s := range b {
					seen[s]++
					total++
				}
			}
			assert.Equal(t, min(n, len(syms)), total)
			for s, c := range seen {
				assert.Equalf(t, 1, c, "%s appears %d times (n=%d size=%d)", s, c, n, size)
			}
		}
	}

	assert.Nil(t, Partition(nil, 4))
	assert.Len(t, Partition(syms, 0), 1)
	assert.Len(t, Partition(syms[:3], 5), 1)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) emit(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return true
}

func (l *eventLog) logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return logs(l.events)
}

func newBatchEngine(f *fixture) *BatchEngine {
	return NewBatchEngine(f.market, f.technical, decision.NewRiskSynthesizer(f.risk), f.ledger)
}

func batchParams(symbols []string, size int) BatchParams {
	return BatchParams{
		CycleID:     "cycle-1",
		Symbols:     symbols,
		BatchSize:   size,
		Interval:    "4h",
		CandleLimit: 60,
		Config:      decision.RiskConfig{MaxPositionPct: 0.1, MinConfidence: 60},
		Context:     pipeline.NewSharedContext(),
	}
}

func TestBatchEngine_DropsFailedFetch(t *testing.T) {
	f := newFixture(1000)
	syms := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	f.candlesFor("BTC/USDT", "SOL/USDT", "XRP/USDT")
	f.market.On("HistoricalData", mock.Anything, "ETH/USDT", "4h", 60).Return(nil, errors.New("429"))
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.MatchedBy(func(in analyst.TechnicalInput) bool {
		return len(in.Series) == 3 && in.Series[0].Symbol == "BTC/USDT" && in.Series[1].Symbol == "SOL/USDT"
	})).Return(analyst.Result[analyst.TechnicalReport]{}, nil)
	f.risk.On("DecideBatch", mock.Anything, mock.MatchedBy(func(in analyst.RiskInput) bool {
		return assert.ObjectsAreEqual([]string{"BTC/USDT", "SOL/USDT", "XRP/USDT"}, in.Symbols)
	})).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictBuy, Confidence: 90},
		analyst.RiskCall{Symbol: "SOL/USDT", Verdict: analyst.VerdictBuy, Confidence: 65},
		analyst.RiskCall{Symbol: "XRP/USDT", Verdict: analyst.VerdictBuy, Confidence: 70},
	), nil)

	var events eventLog
	res := newBatchEngine(f).Run(context.Background(), batchParams(syms, 4), events.emit)
	assert.Len(t, res.Signals, 3)
	assert.Equal(t, 3, res.Analyzed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, f.ledger.Symbols())
	f.technical.AssertExpectations(t)
	f.risk.AssertExpectations(t)
}

func TestBatchEngine_BatchFailureIsolated(t *testing.T) {
	f := newFixture(1000)
	syms := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "ADA/USDT", "DOGE/USDT"}
	f.candlesFor(syms...)
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.MatchedBy(func(in analyst.TechnicalInput) bool { return in.Batch == 1 })).
		Return(analyst.Result[analyst.TechnicalReport]{}, nil)
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.MatchedBy(func(in analyst.TechnicalInput) bool { return in.Batch == 2 })).
		Return(analyst.Result[analyst.TechnicalReport]{}, errBoom)
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.MatchedBy(func(in analyst.TechnicalInput) bool { return in.Batch == 3 })).
		Panic("nil map")
	f.risk.On("DecideBatch", mock.Anything, riskFor(1)).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictBuy, Confidence: 90},
		analyst.RiskCall{Symbol: "ETH/USDT", Verdict: analyst.VerdictAvoid, Confidence: 10},
	), nil)

	var events eventLog
	params := batchParams(syms, 2)
	res := newBatchEngine(f).Run(context.Background(), params, events.emit)

	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "BTC/USDT", res.Signals[0].Symbol)
	assert.Equal(t, []string{"ETH/USDT"}, f.ledger.Symbols())

	var failures []string
	for _, msg := range events.logs() {
		if strings.HasPrefix(msg, "Batch") && strings.Contains(msg, "failed") {
			failures = append(failures, msg)
		}
	}
	assert.Len(t, failures, 2)

	_, ok := params.Context.Get(pipeline.BatchKey(1, pipeline.StageRisk))
	assert.True(t, ok)
	_, ok = params.Context.Get(pipeline.BatchKey(2, pipeline.StageRisk))
	assert.False(t, ok)
}

func TestBatchEngine_AvoidWritesOneLedgerEntry(t *testing.T) {
	f := newFixture(1000)
	f.candlesFor("BTC/USDT")
	f.technicalEcho()
	f.risk.On("DecideBatch", mock.Anything, mock.Anything).Return(riskReport(1,
		analyst.RiskCall{Symbol: "BTC/USDT", Verdict: analyst.VerdictAvoid, Confidence: 42, Summary: "funding too hot"},
	), nil)

	res := newBatchEngine(f).Run(context.Background(), batchParams([]string{"BTC/USDT"}, 4), (&eventLog{}).emit)
	assert.Empty(t, res.Signals)
	require.Len(t, f.ledger.Entries, 1)
	entry := f.ledger.Entries[0]
	assert.Equal(t, "BTC/USDT", entry.Symbol)
	assert.Equal(t, 42.0, entry.ConfidenceScore)
	assert.Equal(t, "funding too hot", entry.Summary)
	assert.Equal(t, "cycle-1", entry.CycleID)
}

func TestBatchEngine_AllFetchesFailSkipsAnalysts(t *testing.T) {
	f := newFixture(1000)
	f.market.On("HistoricalData", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	var events eventLog
	res := newBatchEngine(f).Run(context.Background(), batchParams([]string{"BTC/USDT", "ETH/USDT"}, 4), events.emit)
	assert.Empty(t, res.Signals)
	assert.Zero(t, res.Failed)
	f.technical.AssertNotCalled(t, "AnalyzeTechnical", mock.Anything, mock.Anything)
	f.risk.AssertNotCalled(t, "DecideBatch", mock.Anything, mock.Anything)
}
