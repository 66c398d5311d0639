package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/agent/agenttest"
	"quorum/internal/agent/snapshot"
	"quorum/internal/analyst"
	"quorum/internal/config"
)

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load() (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	copied := *s.cfg
	return &copied, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{CandleInterval: "4h", CandleLimit: 60},
		Cycle: config.CycleConfig{
			MinimumBalance:      50,
			MacroScoreThreshold: 30,
			SymbolsToAnalyze:    6,
			BatchSize:           3,
		},
		Risk: config.RiskConfig{MaxPositionPct: 0.1, MinConfidence: 60, MinTradeUSD: 10, ReservePct: 0.1},
	}
}

// stubGatherer 返回固定结论；gate 非空时阻塞到 gate 关闭或 ctx 取消。
type stubGatherer struct {
	regime    float64
	sentiment float64
	err       error
	gate      chan struct{}

	mu    sync.Mutex
	calls int
	opts  snapshot.Options
}

func (g *stubGatherer) Gather(ctx context.Context, opts snapshot.Options) (snapshot.Snapshot, error) {
	g.mu.Lock()
	g.calls++
	g.opts = opts
	g.mu.Unlock()
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return snapshot.Snapshot{}, ctx.Err()
		}
	}
	if g.err != nil {
		return snapshot.Snapshot{}, g.err
	}
	return snapshot.Snapshot{
		Macro:     analyst.Result[analyst.MacroResult]{Response: analyst.MacroResult{RegimeScore: g.regime, Summary: "macro"}},
		Sentiment: analyst.Result[analyst.SentimentResult]{Response: analyst.SentimentResult{Score: g.sentiment, Summary: "mood"}},
		At:        time.Now(),
	}, nil
}

func (g *stubGatherer) LastOptions() snapshot.Options {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opts
}

func (g *stubGatherer) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	cfg       *config.Config
	cfgErr    error
	market    *agenttest.MockMarket
	technical *agenttest.MockTechnical
	risk      *agenttest.MockRisk
	allocator *agenttest.MockAllocator
	portfolio *agenttest.MemoryPortfolio
	ledger    *agenttest.MemoryOpportunities
	cycles    *agenttest.MemoryCycles
	gatherer  *stubGatherer
}

func newFixture(balance float64) *fixture {
	return &fixture{
		cfg:       testConfig(),
		market:    new(agenttest.MockMarket),
		technical: new(agenttest.MockTechnical),
		risk:      new(agenttest.MockRisk),
		allocator: new(agenttest.MockAllocator),
		portfolio: agenttest.NewMemoryPortfolio(balance),
		ledger:    &agenttest.MemoryOpportunities{},
		cycles:    &agenttest.MemoryCycles{},
		gatherer:  &stubGatherer{regime: 55, sentiment: 50},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return NewOrchestrator(Dependencies{
		Config:        staticConfig{cfg: f.cfg, err: f.cfgErr},
		Market:        f.market,
		Portfolio:     f.portfolio,
		Gatherer:      f.gatherer,
		Technical:     f.technical,
		Risk:          f.risk,
		Allocator:     f.allocator,
		Opportunities: f.ledger,
		Cycles:        f.cycles,
	})
}

// technicalEcho 返回与输入 symbol 对应的技术面评估。
func (f *fixture) technicalEcho() {
	f.technical.On("AnalyzeTechnical", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in analyst.TechnicalInput) analyst.Result[analyst.TechnicalReport] {
			rep := analyst.TechnicalReport{Batch: in.Batch}
			for _, s := range in.Series {
				rep.Assessments = append(rep.Assessments, analyst.TechnicalAssessment{Symbol: s.Symbol, Trend: "up", Confidence: 70})
			}
			return analyst.Result[analyst.TechnicalReport]{Response: rep}
		},
		nil,
	)
}

func (f *fixture) candlesFor(symbols ...string) {
	for _, sym := range symbols {
		f.market.On("HistoricalData", mock.Anything, sym, "4h", 60).Return(agenttest.Candles(60, 100), nil)
	}
}

func riskFor(batch int) any {
	return mock.MatchedBy(func(in analyst.RiskInput) bool { return in.Batch == batch })
}

func riskReport(batch int, calls ...analyst.RiskCall) analyst.Result[analyst.RiskReport] {
	return analyst.Result[analyst.RiskReport]{Response: analyst.RiskReport{Batch: batch, Calls: calls}}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			require.FailNow(t, "event stream did not close")
		}
	}
}

func logs(events []Event) []string {
	var out []string
	for _, ev := range events {
		if l, ok := ev.(LogEvent); ok {
			out = append(out, l.Message)
		}
	}
	return out
}

var errBoom = errors.New("boom")
