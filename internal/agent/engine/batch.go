package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/snapshot"
	"quorum/internal/analysis/indicator"
	"quorum/internal/analyst"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/pipeline"
)

// Partition 把 symbols 按顺序切成 ceil(n/size) 个连续批次。
func Partition(symbols []string, size int) [][]string {
	if len(symbols) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(symbols)
	}
	out := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, append([]string(nil), symbols[start:end]...))
	}
	return out
}

// BatchParams 是一次批量分析的输入，每轮由当前配置构造。
type BatchParams struct {
	CycleID     string
	Symbols     []string
	BatchSize   int
	MaxParallel int
	Interval    string
	CandleLimit int
	Indicators  indicator.Settings
	Macro       analyst.MacroResult
	Sentiment   analyst.SentimentResult
	Config      decision.RiskConfig
	Context     *pipeline.SharedContext
}

// BatchResult 汇总所有批次。Signals 按批次顺序排列。
type BatchResult struct {
	Batches  int
	Signals  []decision.BuySignal
	Analyzed int
	Avoided  int
	Failed   int
}

type batchOutcome struct {
	signals  []decision.BuySignal
	analyzed int
	avoided  int
	err      error
}

// BatchEngine 并发驱动每个批次完成 技术分析 → 风控决策。
type BatchEngine struct {
	Market    interfaces.MarketDataProvider
	Technical analyst.TechnicalAnalyst
	Risk      *decision.RiskSynthesizer
	Ledger    interfaces.OpportunityLedger

	now func() time.Time
}

func NewBatchEngine(mkt interfaces.MarketDataProvider, technical analyst.TechnicalAnalyst, risk *decision.RiskSynthesizer, ledger interfaces.OpportunityLedger) *BatchEngine {
	return &BatchEngine{Market: mkt, Technical: technical, Risk: risk, Ledger: ledger, now: time.Now}
}

// Run 执行全部批次。单个批次失败只产生一条 log 事件，不影响其它批次。
func (e *BatchEngine) Run(ctx context.Context, p BatchParams, emit EmitFunc) BatchResult {
	batches := Partition(p.Symbols, p.BatchSize)
	outcomes := make([]batchOutcome, len(batches))

	var group errgroup.Group
	if p.MaxParallel > 0 {
		group.SetLimit(p.MaxParallel)
	}
	for i, symbols := range batches {
		idx, symbols := i, symbols
		group.Go(func() error {
			outcomes[idx] = e.guardedBatch(ctx, idx+1, symbols, p, emit)
			return nil
		})
	}
	_ = group.Wait()

	res := BatchResult{Batches: len(batches)}
	for i, out := range outcomes {
		if out.err != nil {
			res.Failed++
			emit(LogEvent{Message: fmt.Sprintf("Batch %d/%d failed: %v", i+1, len(batches), out.err)})
			continue
		}
		res.Signals = append(res.Signals, out.signals...)
		res.Analyzed += out.analyzed
		res.Avoided += out.avoided
	}
	return res
}

func (e *BatchEngine) guardedBatch(ctx context.Context, batch int, symbols []string, p BatchParams, emit EmitFunc) (out batchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("batch %d panic: %v\n%s", batch, r, debug.Stack())
			out = batchOutcome{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.runBatch(ctx, batch, symbols, p, emit)
}

func (e *BatchEngine) runBatch(ctx context.Context, batch int, symbols []string, p BatchParams, emit EmitFunc) batchOutcome {
	series := e.fetchSeries(ctx, batch, symbols, p, emit)
	if len(series) == 0 {
		emit(LogEvent{Message: fmt.Sprintf("Batch %d: no market data for %v, skipped", batch, symbols)})
		return batchOutcome{}
	}
	survivors := make([]string, 0, len(series))
	for _, s := range series {
		survivors = append(survivors, s.Symbol)
	}

	tech, err := e.Technical.AnalyzeTechnical(ctx, analyst.TechnicalInput{Batch: batch, Series: series})
	if err != nil {
		return batchOutcome{err: fmt.Errorf("technical analysis: %w", err)}
	}
	if p.Context != nil {
		if err := p.Context.Set(pipeline.StageTechnical, pipeline.BatchKey(batch, pipeline.StageTechnical), tech.Response); err != nil {
			return batchOutcome{err: err}
		}
	}
	emit(AnalysisEvent{Agent: fmt.Sprintf("technical:batch-%d", batch), Response: tech.Response})

	decisions, err := e.Risk.DecideBatch(ctx, decision.BatchRequest{
		Batch:     batch,
		Symbols:   survivors,
		Technical: tech.Response,
		Macro:     p.Macro,
		Sentiment: p.Sentiment,
		Config:    p.Config,
	})
	if err != nil {
		return batchOutcome{err: err}
	}
	if p.Context != nil {
		if err := p.Context.Set(pipeline.StageRisk, pipeline.BatchKey(batch, pipeline.StageRisk), decisions.Result.Response); err != nil {
			return batchOutcome{err: err}
		}
	}
	emit(AnalysisEvent{Agent: fmt.Sprintf("risk:batch-%d", batch), Response: decisions.Decisions})

	avoided := decisions.Avoided(p.CycleID, e.clock())
	for _, entry := range avoided {
		if e.Ledger == nil {
			break
		}
		if err := e.Ledger.Log(ctx, entry); err != nil {
			logger.Warnf("opportunity ledger write failed symbol=%s: %v", entry.Symbol, err)
		}
	}
	signals := decisions.Signals()
	emit(LogEvent{Message: fmt.Sprintf("Batch %d: %d BUY, %d AVOID", batch, len(signals), len(avoided))})
	return batchOutcome{signals: signals, analyzed: len(survivors), avoided: len(avoided)}
}

// fetchSeries 并发拉取批次内 K 线，失败或为空的 symbol 被丢弃，顺序保持不变。
func (e *BatchEngine) fetchSeries(ctx context.Context, batch int, symbols []string, p BatchParams, emit EmitFunc) []analyst.SymbolSeries {
	loaded := make([]*analyst.SymbolSeries, len(symbols))
	var (
		group errgroup.Group
		mu    sync.Mutex
		drops []string
	)
	for i, sym := range symbols {
		idx, sym := i, sym
		group.Go(func() error {
			series, err := snapshot.LoadSeries(ctx, e.Market, sym, p.Interval, p.CandleLimit, p.Indicators)
			if err != nil {
				mu.Lock()
				drops = append(drops, fmt.Sprintf("%s (%v)", sym, err))
				mu.Unlock()
				return nil
			}
			loaded[idx] = &series
			return nil
		})
	}
	_ = group.Wait()
	if len(drops) > 0 {
		emit(LogEvent{Message: fmt.Sprintf("Batch %d: dropped %v", batch, drops)})
	}
	out := make([]analyst.SymbolSeries, 0, len(symbols))
	for _, s := range loaded {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (e *BatchEngine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
