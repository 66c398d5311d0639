package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/snapshot"
	"quorum/internal/analyst"
	"quorum/internal/config"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/pipeline"
	"quorum/internal/pkg/format"
	"quorum/internal/pkg/symbol"
)

// ErrCycleActive 表示已有一轮决策在运行。
var ErrCycleActive = errors.New("decision cycle already active")

const (
	eventBuffer   = 32
	recordTimeout = 5 * time.Second
)

// ConfigSource 在每轮开始时提供最新配置。
type ConfigSource interface {
	Load() (*config.Config, error)
}

// SnapshotGatherer 采集宏观与情绪结论。
type SnapshotGatherer interface {
	Gather(ctx context.Context, opts snapshot.Options) (snapshot.Snapshot, error)
}

// CycleNotifier 在每轮结束时收到报告，可为空。
type CycleNotifier interface {
	NotifyCycle(ctx context.Context, report Report)
}

// Dependencies 是编排器的全部协作者。Cycles 与 Notifier 可为空。
type Dependencies struct {
	Config        ConfigSource
	Market        interfaces.MarketDataProvider
	Portfolio     interfaces.PortfolioStore
	Gatherer      SnapshotGatherer
	Technical     analyst.TechnicalAnalyst
	Risk          analyst.RiskAnalyst
	Allocator     analyst.Allocator
	Opportunities interfaces.OpportunityLedger
	Cycles        interfaces.CycleRecorder
	Notifier      CycleNotifier
}

// Report 是一轮决策的结果摘要。
type Report struct {
	ID         string
	Trigger    string
	State      State
	Symbols    []string
	Macro      analyst.MacroResult
	Sentiment  analyst.SentimentResult
	Risk       decision.RiskConfig
	Signals    []decision.BuySignal
	Avoided    int
	Plan       decision.AllocationPlan
	Executions []Execution
	Message    string
	Err        error
	Context    pipeline.Snapshot
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filled 返回成交笔数。
func (r Report) Filled() int {
	n := 0
	for _, e := range r.Executions {
		if e.Filled() {
			n++
		}
	}
	return n
}

// Orchestrator 驱动单轮决策状态机；同一时刻只允许一轮运行。
type Orchestrator struct {
	deps       Dependencies
	batches    *BatchEngine
	allocation *decision.AllocationStage
	execution  *ExecutionStage

	mu      sync.Mutex
	state   State
	cycleID string
	last    *Report

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		deps:       deps,
		batches:    NewBatchEngine(deps.Market, deps.Technical, decision.NewRiskSynthesizer(deps.Risk), deps.Opportunities),
		allocation: decision.NewAllocationStage(deps.Allocator),
		execution:  NewExecutionStage(deps.Market, deps.Portfolio),
		state:      StateIdle,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// State 返回当前状态。
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current 返回正在运行的 cycle id 与状态。
func (o *Orchestrator) Current() (string, State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleID, o.state
}

// LastReport 返回最近一轮的报告。
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Start 启动一轮决策并返回事件流。ctx 取消会终止本轮。
// 事件流关闭前编排器已回到 Idle。
func (o *Orchestrator) Start(ctx context.Context, trigger string) (<-chan Event, error) {
	c, err := o.start(ctx, trigger, false)
	if err != nil {
		return nil, err
	}
	return c.events, nil
}

// RunOnce 运行一轮并在产生事件时写入日志，供定时任务使用。
func (o *Orchestrator) RunOnce(ctx context.Context, trigger string) (Report, error) {
	c, err := o.start(ctx, trigger, true)
	if err != nil {
		return Report{}, err
	}
	for range c.events {
	}
	return c.report, c.report.Err
}

func (o *Orchestrator) start(ctx context.Context, trigger string, logEvents bool) (*cycle, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrCycleActive
	}
	id := o.newID()
	o.state = StateInitializing
	o.cycleID = id
	o.mu.Unlock()

	c := &cycle{
		o:         o,
		ctx:       ctx,
		ch:        make(chan Event, eventBuffer),
		shared:    pipeline.NewSharedContext(),
		log:       logger.Cycle(id),
		logEvents: logEvents,
		report:    Report{ID: id, Trigger: trigger, State: StateInitializing, StartedAt: o.now()},
	}
	c.events = c.ch
	c.log.Info("cycle started", "trigger", trigger)
	go o.run(c)
	return c, nil
}

func (o *Orchestrator) run(c *cycle) {
	defer close(c.ch)
	defer o.finish(c)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("cycle %s panic: %v\n%s", c.report.ID, r, debug.Stack())
			c.fail(fmt.Errorf("panic: %v", r))
		}
	}()
	if err := c.run(); err != nil {
		c.fail(err)
		return
	}
	c.transition(StateCompleted)
}

func (o *Orchestrator) finish(c *cycle) {
	c.report.FinishedAt = o.now()
	c.report.Context = c.shared.Snapshot()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), recordTimeout)
	defer cancel()
	if o.deps.Cycles != nil {
		if err := o.deps.Cycles.RecordCycle(ctx, summarize(c.report)); err != nil {
			c.log.Warn("cycle record failed", "err", err)
		}
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.NotifyCycle(ctx, c.report)
	}

	report := c.report
	o.mu.Lock()
	o.state = StateIdle
	o.cycleID = ""
	o.last = &report
	o.mu.Unlock()
	c.log.Info("cycle finished", "state", report.State, "duration", report.FinishedAt.Sub(report.StartedAt))
}

func (o *Orchestrator) setState(from, to State) {
	o.mu.Lock()
	o.state = to
	o.mu.Unlock()
	if !CanTransition(from, to) {
		logger.Warnf("unexpected cycle transition %s -> %s", from, to)
	}
}

// cycle 持有单轮运行期的状态。
type cycle struct {
	o         *Orchestrator
	ctx       context.Context
	ch        chan Event
	events    <-chan Event
	shared    *pipeline.SharedContext
	log       *slog.Logger
	logEvents bool
	report    Report
}

func (c *cycle) emit(ev Event) bool {
	if c.logEvents {
		c.logEvent(ev)
	}
	select {
	case c.ch <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *cycle) logEvent(ev Event) {
	switch e := ev.(type) {
	case LogEvent:
		c.log.Info(e.Message)
	case ErrorEvent:
		c.log.Error(e.Message)
	case AnalysisEvent:
		c.log.Debug("analysis", "agent", e.Agent)
	case ConfigAdjustedEvent:
		c.log.Info("risk config adjusted", "max_position_pct", e.Config.MaxPositionPct, "min_confidence", e.Config.MinConfidence)
	}
}

func (c *cycle) transition(to State) {
	from := c.report.State
	c.report.State = to
	c.o.setState(from, to)
	c.log.Debug("transition", "from", from, "to", to)
}

func (c *cycle) fail(err error) {
	c.report.Err = err
	c.report.Message = err.Error()
	c.transition(StateFailed)
	c.log.Error("cycle failed", "err", err)
	c.emit(ErrorEvent{Message: err.Error()})
}

func (c *cycle) complete(msg string) error {
	c.report.Message = msg
	c.emit(LogEvent{Message: msg})
	return nil
}

func (c *cycle) publishContext() {
	c.emit(ContextEvent{Snapshot: c.shared.Snapshot()})
}

func (c *cycle) run() error {
	ctx := c.ctx
	deps := c.o.deps

	cfg, err := deps.Config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.emit(LogEvent{Message: fmt.Sprintf("Cycle %s started (%s)", c.report.ID, c.report.Trigger)})

	portfolio, err := deps.Portfolio.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	if portfolio.Balance < cfg.Cycle.MinimumBalance {
		return c.complete(fmt.Sprintf("Available balance %s below minimum %s, cycle skipped",
			format.USD(portfolio.Balance), format.USD(cfg.Cycle.MinimumBalance)))
	}

	c.transition(StateGathering)
	snap, err := deps.Gatherer.Gather(ctx, snapshot.Options{
		Benchmarks:     cfg.Market.BenchmarkSymbols,
		CandleInterval: cfg.Market.CandleInterval,
		CandleLimit:    cfg.Market.CandleLimit,
		NewsLimit:      newsLimit(cfg.News),
		Indicators:     snapshot.IndicatorSettings(cfg.Market.Indicators),
	})
	if err != nil {
		return fmt.Errorf("gather macro/sentiment: %w", err)
	}
	macro, sentiment := snap.Macro.Response, snap.Sentiment.Response
	c.report.Macro, c.report.Sentiment = macro, sentiment
	if err := c.shared.Set(pipeline.StageMacro, pipeline.CycleKey(pipeline.StageMacro), macro); err != nil {
		return err
	}
	c.emit(AnalysisEvent{Agent: string(analyst.RoleMacro), Response: macro})
	if err := c.shared.Set(pipeline.StageSentiment, pipeline.CycleKey(pipeline.StageSentiment), sentiment); err != nil {
		return err
	}
	c.emit(AnalysisEvent{Agent: string(analyst.RoleSentiment), Response: sentiment})
	c.publishContext()

	c.transition(StateRiskGateCheck)
	if !decision.GatePasses(macro, cfg.Cycle.MacroScoreThreshold) {
		return c.complete(fmt.Sprintf("Macro regime score %s below threshold %s, batch analysis skipped",
			format.Float(macro.RegimeScore, 1), format.Float(cfg.Cycle.MacroScoreThreshold, 1)))
	}
	base := decision.RiskConfigFrom(cfg.Risk)
	risk := decision.AdjustParameters(base, macro, sentiment)
	c.report.Risk = risk
	if err := c.shared.Set(pipeline.StageRiskConfig, pipeline.CycleKey(pipeline.StageRiskConfig), risk); err != nil {
		return err
	}
	if !risk.Equal(base) {
		c.emit(ConfigAdjustedEvent{Config: risk})
	}

	c.transition(StateBatchAnalyzing)
	symbols, err := deps.Market.TopSymbols(ctx, cfg.Cycle.SymbolsToAnalyze)
	if err != nil {
		return fmt.Errorf("top symbols: %w", err)
	}
	symbols = symbol.NormalizeList(symbols)
	if len(symbols) > cfg.Cycle.SymbolsToAnalyze {
		symbols = symbols[:cfg.Cycle.SymbolsToAnalyze]
	}
	c.report.Symbols = symbols
	if len(symbols) == 0 {
		return c.complete("No symbols to analyze")
	}
	batches := (len(symbols) + cfg.Cycle.BatchSize - 1) / cfg.Cycle.BatchSize
	c.emit(LogEvent{Message: fmt.Sprintf("Analyzing %d symbols in %d batches", len(symbols), batches)})

	res := c.o.batches.Run(ctx, BatchParams{
		CycleID:     c.report.ID,
		Symbols:     symbols,
		BatchSize:   cfg.Cycle.BatchSize,
		MaxParallel: cfg.Cycle.MaxParallelBatches,
		Interval:    cfg.Market.CandleInterval,
		CandleLimit: cfg.Market.CandleLimit,
		Indicators:  snapshot.IndicatorSettings(cfg.Market.Indicators),
		Macro:       macro,
		Sentiment:   sentiment,
		Config:      risk,
		Context:     c.shared,
	}, c.emit)
	if err := ctx.Err(); err != nil {
		return err
	}
	c.report.Signals = res.Signals
	c.report.Avoided = res.Avoided
	c.publishContext()
	if len(res.Signals) == 0 {
		return c.complete(fmt.Sprintf("No BUY signals from %d symbols", res.Analyzed))
	}

	c.transition(StateAllocating)
	portfolio, err = deps.Portfolio.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("refresh portfolio: %w", err)
	}
	outcome, err := c.o.allocation.Allocate(ctx, decision.AllocationRequest{
		Signals:   res.Signals,
		Portfolio: portfolio,
		Config:    risk,
		Macro:     macro,
		Sentiment: sentiment,
	})
	if err != nil {
		return err
	}
	c.report.Plan = outcome.Plan
	if err := c.shared.Set(pipeline.StageAllocation, pipeline.CycleKey(pipeline.StageAllocation), outcome.Plan); err != nil {
		return err
	}
	c.emit(AnalysisEvent{Agent: string(analyst.RoleAllocator), Response: outcome.Plan.Decisions})
	c.publishContext()
	buys := outcome.Plan.Buys()
	if len(buys) == 0 {
		return c.complete(fmt.Sprintf("Allocation skipped all %d signals", len(res.Signals)))
	}

	c.transition(StateExecuting)
	execs, final := c.o.execution.Execute(ctx, buys, portfolio, c.emit)
	c.report.Executions = execs
	return c.complete(fmt.Sprintf("Cycle complete: %d/%d buys filled, balance %s",
		c.report.Filled(), len(buys), format.USD(final.Balance)))
}

func newsLimit(cfg config.NewsConfig) int {
	if !cfg.Enabled {
		return 0
	}
	return cfg.MaxItems
}

func summarize(r Report) interfaces.CycleSummary {
	out := interfaces.CycleSummary{
		ID:          r.ID,
		Trigger:     r.Trigger,
		State:       string(r.State),
		Symbols:     len(r.Symbols),
		Signals:     len(r.Signals),
		Avoided:     r.Avoided,
		Executed:    r.Filled(),
		RegimeScore: r.Macro.RegimeScore,
		Sentiment:   r.Sentiment.Score,
		Message:     r.Message,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if raw, err := json.Marshal(r.Context); err == nil {
		out.Context = raw
	}
	return out
}
