// Package reconcile 对比人工操作与分析师在同一时刻的意见，生成冲突叙事。
// 整个过程是尽力而为的，任何失败都只体现在 Outcome.Ignored 中。
package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/snapshot"
	"quorum/internal/analyst"
	"quorum/internal/config"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/pkg/format"
)

const defaultTimeout = 3 * time.Minute

// HumanAction 描述一次带理由的人工平仓/卖出，Position 是操作前的持仓。
type HumanAction struct {
	Trade    decision.Trade
	Position decision.PositionSnapshot
	Reason   string
}

// Outcome 是一次复盘的结果；Ignored 非空表示复盘被放弃，Narrative 可能仍有值。
type Outcome struct {
	Narrative *decision.ConflictNarrative
	Ignored   error
}

type ConfigSource interface {
	Load() (*config.Config, error)
}

type Gatherer interface {
	Gather(ctx context.Context, opts snapshot.Options) (snapshot.Snapshot, error)
}

// Sink 接收 Dispatch 产生的结果。
type Sink func(Outcome)

type Reconciler struct {
	Config   ConfigSource
	Gatherer Gatherer
	Reviewer analyst.PositionReviewer
	Ledger   interfaces.ConflictLedger
	Sink     Sink
	Timeout  time.Duration

	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

func NewReconciler(cfg ConfigSource, g Gatherer, reviewer analyst.PositionReviewer, ledger interfaces.ConflictLedger, sink Sink) *Reconciler {
	return &Reconciler{
		Config:   cfg,
		Gatherer: g,
		Reviewer: reviewer,
		Ledger:   ledger,
		Sink:     sink,
		Timeout:  defaultTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Dispatch 在后台执行复盘，不阻塞调用方，也不受调用方 ctx 取消影响。
func (r *Reconciler) Dispatch(ctx context.Context, action HumanAction) {
	if r == nil {
		return
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		out := r.Reconcile(bg, action)
		if r.Sink != nil {
			r.Sink(out)
		}
	}()
}

// Wait 等待所有已派发的复盘结束。
func (r *Reconciler) Wait() {
	if r != nil {
		r.wg.Wait()
	}
}

// Reconcile 同步执行复盘。panic 会被恢复并记为 Ignored。
func (r *Reconciler) Reconcile(ctx context.Context, action HumanAction) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("reconcile panic symbol=%s: %v\n%s", action.Trade.Symbol, rec, debug.Stack())
			out = Outcome{Narrative: out.Narrative, Ignored: fmt.Errorf("panic: %v", rec)}
		}
	}()
	out = r.reconcile(ctx, action)
	if out.Ignored != nil {
		logger.Warnf("conflict reconcile ignored symbol=%s: %v", action.Trade.Symbol, out.Ignored)
	}
	return out
}

func (r *Reconciler) reconcile(ctx context.Context, action HumanAction) Outcome {
	if strings.TrimSpace(action.Reason) == "" {
		return Outcome{Ignored: fmt.Errorf("no reason given")}
	}
	cfg, err := r.Config.Load()
	if err != nil {
		return Outcome{Ignored: fmt.Errorf("load config: %w", err)}
	}
	snap, err := r.Gatherer.Gather(ctx, snapshot.Options{
		Benchmarks:     cfg.Market.BenchmarkSymbols,
		CandleInterval: cfg.Market.CandleInterval,
		CandleLimit:    cfg.Market.CandleLimit,
		NewsLimit:      newsLimit(cfg.News),
		Indicators:     snapshot.IndicatorSettings(cfg.Market.Indicators),
	})
	if err != nil {
		return Outcome{Ignored: fmt.Errorf("market snapshot: %w", err)}
	}
	review, err := r.Reviewer.ReviewPosition(ctx, analyst.ReviewInput{
		Position:  action.Position.Brief(),
		Price:     action.Trade.Price,
		Macro:     snap.Macro.Response,
		Sentiment: snap.Sentiment.Response,
	})
	if err != nil {
		return Outcome{Ignored: fmt.Errorf("position review: %w", err)}
	}

	n := r.build(action, snap, review)
	if err := r.Ledger.Record(ctx, n); err != nil {
		return Outcome{Narrative: &n, Ignored: fmt.Errorf("record narrative: %w", err)}
	}
	logger.Infof("conflict narrative recorded id=%s symbol=%s human=%s agent=%s agreement=%v",
		n.ID, n.Symbol, n.HumanDecision.Action, n.AgentDecision.Action, n.Agreement)
	return Outcome{Narrative: &n}
}

func (r *Reconciler) build(action HumanAction, snap snapshot.Snapshot, review analyst.Result[analyst.PositionReview]) decision.ConflictNarrative {
	t := action.Trade
	human := decision.HumanDecision{
		Action:      t.Action,
		Symbol:      t.Symbol,
		Quantity:    t.Quantity,
		Price:       t.Price,
		EntryPrice:  action.Position.EntryPrice,
		RealizedPnL: t.RealizedPnL,
		Reason:      strings.TrimSpace(action.Reason),
		At:          t.ExecutedAt,
	}
	agent := decision.AgentOpinion{
		Action:     review.Response.Action,
		Confidence: review.Response.Confidence,
		Summary:    review.Response.Summary,
		Model:      review.Raw.Model,
	}
	mkt := decision.MarketSnapshot{
		Price:            t.Price,
		RegimeScore:      snap.Macro.Response.RegimeScore,
		Regime:           snap.Macro.Response.Regime,
		MacroSummary:     snap.Macro.Response.Summary,
		SentimentScore:   snap.Sentiment.Response.Score,
		SentimentLabel:   snap.Sentiment.Response.Label,
		SentimentSummary: snap.Sentiment.Response.Summary,
		CapturedAt:       snap.At,
	}
	if snap.FearGreed != nil {
		v := snap.FearGreed.Value
		mkt.FearGreed = &v
	}
	agree := Agrees(human.Action, agent.Action)
	return decision.ConflictNarrative{
		ID:             r.newID(),
		Symbol:         t.Symbol,
		HumanDecision:  human,
		AgentDecision:  agent,
		MarketSnapshot: mkt,
		Agreement:      agree,
		NarrativeText:  Narrate(human, agent, mkt, agree),
		PnLUSD:         t.RealizedPnL,
		Timestamp:      r.now(),
	}
}

// Agrees 判断分析师意见是否与人工操作方向一致：平仓/卖出 对应 CLOSE 或 REDUCE。
func Agrees(human decision.TradeAction, agent analyst.PositionAction) bool {
	switch human {
	case decision.TradeCloseShort, decision.TradeSell:
		return agent == analyst.PositionClose || agent == analyst.PositionReduce
	case decision.TradeBuy, decision.TradeOpenShort:
		return agent == analyst.PositionAdd
	default:
		return false
	}
}

// Narrate 生成叙事文本。
func Narrate(h decision.HumanDecision, a decision.AgentOpinion, m decision.MarketSnapshot, agree bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Human %s %s %s at %s (entry %s), realized P/L %s USD. Reason: %s\n",
		h.Action, format.Float(h.Quantity, 8), h.Symbol, format.Float(h.Price, 6),
		format.Float(h.EntryPrice, 6), format.SignedUSD(h.RealizedPnL), h.Reason)
	fmt.Fprintf(&b, "Agent would %s (confidence %s): %s\n", a.Action, format.Float(a.Confidence, 0), a.Summary)
	fmt.Fprintf(&b, "Market: regime %s (%s), sentiment %s (%s)",
		format.Float(m.RegimeScore, 0), m.Regime, format.Float(m.SentimentScore, 0), m.SentimentLabel)
	if m.FearGreed != nil {
		fmt.Fprintf(&b, ", fear&greed %d", *m.FearGreed)
	}
	b.WriteString(".\n")
	if agree {
		b.WriteString("Verdict: agent agrees with the override.")
	} else {
		b.WriteString("Verdict: agent disagrees with the override.")
	}
	return b.String()
}

func newsLimit(cfg config.NewsConfig) int {
	if !cfg.Enabled {
		return 0
	}
	return cfg.MaxItems
}
