package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"quorum/internal/analyst"
)

// AllocationRequest 汇总所有批次的 BUY 信号与当前账户状态。
type AllocationRequest struct {
	Signals   []BuySignal
	Portfolio PortfolioSnapshot
	Config    RiskConfig
	Macro     analyst.MacroResult
	Sentiment analyst.SentimentResult
}

// AllocationOutcome 是分配阶段的结果；没有信号时 Result 为 nil。
type AllocationOutcome struct {
	Plan   AllocationPlan
	Result *analyst.Result[analyst.AllocationReport]
}

// AllocationStage 调用分配师，并在其建议之上强制执行资金上限。
type AllocationStage struct {
	allocator analyst.Allocator
}

func NewAllocationStage(a analyst.Allocator) *AllocationStage {
	return &AllocationStage{allocator: a}
}

// Allocate 为每个信号给出恰好一条 AllocationDecision。
func (s *AllocationStage) Allocate(ctx context.Context, req AllocationRequest) (AllocationOutcome, error) {
	limits := newLimits(req.Portfolio, req.Config)
	out := AllocationOutcome{Plan: AllocationPlan{
		Deployable:     decToFloat(limits.deployable),
		PerPositionCap: decToFloat(limits.perPosition),
	}}
	if len(req.Signals) == 0 {
		return out, nil
	}
	if s == nil || s.allocator == nil {
		return out, fmt.Errorf("allocator not configured")
	}

	briefs := make([]analyst.SignalBrief, 0, len(req.Signals))
	for _, sig := range req.Signals {
		briefs = append(briefs, analyst.SignalBrief{
			Symbol:     sig.Symbol,
			Confidence: sig.ConfidenceScore,
			Summary:    sig.Summary,
		})
	}
	res, err := s.allocator.Allocate(ctx, analyst.AllocationInput{
		Signals:        briefs,
		Balance:        req.Portfolio.Balance,
		Equity:         req.Portfolio.Equity,
		Deployable:     out.Plan.Deployable,
		MaxPositionPct: req.Config.MaxPositionPct,
		MinTradeUSD:    req.Config.MinTradeUSD,
		Positions:      req.Portfolio.Briefs(),
		Macro:          req.Macro,
		Sentiment:      req.Sentiment,
	})
	if err != nil {
		return out, fmt.Errorf("allocate: %w", err)
	}
	out.Result = &res
	out.Plan.Summary = res.Response.Summary
	out.Plan.Decisions = limits.apply(req.Signals, res.Response.Calls)
	out.Plan.Committed = decToFloat(limits.committed)
	return out, nil
}

type limits struct {
	deployable  decimal.Decimal
	perPosition decimal.Decimal
	minTrade    decimal.Decimal
	committed   decimal.Decimal
}

func newLimits(p PortfolioSnapshot, cfg RiskConfig) *limits {
	balance := decimal.Max(decFromFloat(p.Balance), decimal.Zero)
	equity := decimal.Max(decFromFloat(p.Equity), decimal.Zero)
	reserve := clampDec(decFromFloat(cfg.ReservePct), decimal.Zero, decOne)
	return &limits{
		deployable:  balance.Mul(decOne.Sub(reserve)).Truncate(2),
		perPosition: equity.Mul(clampDec(decFromFloat(cfg.MaxPositionPct), decimal.Zero, decOne)).Truncate(2),
		minTrade:    decimal.Max(decFromFloat(cfg.MinTradeUSD), decimal.Zero),
		committed:   decimal.Zero,
	}
}

// apply 按分配师给出的顺序逐条施加单笔上限、最小金额与总额上限。
func (l *limits) apply(signals []BuySignal, calls []analyst.AllocationCall) []AllocationDecision {
	wanted := make(map[string]bool, len(signals))
	for _, sig := range signals {
		wanted[sig.Symbol] = true
	}
	decided := make(map[string]bool, len(signals))
	out := make([]AllocationDecision, 0, len(signals))

	for _, call := range calls {
		sym := strings.ToUpper(strings.TrimSpace(call.Symbol))
		if !wanted[sym] || decided[sym] {
			continue
		}
		decided[sym] = true
		out = append(out, l.decide(sym, call))
	}
	for _, sig := range signals {
		if decided[sig.Symbol] {
			continue
		}
		decided[sig.Symbol] = true
		out = append(out, skip(sig.Symbol, "no allocation returned"))
	}
	return out
}

func (l *limits) decide(sym string, call analyst.AllocationCall) AllocationDecision {
	if call.Action != analyst.ActionExecuteBuy {
		note := strings.TrimSpace(call.Rationale)
		if note == "" {
			note = "allocator skipped"
		}
		return skip(sym, note)
	}
	amount := decFromFloat(call.AmountUSD).Truncate(2)
	if !amount.IsPositive() {
		return skip(sym, "non-positive amount")
	}
	var notes []string
	if amount.GreaterThan(l.perPosition) {
		amount = l.perPosition
		notes = append(notes, "clamped to per-position cap")
	}
	remaining := l.deployable.Sub(l.committed)
	if amount.GreaterThan(remaining) {
		amount = decimal.Max(remaining, decimal.Zero)
		notes = append(notes, "clamped to deployable balance")
	}
	if !amount.IsPositive() || amount.LessThan(l.minTrade) {
		notes = append(notes, "below minimum trade size")
		return skip(sym, strings.Join(notes, "; "))
	}
	l.committed = l.committed.Add(amount)
	return AllocationDecision{
		Symbol:    sym,
		Action:    analyst.ActionExecuteBuy,
		AmountUSD: decToFloat(amount),
		Note:      strings.Join(notes, "; "),
	}
}

func skip(sym, note string) AllocationDecision {
	return AllocationDecision{Symbol: sym, Action: analyst.ActionSkip, Note: note}
}
