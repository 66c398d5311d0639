package livehttp

import (
	"context"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/override"
	"quorum/internal/decision"
)

// CycleRunner 是进度流与状态查询依赖的编排器能力，由 *engine.Orchestrator 实现。
type CycleRunner interface {
	Start(ctx context.Context, trigger string) (<-chan engine.Event, error)
	Current() (string, engine.State)
	LastReport() (engine.Report, bool)
}

// OverrideHandler 处理人工平空/卖出/开空，由 *override.Service 实现。
type OverrideHandler interface {
	CloseShort(ctx context.Context, req override.Request) (decision.PortfolioSnapshot, decision.Trade, error)
	Sell(ctx context.Context, req override.Request) (decision.PortfolioSnapshot, decision.Trade, error)
	OpenShort(ctx context.Context, req override.Request) (decision.PortfolioSnapshot, decision.Trade, error)
}

// OpportunityReader 查询放弃记录。
type OpportunityReader interface {
	Recent(ctx context.Context, limit int) ([]decision.OpportunityLogEntry, error)
	OpportunitiesBySymbol(ctx context.Context, symbol string, limit int) ([]decision.OpportunityLogEntry, error)
}

// CycleLogReader 查询每轮审计摘要。
type CycleLogReader interface {
	RecentCycles(ctx context.Context, limit int) ([]interfaces.CycleSummary, error)
	GetCycle(ctx context.Context, id string) (interfaces.CycleSummary, bool, error)
}

type overrideResponse struct {
	Portfolio decision.PortfolioSnapshot `json:"portfolio"`
	Trade     decision.Trade             `json:"trade"`
}

type portfolioResponse struct {
	Portfolio decision.PortfolioSnapshot `json:"portfolio"`
	Trades    []decision.Trade           `json:"trades"`
}

type cycleStateResponse struct {
	CycleID string        `json:"cycle_id,omitempty"`
	State   engine.State  `json:"state"`
	Last    *reportDigest `json:"last,omitempty"`
}

// reportDigest 是最近一轮报告的精简视图。
type reportDigest struct {
	ID         string                  `json:"id"`
	Trigger    string                  `json:"trigger"`
	State      engine.State            `json:"state"`
	Symbols    []string                `json:"symbols"`
	Regime     string                  `json:"regime"`
	Score      float64                 `json:"regime_score"`
	Sentiment  float64                 `json:"sentiment"`
	Risk       decision.RiskConfig     `json:"risk"`
	Signals    []decision.BuySignal    `json:"signals"`
	Avoided    int                     `json:"avoided"`
	Plan       decision.AllocationPlan `json:"plan"`
	Filled     int                     `json:"filled"`
	Message    string                  `json:"message,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

func digestReport(r engine.Report) *reportDigest {
	return &reportDigest{
		ID:         r.ID,
		Trigger:    r.Trigger,
		State:      r.State,
		Symbols:    r.Symbols,
		Regime:     r.Macro.Regime,
		Score:      r.Macro.RegimeScore,
		Sentiment:  r.Sentiment.Score,
		Risk:       r.Risk,
		Signals:    r.Signals,
		Avoided:    r.Avoided,
		Plan:       r.Plan,
		Filled:     r.Filled(),
		Message:    r.Message,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
