package decision

import (
	"strings"
	"time"

	"quorum/internal/analyst"
	"quorum/internal/pipeline"
)

// BuySignal 是通过风控的买入信号。
type BuySignal struct {
	Symbol          string  `json:"symbol"`
	ConfidenceScore float64 `json:"confidence_score"`
	Summary         string  `json:"summary"`
	Batch           int     `json:"batch"`
}

// AllocationDecision 是经资金约束后的最终分配，每个信号恰好一条。
type AllocationDecision struct {
	Symbol    string                   `json:"symbol"`
	Action    analyst.AllocationAction `json:"action"`
	AmountUSD float64                  `json:"amount_usd"`
	Note      string                   `json:"note,omitempty"`
}

func (d AllocationDecision) IsBuy() bool {
	return d.Action == analyst.ActionExecuteBuy && d.AmountUSD > 0
}

// AllocationPlan 是分配阶段写入 SharedContext 的产出。
type AllocationPlan struct {
	Decisions      []AllocationDecision `json:"decisions"`
	Deployable     float64              `json:"deployable_usd"`
	PerPositionCap float64              `json:"per_position_cap_usd"`
	Committed      float64              `json:"committed_usd"`
	Summary        string               `json:"summary,omitempty"`
}

func (p AllocationPlan) ClonePayload() pipeline.Payload {
	p.Decisions = append([]AllocationDecision(nil), p.Decisions...)
	return p
}

// Buys 返回 EXECUTE_BUY 条目。
func (p AllocationPlan) Buys() []AllocationDecision {
	var out []AllocationDecision
	for _, d := range p.Decisions {
		if d.IsBuy() {
			out = append(out, d)
		}
	}
	return out
}

// OpportunityLogEntry 记录一次被放弃的机会，只追加。
type OpportunityLogEntry struct {
	CycleID         string    `json:"cycle_id"`
	Batch           int       `json:"batch"`
	Symbol          string    `json:"symbol"`
	Verdict         string    `json:"verdict"`
	Reason          string    `json:"reason"`
	ConfidenceScore float64   `json:"confidence_score"`
	Summary         string    `json:"summary"`
	Timestamp       time.Time `json:"timestamp"`
}

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

type PositionSnapshot struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	CostBasis  float64      `json:"cost_basis"`
	OpenedAt   time.Time    `json:"opened_at"`
}

// PortfolioSnapshot 是账户在某一时刻的视图；Equity 按持仓成本计。
type PortfolioSnapshot struct {
	Currency  string             `json:"currency"`
	Balance   float64            `json:"balance"`
	Equity    float64            `json:"equity"`
	Positions []PositionSnapshot `json:"positions"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Position 按 symbol + 方向查找持仓。
func (p PortfolioSnapshot) Position(symbol string, side PositionSide) (PositionSnapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, pos := range p.Positions {
		if pos.Symbol == symbol && pos.Side == side {
			return pos, true
		}
	}
	return PositionSnapshot{}, false
}

// Briefs 转成分析师 prompt 使用的精简持仓。
func (p PortfolioSnapshot) Briefs() []analyst.PositionBrief {
	out := make([]analyst.PositionBrief, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, pos.Brief())
	}
	return out
}

func (p PositionSnapshot) Brief() analyst.PositionBrief {
	return analyst.PositionBrief{
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
	}
}

type TradeAction string

const (
	TradeBuy        TradeAction = "BUY"
	TradeSell       TradeAction = "SELL"
	TradeOpenShort  TradeAction = "OPEN_SHORT"
	TradeCloseShort TradeAction = "CLOSE_SHORT"
)

// Trade 是一笔已成交的模拟交易。
type Trade struct {
	ID           uint        `json:"id"`
	Symbol       string      `json:"symbol"`
	Action       TradeAction `json:"action"`
	Quantity     float64     `json:"quantity"`
	Price        float64     `json:"price"`
	Notional     float64     `json:"notional"`
	RealizedPnL  float64     `json:"realized_pnl"`
	BalanceAfter float64     `json:"balance_after"`
	ExecutedAt   time.Time   `json:"executed_at"`
}

// HumanDecision 描述人工覆盖操作。
type HumanDecision struct {
	Action      TradeAction `json:"action"`
	Symbol      string      `json:"symbol"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	EntryPrice  float64     `json:"entry_price"`
	RealizedPnL float64     `json:"realized_pnl"`
	Reason      string      `json:"reason"`
	At          time.Time   `json:"at"`
}

// AgentOpinion 是分析师在同一价格下的模拟意见。
type AgentOpinion struct {
	Action     analyst.PositionAction `json:"action"`
	Confidence float64                `json:"confidence"`
	Summary    string                 `json:"summary"`
	Model      string                 `json:"model,omitempty"`
}

// MarketSnapshot 是生成叙事时的市场快照。
type MarketSnapshot struct {
	Price            float64   `json:"price"`
	RegimeScore      float64   `json:"regime_score"`
	Regime           string    `json:"regime"`
	MacroSummary     string    `json:"macro_summary,omitempty"`
	SentimentScore   float64   `json:"sentiment_score"`
	SentimentLabel   string    `json:"sentiment_label"`
	SentimentSummary string    `json:"sentiment_summary,omitempty"`
	FearGreed        *int      `json:"fear_greed,omitempty"`
	CapturedAt       time.Time `json:"captured_at"`
}

// ConflictNarrative 记录人工与分析师的分歧，写入后不可修改。
type ConflictNarrative struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	HumanDecision  HumanDecision  `json:"human_decision"`
	AgentDecision  AgentOpinion   `json:"agent_decision"`
	MarketSnapshot MarketSnapshot `json:"market_snapshot"`
	Agreement      bool           `json:"agreement"`
	NarrativeText  string         `json:"narrative_text"`
	PnLUSD         float64        `json:"pnl_usd"`
	Timestamp      time.Time      `json:"timestamp"`
}
