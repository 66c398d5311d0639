package gormstore

import (
	"encoding/json"
	"time"

	"quorum/internal/decision"

	"gorm.io/datatypes"
)

type opportunityModel struct {
	ID              int64     `gorm:"column:id;primaryKey"`
	CycleID         string    `gorm:"column:cycle_id;index"`
	Batch           int       `gorm:"column:batch"`
	Symbol          string    `gorm:"column:symbol;index"`
	Verdict         string    `gorm:"column:verdict"`
	Reason          string    `gorm:"column:reason"`
	ConfidenceScore float64   `gorm:"column:confidence_score"`
	Summary         string    `gorm:"column:summary"`
	CreatedAt       time.Time `gorm:"column:created_at;index"`
}

func (opportunityModel) TableName() string { return "opportunity_log" }

func newOpportunityModel(e decision.OpportunityLogEntry) opportunityModel {
	return opportunityModel{
		CycleID:         e.CycleID,
		Batch:           e.Batch,
		Symbol:          e.Symbol,
		Verdict:         e.Verdict,
		Reason:          e.Reason,
		ConfidenceScore: e.ConfidenceScore,
		Summary:         e.Summary,
		CreatedAt:       e.Timestamp.UTC(),
	}
}

func (m opportunityModel) toEntry() decision.OpportunityLogEntry {
	return decision.OpportunityLogEntry{
		CycleID:         m.CycleID,
		Batch:           m.Batch,
		Symbol:          m.Symbol,
		Verdict:         m.Verdict,
		Reason:          m.Reason,
		ConfidenceScore: m.ConfidenceScore,
		Summary:         m.Summary,
		Timestamp:       m.CreatedAt,
	}
}

// conflictModel 把人工决策/分析师意见/市场快照存成 JSON 列，便于前端原样展示。
type conflictModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Symbol      string         `gorm:"column:symbol;index"`
	HumanAction string         `gorm:"column:human_action"`
	AgentAction string         `gorm:"column:agent_action"`
	Agreement   bool           `gorm:"column:agreement"`
	Narrative   string         `gorm:"column:narrative"`
	PnLUSD      float64        `gorm:"column:pnl_usd"`
	HumanJSON   datatypes.JSON `gorm:"column:human_json"`
	AgentJSON   datatypes.JSON `gorm:"column:agent_json"`
	MarketJSON  datatypes.JSON `gorm:"column:market_json"`
	CreatedAt   time.Time      `gorm:"column:created_at;index"`
}

func (conflictModel) TableName() string { return "conflict_narratives" }

func newConflictModel(n decision.ConflictNarrative) (conflictModel, error) {
	human, err := marshalJSON(n.HumanDecision)
	if err != nil {
		return conflictModel{}, err
	}
	agent, err := marshalJSON(n.AgentDecision)
	if err != nil {
		return conflictModel{}, err
	}
	snap, err := marshalJSON(n.MarketSnapshot)
	if err != nil {
		return conflictModel{}, err
	}
	return conflictModel{
		ID:          n.ID,
		Symbol:      n.Symbol,
		HumanAction: string(n.HumanDecision.Action),
		AgentAction: string(n.AgentDecision.Action),
		Agreement:   n.Agreement,
		Narrative:   n.NarrativeText,
		PnLUSD:      n.PnLUSD,
		HumanJSON:   human,
		AgentJSON:   agent,
		MarketJSON:  snap,
		CreatedAt:   n.Timestamp.UTC(),
	}, nil
}

func (m conflictModel) toNarrative() (decision.ConflictNarrative, error) {
	n := decision.ConflictNarrative{
		ID:            m.ID,
		Symbol:        m.Symbol,
		Agreement:     m.Agreement,
		NarrativeText: m.Narrative,
		PnLUSD:        m.PnLUSD,
		Timestamp:     m.CreatedAt,
	}
	if len(m.HumanJSON) > 0 {
		if err := json.Unmarshal(m.HumanJSON, &n.HumanDecision); err != nil {
			return n, err
		}
	}
	if len(m.AgentJSON) > 0 {
		if err := json.Unmarshal(m.AgentJSON, &n.AgentDecision); err != nil {
			return n, err
		}
	}
	if len(m.MarketJSON) > 0 {
		if err := json.Unmarshal(m.MarketJSON, &n.MarketSnapshot); err != nil {
			return n, err
		}
	}
	return n, nil
}
