package analyst

import "quorum/internal/pipeline"

// MacroResult 是宏观分析结论，regime_score 0~100，越高越偏风险偏好。
type MacroResult struct {
	RegimeScore float64  `json:"regime_score"`
	Regime      string   `json:"regime"`
	Summary     string   `json:"summary"`
	Drivers     []string `json:"drivers,omitempty"`
}

func (m MacroResult) ClonePayload() pipeline.Payload {
	m.Drivers = cloneStrings(m.Drivers)
	return m
}

// SentimentResult 是情绪分析结论，score 0~100（0 极度恐惧，100 极度贪婪）。
type SentimentResult struct {
	Score      float64  `json:"score"`
	Label      string   `json:"label"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
}

func (s SentimentResult) ClonePayload() pipeline.Payload {
	s.Highlights = cloneStrings(s.Highlights)
	return s
}

type TechnicalAssessment struct {
	Symbol     string  `json:"symbol"`
	Trend      string  `json:"trend"`
	Momentum   string  `json:"momentum,omitempty"`
	Support    float64 `json:"support,omitempty"`
	Resistance float64 `json:"resistance,omitempty"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// TechnicalReport 是一个批次的技术面结论。
type TechnicalReport struct {
	Batch       int                   `json:"batch"`
	Assessments []TechnicalAssessment `json:"assessments"`
}

func (t TechnicalReport) ClonePayload() pipeline.Payload {
	t.Assessments = append([]TechnicalAssessment(nil), t.Assessments...)
	return t
}

// Find 按 symbol 查找评估。
func (t TechnicalReport) Find(symbol string) (TechnicalAssessment, bool) {
	for _, a := range t.Assessments {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return TechnicalAssessment{}, false
}

// RiskCall 是风控分析师给出的原始结论，Verdict 可能是任意字符串。
type RiskCall struct {
	Symbol     string  `json:"symbol"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// RiskReport 是一个批次的风控结论。
type RiskReport struct {
	Batch int        `json:"batch"`
	Calls []RiskCall `json:"calls"`
}

func (r RiskReport) ClonePayload() pipeline.Payload {
	r.Calls = append([]RiskCall(nil), r.Calls...)
	return r
}

type AllocationCall struct {
	Symbol    string           `json:"symbol"`
	Action    AllocationAction `json:"action"`
	AmountUSD float64          `json:"amount_usd"`
	Rationale string           `json:"rationale,omitempty"`
}

// AllocationReport 是分配师的原始建议，尚未经过资金约束。
type AllocationReport struct {
	Calls   []AllocationCall `json:"calls"`
	Summary string           `json:"summary,omitempty"`
}

type PositionReview struct {
	Symbol     string         `json:"symbol"`
	Action     PositionAction `json:"action"`
	Confidence float64        `json:"confidence"`
	Summary    string         `json:"summary"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
