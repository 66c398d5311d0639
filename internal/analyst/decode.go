package analyst

import (
	"fmt"
	"strings"

	"quorum/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

func decodeMacro(doc gjson.Result) (MacroResult, error) {
	score := doc.Get("regime_score")
	if !score.Exists() {
		return MacroResult{}, fmt.Errorf("regime_score missing")
	}
	out := MacroResult{
		RegimeScore: clampScore(score.Float()),
		Regime:      strings.ToLower(strings.TrimSpace(doc.Get("regime").String())),
		Summary:     strings.TrimSpace(doc.Get("summary").String()),
		Drivers:     stringArray(doc.Get("drivers")),
	}
	if out.Regime == "" {
		out.Regime = RegimeLabel(out.RegimeScore)
	}
	return out, nil
}

func decodeSentiment(doc gjson.Result) (SentimentResult, error) {
	score := doc.Get("score")
	if !score.Exists() {
		return SentimentResult{}, fmt.Errorf("score missing")
	}
	out := SentimentResult{
		Score:      clampScore(score.Float()),
		Label:      strings.ToLower(strings.TrimSpace(doc.Get("label").String())),
		Summary:    strings.TrimSpace(doc.Get("summary").String()),
		Highlights: stringArray(doc.Get("highlights")),
	}
	if out.Label == "" {
		out.Label = SentimentLabel(out.Score)
	}
	return out, nil
}

func decodeTechnical(batch int, doc gjson.Result) (TechnicalReport, error) {
	out := TechnicalReport{Batch: batch}
	doc.Get("assessments").ForEach(func(_, item gjson.Result) bool {
		sym := normalizeSymbol(item.Get("symbol").String())
		if sym == "" {
			return true
		}
		out.Assessments = append(out.Assessments, TechnicalAssessment{
			Symbol:     sym,
			Trend:      strings.ToLower(strings.TrimSpace(item.Get("trend").String())),
			Momentum:   strings.TrimSpace(item.Get("momentum").String()),
			Support:    item.Get("support").Float(),
			Resistance: item.Get("resistance").Float(),
			Confidence: clampScore(item.Get("confidence").Float()),
			Summary:    strings.TrimSpace(item.Get("summary").String()),
		})
		return true
	})
	return out, nil
}

func decodeRisk(batch int, doc gjson.Result) (RiskReport, error) {
	out := RiskReport{Batch: batch}
	doc.Get("decisions").ForEach(func(_, item gjson.Result) bool {
		sym := normalizeSymbol(item.Get("symbol").String())
		if sym == "" {
			return true
		}
		out.Calls = append(out.Calls, RiskCall{
			Symbol:     sym,
			Verdict:    Verdict(strings.ToUpper(strings.TrimSpace(item.Get("verdict").String()))),
			Confidence: clampScore(item.Get("confidence").Float()),
			Summary:    strings.TrimSpace(item.Get("summary").String()),
		})
		return true
	})
	return out, nil
}

func decodeAllocation(doc gjson.Result) (AllocationReport, error) {
	out := AllocationReport{Summary: strings.TrimSpace(doc.Get("summary").String())}
	doc.Get("allocations").ForEach(func(_, item gjson.Result) bool {
		sym := normalizeSymbol(item.Get("symbol").String())
		if sym == "" {
			return true
		}
		out.Calls = append(out.Calls, AllocationCall{
			Symbol:    sym,
			Action:    AllocationAction(strings.ToUpper(strings.TrimSpace(item.Get("action").String()))),
			AmountUSD: item.Get("amount_usd").Float(),
			Rationale: strings.TrimSpace(item.Get("rationale").String()),
		})
		return true
	})
	return out, nil
}

func decodeReview(sym string, doc gjson.Result) (PositionReview, error) {
	action := PositionAction(strings.ToUpper(strings.TrimSpace(doc.Get("action").String())))
	switch action {
	case PositionHold, PositionClose, PositionReduce, PositionAdd:
	default:
		return PositionReview{}, fmt.Errorf("unknown position action %q", action)
	}
	return PositionReview{
		Symbol:     sym,
		Action:     action,
		Confidence: clampScore(doc.Get("confidence").Float()),
		Summary:    strings.TrimSpace(doc.Get("summary").String()),
	}, nil
}

// RegimeLabel 把宏观分数映射为标签。
func RegimeLabel(score float64) string {
	switch {
	case score < 40:
		return "risk_off"
	case score >= 60:
		return "risk_on"
	default:
		return "neutral"
	}
}

// SentimentLabel 把情绪分数映射为标签。
func SentimentLabel(score float64) string {
	switch {
	case score <= 25:
		return "extreme_fear"
	case score < 45:
		return "fear"
	case score <= 55:
		return "neutral"
	case score < 75:
		return "greed"
	default:
		return "extreme_greed"
	}
}

func normalizeSymbol(raw string) string {
	if norm := symbol.Normalize(raw); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
