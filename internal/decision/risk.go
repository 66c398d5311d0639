package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/analyst"
	"quorum/internal/config"
	"quorum/internal/pipeline"
)

const (
	lowRegimeScore      = 40
	strongRegimeScore   = 70
	extremeFearScore    = 25
	greedScore          = 75
	neutralSentimentMin = 40
	neutralSentimentMax = 60

	minPositionPct = 0.001
)

// RiskConfig 是一轮决策实际使用的风控参数。
type RiskConfig struct {
	MaxPositionPct float64  `json:"max_position_pct"`
	MinConfidence  float64  `json:"min_confidence"`
	MinTradeUSD    float64  `json:"min_trade_usd"`
	ReservePct     float64  `json:"reserve_pct"`
	Adjustments    []string `json:"adjustments,omitempty"`
}

// RiskConfigFrom 由配置文件中的基线参数构造 RiskConfig。
func RiskConfigFrom(cfg config.RiskConfig) RiskConfig {
	return RiskConfig{
		MaxPositionPct: cfg.MaxPositionPct,
		MinConfidence:  cfg.MinConfidence,
		MinTradeUSD:    cfg.MinTradeUSD,
		ReservePct:     cfg.ReservePct,
	}
}

func (c RiskConfig) ClonePayload() pipeline.Payload {
	c.Adjustments = append([]string(nil), c.Adjustments...)
	return c
}

// Equal 只比较数值参数。
func (c RiskConfig) Equal(other RiskConfig) bool {
	return decFromFloat(c.MaxPositionPct).Equal(decFromFloat(other.MaxPositionPct)) &&
		decFromFloat(c.MinConfidence).Equal(decFromFloat(other.MinConfidence)) &&
		decFromFloat(c.MinTradeUSD).Equal(decFromFloat(other.MinTradeUSD)) &&
		decFromFloat(c.ReservePct).Equal(decFromFloat(other.ReservePct))
}

// AdjustParameters 按宏观与情绪调整风控参数，纯函数。
func AdjustParameters(base RiskConfig, macro analyst.MacroResult, sentiment analyst.SentimentResult) RiskConfig {
	out := base
	out.Adjustments = nil
	maxPct := decFromFloat(base.MaxPositionPct)
	minConf := decFromFloat(base.MinConfidence)

	if macro.RegimeScore < lowRegimeScore {
		maxPct = maxPct.Mul(decimal.NewFromFloat(0.5))
		out.Adjustments = append(out.Adjustments, fmt.Sprintf("regime score %.0f < %d: max_position_pct halved", macro.RegimeScore, lowRegimeScore))
	}
	if sentiment.Score <= extremeFearScore {
		minConf = minConf.Add(decimal.NewFromInt(10))
		out.Adjustments = append(out.Adjustments, fmt.Sprintf("sentiment %.0f <= %d: min_confidence +10", sentiment.Score, extremeFearScore))
	}
	if sentiment.Score >= greedScore {
		maxPct = maxPct.Mul(decimal.NewFromFloat(0.8))
		out.Adjustments = append(out.Adjustments, fmt.Sprintf("sentiment %.0f >= %d: max_position_pct x0.8", sentiment.Score, greedScore))
	}
	if macro.RegimeScore >= strongRegimeScore && sentiment.Score >= neutralSentimentMin && sentiment.Score <= neutralSentimentMax {
		minConf = minConf.Sub(decimal.NewFromInt(5))
		out.Adjustments = append(out.Adjustments, fmt.Sprintf("regime score %.0f with neutral sentiment: min_confidence -5", macro.RegimeScore))
	}

	maxPct = clampDec(maxPct.Round(6), decimal.NewFromFloat(minPositionPct), decOne)
	minConf = clampDec(minConf.Round(4), decimal.Zero, decHundred)
	out.MaxPositionPct = decToFloat(maxPct)
	out.MinConfidence = decToFloat(minConf)
	return out
}

// GatePasses 判断宏观分数是否达到本轮继续分析的门槛。
func GatePasses(macro analyst.MacroResult, threshold float64) bool {
	return macro.RegimeScore >= threshold
}

func clampDec(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// SymbolDecision 是风控对单个 symbol 的最终结论。
type SymbolDecision struct {
	Symbol     string          `json:"symbol"`
	Verdict    analyst.Verdict `json:"verdict"`
	Confidence float64         `json:"confidence"`
	Summary    string          `json:"summary"`
	Reason     string          `json:"reason"`
}

// BatchRequest 是一次批次风控所需的全部上下文。
type BatchRequest struct {
	Batch     int
	Symbols   []string
	Technical analyst.TechnicalReport
	Macro     analyst.MacroResult
	Sentiment analyst.SentimentResult
	Config    RiskConfig
}

// BatchDecisions 按批次内 symbol 顺序给出结论。
type BatchDecisions struct {
	Batch     int
	Decisions []SymbolDecision
	Result    analyst.Result[analyst.RiskReport]
}

// Signals 返回 BUY 结论。
func (b BatchDecisions) Signals() []BuySignal {
	var out []BuySignal
	for _, d := range b.Decisions {
		if d.Verdict == analyst.VerdictBuy {
			out = append(out, BuySignal{
				Symbol:          d.Symbol,
				ConfidenceScore: d.Confidence,
				Summary:         d.Summary,
				Batch:           b.Batch,
			})
		}
	}
	return out
}

// Avoided 把 AVOID 结论转成机会日志条目。
func (b BatchDecisions) Avoided(cycleID string, at time.Time) []OpportunityLogEntry {
	var out []OpportunityLogEntry
	for _, d := range b.Decisions {
		if d.Verdict != analyst.VerdictAvoid {
			continue
		}
		out = append(out, OpportunityLogEntry{
			CycleID:         cycleID,
			Batch:           b.Batch,
			Symbol:          d.Symbol,
			Verdict:         string(d.Verdict),
			Reason:          d.Reason,
			ConfidenceScore: d.Confidence,
			Summary:         d.Summary,
			Timestamp:       at,
		})
	}
	return out
}

// RiskSynthesizer 包装风控分析师，把原始结论收敛成 BUY/AVOID。
type RiskSynthesizer struct {
	analyst analyst.RiskAnalyst
}

func NewRiskSynthesizer(a analyst.RiskAnalyst) *RiskSynthesizer {
	return &RiskSynthesizer{analyst: a}
}

// DecideBatch 调用一次风控分析师，并为批次内每个 symbol 给出结论。
func (s *RiskSynthesizer) DecideBatch(ctx context.Context, req BatchRequest) (BatchDecisions, error) {
	out := BatchDecisions{Batch: req.Batch}
	if len(req.Symbols) == 0 {
		return out, nil
	}
	if s == nil || s.analyst == nil {
		return out, fmt.Errorf("risk analyst not configured")
	}
	res, err := s.analyst.DecideBatch(ctx, analyst.RiskInput{
		Batch:          req.Batch,
		Symbols:        append([]string(nil), req.Symbols...),
		Technical:      req.Technical,
		Macro:          req.Macro,
		Sentiment:      req.Sentiment,
		MinConfidence:  req.Config.MinConfidence,
		MaxPositionPct: req.Config.MaxPositionPct,
	})
	if err != nil {
		return out, fmt.Errorf("risk decision for batch %d: %w", req.Batch, err)
	}
	out.Result = res

	calls := make(map[string]analyst.RiskCall, len(res.Response.Calls))
	for _, c := range res.Response.Calls {
		sym := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if _, dup := calls[sym]; dup {
			continue
		}
		calls[sym] = c
	}
	out.Decisions = make([]SymbolDecision, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		out.Decisions = append(out.Decisions, resolveCall(sym, calls, req.Config.MinConfidence))
	}
	return out, nil
}

func resolveCall(sym string, calls map[string]analyst.RiskCall, minConfidence float64) SymbolDecision {
	call, ok := calls[sym]
	if !ok {
		return SymbolDecision{Symbol: sym, Verdict: analyst.VerdictAvoid, Reason: "no decision returned"}
	}
	d := SymbolDecision{
		Symbol:     sym,
		Confidence: call.Confidence,
		Summary:    call.Summary,
	}
	switch call.Verdict {
	case analyst.VerdictBuy:
		if call.Confidence < minConfidence {
			d.Verdict = analyst.VerdictAvoid
			d.Reason = fmt.Sprintf("confidence %.0f below minimum %.0f", call.Confidence, minConfidence)
			return d
		}
		d.Verdict = analyst.VerdictBuy
		d.Reason = "risk analyst approved"
	case analyst.VerdictAvoid:
		d.Verdict = analyst.VerdictAvoid
		d.Reason = "risk analyst avoided"
	default:
		d.Verdict = analyst.VerdictAvoid
		d.Reason = fmt.Sprintf("unrecognized verdict %q", call.Verdict)
	}
	return d
}
