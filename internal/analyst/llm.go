package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quorum/internal/analyst/prompts"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// PromptSource 提供角色模板。
type PromptSource interface {
	Template(role string) (prompts.Template, bool)
}

// LLMAnalysts 用绑定到各角色的模型实现全部分析师接口。
type LLMAnalysts struct {
	providers map[Role]provider.ModelProvider
	prompts   PromptSource
	now       func() time.Time
}

// NewLLMAnalysts 要求每个角色都绑定了模型。
func NewLLMAnalysts(bound map[string]provider.ModelProvider, src PromptSource) (*LLMAnalysts, error) {
	if src == nil {
		return nil, fmt.Errorf("prompt source is required")
	}
	providers := make(map[Role]provider.ModelProvider, len(bound))
	for _, role := range Roles() {
		p, ok := bound[string(role)]
		if !ok || p == nil {
			return nil, fmt.Errorf("no model bound for role %s", role)
		}
		if _, ok := src.Template(string(role)); !ok {
			return nil, fmt.Errorf("no prompt template for role %s", role)
		}
		providers[role] = p
	}
	return &LLMAnalysts{providers: providers, prompts: src, now: time.Now}, nil
}

func (a *LLMAnalysts) AnalyzeMacro(ctx context.Context, in MacroInput) (Result[MacroResult], error) {
	return invoke(ctx, a, RoleMacro, renderMacro(in), decodeMacro)
}

func (a *LLMAnalysts) AnalyzeSentiment(ctx context.Context, in SentimentInput) (Result[SentimentResult], error) {
	return invoke(ctx, a, RoleSentiment, renderSentiment(in), decodeSentiment)
}

func (a *LLMAnalysts) AnalyzeTechnical(ctx context.Context, in TechnicalInput) (Result[TechnicalReport], error) {
	return invoke(ctx, a, RoleTechnical, renderTechnical(in), func(doc gjson.Result) (TechnicalReport, error) {
		return decodeTechnical(in.Batch, doc)
	})
}

func (a *LLMAnalysts) DecideBatch(ctx context.Context, in RiskInput) (Result[RiskReport], error) {
	return invoke(ctx, a, RoleRisk, renderRisk(in), func(doc gjson.Result) (RiskReport, error) {
		return decodeRisk(in.Batch, doc)
	})
}

func (a *LLMAnalysts) Allocate(ctx context.Context, in AllocationInput) (Result[AllocationReport], error) {
	return invoke(ctx, a, RoleAllocator, renderAllocation(in), decodeAllocation)
}

func (a *LLMAnalysts) ReviewPosition(ctx context.Context, in ReviewInput) (Result[PositionReview], error) {
	return invoke(ctx, a, RolePosition, renderReview(in), func(doc gjson.Result) (PositionReview, error) {
		return decodeReview(in.Position.Symbol, doc)
	})
}

func invoke[T any](ctx context.Context, a *LLMAnalysts, role Role, user string, decode func(gjson.Result) (T, error)) (Result[T], error) {
	var zero Result[T]
	p, ok := a.providers[role]
	if !ok {
		return zero, fmt.Errorf("%s analyst: no model bound", role)
	}
	tpl, ok := a.prompts.Template(string(role))
	if !ok {
		return zero, fmt.Errorf("%s analyst: prompt template missing", role)
	}
	logger.LogAgentRequest(string(role), p.ID(), tpl.System, user, "")
	start := a.now()
	raw, err := p.Call(ctx, provider.ChatPayload{System: tpl.System, User: user, ExpectJSON: true})
	latency := a.now().Sub(start)
	if err != nil {
		logger.LogAgentError(string(role), p.ID(), err)
		return zero, fmt.Errorf("%s analyst: %w", role, err)
	}
	logger.LogAgentResponse(string(role), p.ID(), jsonutil.Pretty(raw), latency)
	meta := RawMetadata{
		Role:       role,
		ProviderID: p.ID(),
		Model:      p.Model(),
		Output:     raw,
		Latency:    latency,
		ReceivedAt: a.now().UTC(),
	}
	body, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(body) {
		return zero, fmt.Errorf("%s analyst: response contains no valid JSON", role)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return zero, fmt.Errorf("%s analyst: %w", role, err)
	}
	if err := tpl.Validate(doc); err != nil {
		return zero, fmt.Errorf("%s analyst: schema: %w", role, err)
	}
	resp, err := decode(gjson.Parse(body))
	if err != nil {
		return zero, fmt.Errorf("%s analyst: %w", role, err)
	}
	return Result[T]{Response: resp, Raw: meta}, nil
}
