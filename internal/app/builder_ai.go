package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quorum/internal/analyst"
	"quorum/internal/analyst/prompts"
	"quorum/internal/config"
	"quorum/internal/gateway/provider"
)

// AnalystStack 是各角色的分析师；LLM 实现下六个字段指向同一个对象。
type AnalystStack struct {
	Macro     analyst.MacroAnalyst
	Sentiment analyst.SentimentAnalyst
	Technical analyst.TechnicalAnalyst
	Risk      analyst.RiskAnalyst
	Allocator analyst.Allocator
	Reviewer  analyst.PositionReviewer

	Bindings map[string]string
	Prompts  *prompts.Registry
}

func buildAnalysts(cfg config.AIConfig) (*AnalystStack, error) {
	models, err := cfg.ResolveModelConfigs()
	if err != nil {
		return nil, err
	}
	providers := provider.BuildProviders(models, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no enabled AI model")
	}
	bindings := cfg.Roles.ByRole()
	bound, err := provider.BindRoles(providers, bindings)
	if err != nil {
		return nil, err
	}
	registry, err := prompts.NewRegistry(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	llm, err := analyst.NewLLMAnalysts(bound, registry)
	if err != nil {
		return nil, err
	}
	return &AnalystStack{
		Macro:     llm,
		Sentiment: llm,
		Technical: llm,
		Risk:      llm,
		Allocator: llm,
		Reviewer:  llm,
		Bindings:  bindings,
		Prompts:   registry,
	}, nil
}

func (s *AnalystStack) describe() string {
	if s == nil || len(s.Bindings) == 0 {
		return "-"
	}
	roles := make([]string, 0, len(s.Bindings))
	for role := range s.Bindings {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, role+"="+s.Bindings[role])
	}
	return strings.Join(parts, ", ")
}
