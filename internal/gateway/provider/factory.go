package provider

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/config"
)

// BuildProviders 为每个启用的模型创建客户端，按 id 索引。
func BuildProviders(models []config.ResolvedModelConfig, timeout time.Duration) map[string]ModelProvider {
	out := make(map[string]ModelProvider, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		out[m.ID] = &temperatureProvider{
			OpenAIChatClient: NewOpenAIChatClient(ClientOptions{
				ID:         m.ID,
				BaseURL:    m.APIURL,
				APIKey:     m.APIKey,
				Model:      m.Model,
				Headers:    m.Headers,
				ExpectJSON: m.ExpectJSON,
				Timeout:    timeout,
			}),
			temperature: m.Temperature,
		}
	}
	return out
}

// BindRoles 按角色绑定表解析出每个角色的模型。
func BindRoles(providers map[string]ModelProvider, bindings map[string]string) (map[string]ModelProvider, error) {
	out := make(map[string]ModelProvider, len(bindings))
	for role, id := range bindings {
		p, ok := providers[id]
		if !ok {
			return nil, fmt.Errorf("role %s bound to unknown model %q", role, id)
		}
		out[role] = p
	}
	return out, nil
}

// temperatureProvider 在调用方未指定温度时使用模型配置的温度。
type temperatureProvider struct {
	*OpenAIChatClient
	temperature float64
}

func (p *temperatureProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if payload.Temperature == 0 {
		payload.Temperature = p.temperature
	}
	return p.OpenAIChatClient.Call(ctx, payload)
}
