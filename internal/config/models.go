package config

import (
	"fmt"
	"strings"
)

// ResolveModelConfigs 合并 provider_presets 与模型条目，返回启用的模型。
func (a AIConfig) ResolveModelConfigs() ([]ResolvedModelConfig, error) {
	out := make([]ResolvedModelConfig, 0, len(a.Models))
	seen := make(map[string]bool, len(a.Models))
	for i, m := range a.Models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("ai.models[%s] missing id", modelLabel(m, i))
		}
		if seen[id] {
			return nil, fmt.Errorf("ai.models contains duplicate id: %s", id)
		}
		seen[id] = true
		resolved := ResolvedModelConfig{
			ID:          id,
			Enabled:     true,
			APIURL:      strings.TrimSpace(m.APIURL),
			APIKey:      strings.TrimSpace(m.APIKey),
			Model:       strings.TrimSpace(m.Model),
			Temperature: m.Temperature,
			Headers:     copyHeaders(m.Headers),
		}
		if name := strings.TrimSpace(m.Preset); name != "" {
			preset, ok := a.ProviderPresets[name]
			if !ok {
				return nil, fmt.Errorf("ai.models.%s references unknown preset %s", id, name)
			}
			if resolved.APIURL == "" {
				resolved.APIURL = strings.TrimSpace(preset.APIURL)
			}
			if resolved.APIKey == "" {
				resolved.APIKey = strings.TrimSpace(preset.APIKey)
			}
			for k, v := range preset.Headers {
				if _, exists := resolved.Headers[k]; !exists {
					if resolved.Headers == nil {
						resolved.Headers = make(map[string]string)
					}
					resolved.Headers[k] = v
				}
			}
			resolved.ExpectJSON = preset.ExpectJSON
		}
		if m.ExpectJSON != nil {
			resolved.ExpectJSON = *m.ExpectJSON
		}
		out = append(out, resolved)
	}
	return out, nil
}

func copyHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
