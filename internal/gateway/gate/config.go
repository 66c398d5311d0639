package gate

import (
	"strings"
	"time"

	"quorum/internal/config"
)

const defaultGateREST = "https://api.gateio.ws/api/v4"

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// Settle 是合约结算币，决定使用哪一组 futures 接口。
	Settle         string
	MinQuoteVolume float64
	Exclude        []string
}

// ConfigFrom 从 market 配置段构造网关配置，结算币取 quote_asset。
func ConfigFrom(m config.MarketConfig) Config {
	return Config{
		RESTBaseURL:    m.RESTBaseURL,
		HTTPTimeout:    m.Timeout(),
		ProxyEnabled:   m.Proxy.Enabled,
		RESTProxyURL:   m.Proxy.RESTURL,
		Settle:         m.QuoteAsset,
		MinQuoteVolume: m.MinQuoteVolume,
		Exclude:        m.ExcludeSymbols,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultGateREST
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.Settle = strings.ToLower(strings.TrimSpace(out.Settle))
	if out.Settle == "" {
		out.Settle = "usdt"
	}
	if out.MinQuoteVolume < 0 {
		out.MinQuoteVolume = 0
	}
	return out
}
