package binance

import (
	"strings"
	"time"

	"quorum/internal/config"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// QuoteAsset 只保留以该币种计价的永续合约。
	QuoteAsset     string
	MinQuoteVolume float64
	Exclude        []string
}

// ConfigFrom 从 market 配置段构造网关配置。
func ConfigFrom(m config.MarketConfig) Config {
	return Config{
		RESTBaseURL:    m.RESTBaseURL,
		HTTPTimeout:    m.Timeout(),
		ProxyEnabled:   m.Proxy.Enabled,
		RESTProxyURL:   m.Proxy.RESTURL,
		QuoteAsset:     m.QuoteAsset,
		MinQuoteVolume: m.MinQuoteVolume,
		Exclude:        m.ExcludeSymbols,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	if out.MinQuoteVolume < 0 {
		out.MinQuoteVolume = 0
	}
	return out
}
