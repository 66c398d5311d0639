package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "/data/logs/quorum.log"
	defaultAppLLMLogPath    = "/data/logs/quorum-agents.log"
	defaultExchange         = ExchangeBinance
	defaultMarketREST       = "https://fapi.binance.com"
	defaultGateREST         = "https://api.gateio.ws/api/v4"
	defaultMarketTimeout    = 15
	defaultQuoteAsset       = "USDT"
	defaultCandleInterval   = "4h"
	defaultCandleLimit      = 120
	defaultMinQuoteVolume   = 20_000_000
	defaultFearGreedURL     = "https://api.alternative.me/fng/?limit=1"
	defaultDerivPeriod      = "1h"
	defaultDerivCache       = 300
	defaultEMAFast          = 21
	defaultEMASlow          = 55
	defaultRSIPeriod        = 14
	defaultATRPeriod        = 14
	defaultRSIOverbought    = 70
	defaultRSIOversold      = 30
	defaultNewsEndpoint     = "https://min-api.cryptocompare.com/data/v2/news/"
	defaultNewsLanguage     = "EN"
	defaultNewsMaxItems     = 20
	defaultNewsBodyChars    = 400
	defaultNewsTimeout      = 10
	defaultAITimeout        = 120
	defaultPromptsPath      = "configs/prompts.yaml"
	defaultMinimumBalance   = 50
	defaultMacroThreshold   = 30
	defaultSymbolsToAnalyze = 12
	defaultBatchSize        = 4
	defaultCycleInterval    = "4h"
	defaultCycleOffset      = 30
	defaultCycleFailures    = 3
	defaultCycleCooldown    = 1800
	defaultMaxPositionPct   = 0.1
	defaultMinConfidence    = 60
	defaultMinTradeUSD      = 10
	defaultReservePct       = 0.1
	defaultPortfolioDB      = "/data/db/portfolio.db"
	defaultInitialBalance   = 10000
	defaultCurrency         = "USD"
	defaultLedgerPath       = "/data/db/ledger.db"
	defaultCycleLogPath     = "/data/db/cycles.db"
)

var defaultBenchmarks = []string{"BTC/USDT", "ETH/USDT"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.News.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Cycle.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	m.Exchange = strings.ToLower(strings.TrimSpace(m.Exchange))
	restDefault := defaultMarketREST
	if m.Exchange == ExchangeGate {
		restDefault = defaultGateREST
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.exchange", &m.Exchange, defaultExchange),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, restDefault),
		stringFieldDefault("market.quote_asset", &m.QuoteAsset, defaultQuoteAsset),
		stringFieldDefault("market.candle_interval", &m.CandleInterval, defaultCandleInterval),
		stringFieldDefault("market.fear_greed_url", &m.FearGreedURL, defaultFearGreedURL),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
		fieldDefault{
			key:   "market.candle_limit",
			need:  func() bool { return m.CandleLimit <= 0 },
			apply: func() { m.CandleLimit = defaultCandleLimit },
		},
		fieldDefault{
			key:   "market.min_quote_volume",
			need:  func() bool { return m.MinQuoteVolume <= 0 },
			apply: func() { m.MinQuoteVolume = defaultMinQuoteVolume },
		},
		fieldDefault{
			key:   "market.benchmark_symbols",
			need:  func() bool { return len(m.BenchmarkSymbols) == 0 },
			apply: func() { m.BenchmarkSymbols = append([]string(nil), defaultBenchmarks...) },
		},
		boolFieldDefault("market.derivatives.enabled", &m.Derivatives.Enabled, true),
		stringFieldDefault("market.derivatives.period", &m.Derivatives.Period, defaultDerivPeriod),
		fieldDefault{
			key:   "market.derivatives.cache_seconds",
			need:  func() bool { return m.Derivatives.CacheSeconds <= 0 },
			apply: func() { m.Derivatives.CacheSeconds = defaultDerivCache },
		},
	)
	m.Indicators.applyDefaults(keys)
	m.Derivatives.Period = strings.ToLower(strings.TrimSpace(m.Derivatives.Period))
	m.QuoteAsset = strings.ToUpper(strings.TrimSpace(m.QuoteAsset))
	m.ExcludeSymbols = normalizeList(m.ExcludeSymbols)
	m.BenchmarkSymbols = normalizeList(m.BenchmarkSymbols)
}

func (i *IndicatorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "market.indicators.ema_fast",
			need:  func() bool { return i.EMAFast <= 0 },
			apply: func() { i.EMAFast = defaultEMAFast },
		},
		fieldDefault{
			key:   "market.indicators.ema_slow",
			need:  func() bool { return i.EMASlow <= 0 },
			apply: func() { i.EMASlow = defaultEMASlow },
		},
		fieldDefault{
			key:   "market.indicators.rsi_period",
			need:  func() bool { return i.RSIPeriod <= 0 },
			apply: func() { i.RSIPeriod = defaultRSIPeriod },
		},
		fieldDefault{
			key:   "market.indicators.atr_period",
			need:  func() bool { return i.ATRPeriod <= 0 },
			apply: func() { i.ATRPeriod = defaultATRPeriod },
		},
		fieldDefault{
			key:   "market.indicators.rsi_overbought",
			need:  func() bool { return i.Overbought <= 0 },
			apply: func() { i.Overbought = defaultRSIOverbought },
		},
		fieldDefault{
			key:   "market.indicators.rsi_oversold",
			need:  func() bool { return i.Oversold <= 0 },
			apply: func() { i.Oversold = defaultRSIOversold },
		},
	)
}

func (n *NewsConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("news.enabled", &n.Enabled, true),
		stringFieldDefault("news.endpoint", &n.Endpoint, defaultNewsEndpoint),
		stringFieldDefault("news.language", &n.Language, defaultNewsLanguage),
		fieldDefault{
			key:   "news.max_items",
			need:  func() bool { return n.MaxItems <= 0 },
			apply: func() { n.MaxItems = defaultNewsMaxItems },
		},
		fieldDefault{
			key:   "news.max_body_chars",
			need:  func() bool { return n.MaxBodyChars <= 0 },
			apply: func() { n.MaxBodyChars = defaultNewsBodyChars },
		},
		fieldDefault{
			key:   "news.timeout_seconds",
			need:  func() bool { return n.TimeoutSeconds <= 0 },
			apply: func() { n.TimeoutSeconds = defaultNewsTimeout },
		},
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	if a.ProviderPresets == nil {
		a.ProviderPresets = make(map[string]ModelPreset)
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.prompts_path", &a.PromptsPath, defaultPromptsPath),
		fieldDefault{
			key:   "ai.timeout_seconds",
			need:  func() bool { return a.TimeoutSeconds <= 0 },
			apply: func() { a.TimeoutSeconds = defaultAITimeout },
		},
	)
	a.Roles.fillFrom(firstEnabledModel(a.Models))
}

func (r *RoleBindings) fillFrom(fallback string) {
	if r == nil || fallback == "" {
		return
	}
	for _, target := range []*string{&r.Macro, &r.Sentiment, &r.Technical, &r.Risk, &r.Allocator, &r.Position} {
		if strings.TrimSpace(*target) == "" {
			*target = fallback
		}
	}
}

func (c *CycleConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("cycle.interval", &c.Interval, defaultCycleInterval),
		fieldDefault{
			key:   "cycle.minimum_balance",
			need:  func() bool { return c.MinimumBalance <= 0 },
			apply: func() { c.MinimumBalance = defaultMinimumBalance },
		},
		fieldDefault{
			key:   "cycle.macro_score_threshold",
			need:  func() bool { return c.MacroScoreThreshold <= 0 },
			apply: func() { c.MacroScoreThreshold = defaultMacroThreshold },
		},
		fieldDefault{
			key:   "cycle.symbols_to_analyze",
			need:  func() bool { return c.SymbolsToAnalyze <= 0 },
			apply: func() { c.SymbolsToAnalyze = defaultSymbolsToAnalyze },
		},
		fieldDefault{
			key:   "cycle.batch_size",
			need:  func() bool { return c.BatchSize <= 0 },
			apply: func() { c.BatchSize = defaultBatchSize },
		},
		fieldDefault{
			key:   "cycle.offset_seconds",
			need:  func() bool { return c.OffsetSeconds == 0 },
			apply: func() { c.OffsetSeconds = defaultCycleOffset },
		},
		fieldDefault{
			key:   "cycle.failure_threshold",
			need:  func() bool { return c.FailureThreshold <= 0 },
			apply: func() { c.FailureThreshold = defaultCycleFailures },
		},
		fieldDefault{
			key:   "cycle.cooldown_seconds",
			need:  func() bool { return c.CooldownSeconds <= 0 },
			apply: func() { c.CooldownSeconds = defaultCycleCooldown },
		},
	)
	if c.MaxParallelBatches < 0 {
		c.MaxParallelBatches = 0
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_position_pct",
			need:  func() bool { return r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 },
			apply: func() { r.MaxPositionPct = defaultMaxPositionPct },
		},
		fieldDefault{
			key:   "risk.min_confidence",
			need:  func() bool { return r.MinConfidence <= 0 },
			apply: func() { r.MinConfidence = defaultMinConfidence },
		},
		fieldDefault{
			key:   "risk.min_trade_usd",
			need:  func() bool { return r.MinTradeUSD <= 0 },
			apply: func() { r.MinTradeUSD = defaultMinTradeUSD },
		},
		fieldDefault{
			key:   "risk.reserve_pct",
			need:  func() bool { return r.ReservePct <= 0 },
			apply: func() { r.ReservePct = defaultReservePct },
		},
	)
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("portfolio.db_path", &p.DBPath, defaultPortfolioDB),
		stringFieldDefault("portfolio.currency", &p.Currency, defaultCurrency),
		fieldDefault{
			key:   "portfolio.initial_balance",
			need:  func() bool { return p.InitialBalance <= 0 },
			apply: func() { p.InitialBalance = defaultInitialBalance },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.ledger_path", &s.LedgerPath, defaultLedgerPath),
		stringFieldDefault("store.cycle_log_path", &s.CycleLogPath, defaultCycleLogPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledModel(models []AIModelConfig) string {
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if m.Enabled && id != "" {
			return id
		}
	}
	return ""
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func modelLabel(m AIModelConfig, idx int) string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return id
	}
	return fmt.Sprintf("#%d", idx)
}
