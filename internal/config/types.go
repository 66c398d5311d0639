package config

import (
	"strings"
	"time"
)

// Config 是 quorum 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	News      NewsConfig      `toml:"news"`
	AI        AIConfig        `toml:"ai"`
	Cycle     CycleConfig     `toml:"cycle"`
	Risk      RiskConfig      `toml:"risk"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// 支持的行情交易所。
const (
	ExchangeBinance = "binance"
	ExchangeGate    = "gate"
)

// MarketConfig 描述行情来源（Binance USDⓈ-M 或 Gate USDT 永续合约 REST）。
type MarketConfig struct {
	Exchange         string            `toml:"exchange"` // binance | gate
	RESTBaseURL      string            `toml:"rest_base_url"`
	TimeoutSeconds   int               `toml:"timeout_seconds"`
	Proxy            ProxyConfig       `toml:"proxy"`
	QuoteAsset       string            `toml:"quote_asset"`
	CandleInterval   string            `toml:"candle_interval"`
	CandleLimit      int               `toml:"candle_limit"`
	MinQuoteVolume   float64           `toml:"min_quote_volume"`
	ExcludeSymbols   []string          `toml:"exclude_symbols"`
	BenchmarkSymbols []string          `toml:"benchmark_symbols"`
	FearGreedURL     string            `toml:"fear_greed_url"`
	Derivatives      DerivativesConfig `toml:"derivatives"`
	Indicators       IndicatorConfig   `toml:"indicators"`
}

// IndicatorConfig 是技术指标摘要的参数，技术分析与基准品种共用。
type IndicatorConfig struct {
	EMAFast    int     `toml:"ema_fast"`
	EMASlow    int     `toml:"ema_slow"`
	RSIPeriod  int     `toml:"rsi_period"`
	ATRPeriod  int     `toml:"atr_period"`
	Overbought float64 `toml:"rsi_overbought"`
	Oversold   float64 `toml:"rsi_oversold"`
}

// DerivativesConfig 控制合约指标（资金费率、持仓量、多空比）的采集。
type DerivativesConfig struct {
	Enabled      bool   `toml:"enabled"`
	Period       string `toml:"period"`
	CacheSeconds int    `toml:"cache_seconds"`
}

// CacheTTL 返回指标缓存时长。
func (d DerivativesConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheSeconds) * time.Second
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// Timeout 返回单次 REST 请求的超时时间。
func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// NewsConfig 描述新闻源（CryptoCompare 兼容接口）。
type NewsConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	APIKey         string   `toml:"api_key"`
	Language       string   `toml:"language"`
	Categories     []string `toml:"categories"`
	MaxItems       int      `toml:"max_items"`
	MaxBodyChars   int      `toml:"max_body_chars"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// AIConfig 包含模型连接与角色绑定。
type AIConfig struct {
	TimeoutSeconds  int                    `toml:"timeout_seconds"`
	PromptsPath     string                 `toml:"prompts_path"`
	ProviderPresets map[string]ModelPreset `toml:"provider_presets"`
	Models          []AIModelConfig        `toml:"models"`
	Roles           RoleBindings           `toml:"roles"`
}

// ModelPreset 描述可复用的 API 连接配置。
type ModelPreset struct {
	APIURL     string            `toml:"api_url"`
	APIKey     string            `toml:"api_key"`
	Headers    map[string]string `toml:"headers"`
	ExpectJSON bool              `toml:"expect_json"`
}

// AIModelConfig 代表一个可被角色引用的模型条目。
type AIModelConfig struct {
	ID          string            `toml:"id"`
	Preset      string            `toml:"preset"`
	Enabled     bool              `toml:"enabled"`
	APIURL      string            `toml:"api_url"`
	APIKey      string            `toml:"api_key"`
	Model       string            `toml:"model"`
	Temperature float64           `toml:"temperature"`
	Headers     map[string]string `toml:"headers"`
	// ExpectJSON 使用指针以区分"显式 false"与"沿用预设值"。
	ExpectJSON *bool `toml:"expect_json"`
}

// ResolvedModelConfig 是合并预设后的最终模型配置。
type ResolvedModelConfig struct {
	ID          string
	Enabled     bool
	APIURL      string
	APIKey      string
	Model       string
	Temperature float64
	Headers     map[string]string
	ExpectJSON  bool
}

// RoleBindings 把每个分析角色绑定到一个模型 id。
type RoleBindings struct {
	Macro     string `toml:"macro"`
	Sentiment string `toml:"sentiment"`
	Technical string `toml:"technical"`
	Risk      string `toml:"risk"`
	Allocator string `toml:"allocator"`
	Position  string `toml:"position"`
}

// ByRole 以角色名为键返回绑定表。
func (r RoleBindings) ByRole() map[string]string {
	return map[string]string{
		"macro":     r.Macro,
		"sentiment": r.Sentiment,
		"technical": r.Technical,
		"risk":      r.Risk,
		"allocator": r.Allocator,
		"position":  r.Position,
	}
}

// CycleConfig 控制单轮决策流程，每轮开始时重新读取。
type CycleConfig struct {
	MinimumBalance      float64 `toml:"minimum_balance"`
	MacroScoreThreshold float64 `toml:"macro_score_threshold"`
	SymbolsToAnalyze    int     `toml:"symbols_to_analyze"`
	BatchSize           int     `toml:"batch_size"`
	MaxParallelBatches  int     `toml:"max_parallel_batches"`
	Scheduled           bool    `toml:"scheduled"`
	Interval            string  `toml:"interval"`
	OffsetSeconds       int     `toml:"offset_seconds"`
	RunImmediately      bool    `toml:"run_immediately"`
	FailureThreshold    int     `toml:"failure_threshold"`
	CooldownSeconds     int     `toml:"cooldown_seconds"`
}

// RiskConfig 是风控基线参数，宏观/情绪会在每轮中对其做调整。
type RiskConfig struct {
	MaxPositionPct float64 `toml:"max_position_pct"` // 单笔占权益比例 0~1
	MinConfidence  float64 `toml:"min_confidence"`   // 0~100
	MinTradeUSD    float64 `toml:"min_trade_usd"`
	ReservePct     float64 `toml:"reserve_pct"` // 保留现金比例 0~1
}

type PortfolioConfig struct {
	DBPath         string  `toml:"db_path"`
	InitialBalance float64 `toml:"initial_balance"`
	Currency       string  `toml:"currency"`
}

type StoreConfig struct {
	LedgerPath   string `toml:"ledger_path"`
	CycleLogPath string `toml:"cycle_log_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
