package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.News.validate(); err != nil {
		return err
	}
	if err := c.Cycle.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Portfolio.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AIConfig) validate() error {
	models, err := a.ResolveModelConfigs()
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	modelSet := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m.Model == "" {
			return fmt.Errorf("ai.models.%s missing model", m.ID)
		}
		if m.APIURL == "" {
			return fmt.Errorf("ai.models.%s missing api_url (can inherit from preset)", m.ID)
		}
		modelSet[m.ID] = struct{}{}
	}
	for role, id := range a.Roles.ByRole() {
		if _, ok := modelSet[strings.TrimSpace(id)]; !ok {
			return fmt.Errorf("ai.roles.%s references unconfigured model id: %q", role, id)
		}
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.Exchange != ExchangeBinance && m.Exchange != ExchangeGate {
		return fmt.Errorf("market.exchange must be %s or %s, got %q", ExchangeBinance, ExchangeGate, m.Exchange)
	}
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.Proxy.Enabled && m.Proxy.RESTURL == "" {
		return fmt.Errorf("market.proxy enabled but rest_url is empty")
	}
	if !IsValidInterval(m.CandleInterval) {
		return fmt.Errorf("market.candle_interval invalid: %s", m.CandleInterval)
	}
	if m.CandleLimit < 30 || m.CandleLimit > 1500 {
		return fmt.Errorf("market.candle_limit must be in [30,1500]")
	}
	if m.Derivatives.Enabled && !isDerivativesPeriod(m.Derivatives.Period) {
		return fmt.Errorf("market.derivatives.period invalid: %s", m.Derivatives.Period)
	}
	return m.Indicators.validate()
}

func (i *IndicatorConfig) validate() error {
	if i.EMAFast <= 0 || i.EMASlow <= 0 || i.RSIPeriod <= 0 || i.ATRPeriod <= 0 {
		return fmt.Errorf("market.indicators periods must be > 0")
	}
	if i.EMAFast >= i.EMASlow {
		return fmt.Errorf("market.indicators.ema_fast (%d) must be below ema_slow (%d)", i.EMAFast, i.EMASlow)
	}
	if i.Oversold <= 0 || i.Oversold >= i.Overbought || i.Overbought >= 100 {
		return fmt.Errorf("market.indicators rsi bounds must satisfy 0 < rsi_oversold < rsi_overbought < 100")
	}
	return nil
}

func (n *NewsConfig) validate() error {
	if n.Enabled && strings.TrimSpace(n.Endpoint) == "" {
		return fmt.Errorf("news.endpoint cannot be empty when news is enabled")
	}
	return nil
}

func (c *CycleConfig) validate() error {
	if c.MinimumBalance < 0 {
		return fmt.Errorf("cycle.minimum_balance must be >= 0")
	}
	if c.MacroScoreThreshold < 0 || c.MacroScoreThreshold > 100 {
		return fmt.Errorf("cycle.macro_score_threshold must be in [0,100]")
	}
	if c.SymbolsToAnalyze <= 0 {
		return fmt.Errorf("cycle.symbols_to_analyze must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("cycle.batch_size must be > 0")
	}
	if c.Scheduled && !IsValidInterval(c.Interval) {
		return fmt.Errorf("cycle.interval invalid: %s", c.Interval)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 1]")
	}
	if r.MinConfidence < 0 || r.MinConfidence > 100 {
		return fmt.Errorf("risk.min_confidence must be in [0,100]")
	}
	if r.MinTradeUSD < 0 {
		return fmt.Errorf("risk.min_trade_usd must be >= 0")
	}
	if r.ReservePct < 0 || r.ReservePct >= 1 {
		return fmt.Errorf("risk.reserve_pct must be in [0, 1)")
	}
	return nil
}

func (p *PortfolioConfig) validate() error {
	if strings.TrimSpace(p.DBPath) == "" {
		return fmt.Errorf("portfolio.db_path cannot be empty")
	}
	if p.InitialBalance < 0 {
		return fmt.Errorf("portfolio.initial_balance must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// 交易所合约统计接口支持的周期。
var derivativesPeriods = map[string]struct{}{
	"5m": {}, "15m": {}, "30m": {}, "1h": {}, "2h": {}, "4h": {}, "6h": {}, "12h": {}, "1d": {},
}

func isDerivativesPeriod(p string) bool {
	_, ok := derivativesPeriods[p]
	return ok
}
