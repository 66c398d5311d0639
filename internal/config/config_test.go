package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
ai:
  provider_presets:
    openai:
      api_url: https://api.example.com/v1
      api_key: sk-test
      expect_json: true
  models:
    - id: main
      preset: openai
      enabled: true
      model: gpt-test
portfolio:
  db_path: /tmp/quorum-portfolio.db
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultBatchSize, cfg.Cycle.BatchSize)
	assert.Equal(t, float64(defaultMacroThreshold), cfg.Cycle.MacroScoreThreshold)
	assert.Equal(t, defaultSymbolsToAnalyze, cfg.Cycle.SymbolsToAnalyze)
	assert.Equal(t, "USDT", cfg.Market.QuoteAsset)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Market.BenchmarkSymbols)
	assert.True(t, cfg.News.Enabled)
	assert.Equal(t, "main", cfg.AI.Roles.Risk)
	assert.Equal(t, "main", cfg.AI.Roles.Position)

	models, err := cfg.AI.ResolveModelConfigs()
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "https://api.example.com/v1", models[0].APIURL)
	assert.True(t, models[0].ExpectJSON)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML+`
cycle:
  batch_size: 3
  symbols_to_analyze: 7
  minimum_balance: "250"
news:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Cycle.BatchSize)
	assert.Equal(t, 7, cfg.Cycle.SymbolsToAnalyze)
	assert.Equal(t, 250.0, cfg.Cycle.MinimumBalance)
	assert.False(t, cfg.News.Enabled)
}

func TestLoad_IncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
risk:
  min_confidence: 70
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 70.0, cfg.Risk.MinConfidence)
	assert.Equal(t, "gpt-test", cfg.AI.Models[0].Model)
}

func TestLoad_RejectsUnknownRoleModel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
ai:
  roles:
    risk: ghost
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ai.roles.risk")
}

func TestLoader_ReloadsBetweenCalls(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML+`
cycle:
  batch_size: 2
`)
	loader := NewLoader(path)
	first, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, first.Cycle.BatchSize)

	writeFile(t, dir, "config.yaml", baseYAML+`
cycle:
  batch_size: 5
`)
	second, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, second.Cycle.BatchSize)
}

func TestLoader_MissingFileFails(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("4h"))
	assert.False(t, IsValidInterval("h"))
	assert.False(t, IsValidInterval("4x"))
	assert.False(t, IsValidInterval(""))
}

func TestLoad_GateExchangeDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML+"market:\n  exchange: Gate\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ExchangeGate, cfg.Market.Exchange)
	assert.Equal(t, defaultGateREST, cfg.Market.RESTBaseURL)

	bad := writeFile(t, dir, "bad.yaml", baseYAML+"market:\n  exchange: kraken\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "market.exchange")
}

func TestLoad_DerivativesDefaultsAndValidation(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", baseYAML))
	require.NoError(t, err)
	assert.True(t, cfg.Market.Derivatives.Enabled)
	assert.Equal(t, "1h", cfg.Market.Derivatives.Period)
	assert.Equal(t, 300*time.Second, cfg.Market.Derivatives.CacheTTL())

	off, err := Load(writeFile(t, dir, "off.yaml", baseYAML+"market:\n  derivatives:\n    enabled: false\n    period: 3h\n"))
	require.NoError(t, err)
	assert.False(t, off.Market.Derivatives.Enabled)

	_, err = Load(writeFile(t, dir, "bad.yaml", baseYAML+"market:\n  derivatives:\n    period: 3h\n"))
	assert.ErrorContains(t, err, "market.derivatives.period")
}

func TestLoad_IndicatorDefaultsAndValidation(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", baseYAML))
	require.NoError(t, err)
	assert.Equal(t, IndicatorConfig{EMAFast: 21, EMASlow: 55, RSIPeriod: 14, ATRPeriod: 14, Overbought: 70, Oversold: 30}, cfg.Market.Indicators)

	custom, err := Load(writeFile(t, dir, "custom.yaml", baseYAML+"market:\n  indicators:\n    ema_fast: 9\n    ema_slow: 26\n    rsi_overbought: 80\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, custom.Market.Indicators.EMAFast)
	assert.Equal(t, 26, custom.Market.Indicators.EMASlow)
	assert.Equal(t, 14, custom.Market.Indicators.RSIPeriod)
	assert.Equal(t, 80.0, custom.Market.Indicators.Overbought)

	_, err = Load(writeFile(t, dir, "cross.yaml", baseYAML+"market:\n  indicators:\n    ema_fast: 60\n"))
	assert.ErrorContains(t, err, "ema_fast")

	_, err = Load(writeFile(t, dir, "rsi.yaml", baseYAML+"market:\n  indicators:\n    rsi_oversold: 75\n"))
	assert.ErrorContains(t, err, "rsi_oversold")
}
