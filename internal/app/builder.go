package app

import (
	"context"
	"fmt"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/override"
	"quorum/internal/agent/reconcile"
	"quorum/internal/agent/snapshot"
	"quorum/internal/config"
	"quorum/internal/gateway/notifier"
	"quorum/internal/logger"
	livehttp "quorum/internal/transport/http/live"
)

// AppBuilder 按配置组装全部依赖；各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg  *config.Config
	path string

	storesFn   func(*config.Config) (*Stores, error)
	marketFn   func(*config.Config) (*MarketStack, error)
	analystsFn func(config.AIConfig) (*AnalystStack, error)
	notifierFn func(config.NotifyConfig) notifier.TextNotifier
	liveHTTPFn func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithStores 替换存储构造，测试时注入内存实现。
func WithStores(fn func(*config.Config) (*Stores, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storesFn = fn }
}

// WithMarket 替换行情与新闻构造。
func WithMarket(fn func(*config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketFn = fn }
}

// WithAnalysts 替换分析师构造。
func WithAnalysts(fn func(config.AIConfig) (*AnalystStack, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.analystsFn = fn }
}

func NewAppBuilder(cfg *config.Config, path string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		path:       path,
		storesFn:   buildStores,
		marketFn:   buildMarketStack,
		analystsFn: buildAnalysts,
		notifierFn: buildNotifier,
		liveHTTPFn: livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	stores, err := b.storesFn(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, closers: stores.Closers}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	mkt, err := b.marketFn(cfg)
	if err != nil {
		return fail(err)
	}
	analysts, err := b.analystsFn(cfg.AI)
	if err != nil {
		return fail(err)
	}
	logger.Infof("✓ 分析师模型: %s", analysts.describe())

	source := configSource(cfg, b.path)
	gatherer := snapshot.NewGatherer(mkt.Market, mkt.News, mkt.FearGreed, analysts.Macro, analysts.Sentiment)
	if mkt.Derivatives != nil {
		gatherer.Derivatives = mkt.Derivatives
	}
	text := b.notifierFn(cfg.Notify)
	var cycleNotifier engine.CycleNotifier
	if text != nil {
		cycleNotifier = notifier.NewCycleNotifier(text)
	}

	app.orchestrator = engine.NewOrchestrator(engine.Dependencies{
		Config:        source,
		Market:        mkt.Market,
		Portfolio:     stores.Portfolio,
		Gatherer:      gatherer,
		Technical:     analysts.Technical,
		Risk:          analysts.Risk,
		Allocator:     analysts.Allocator,
		Opportunities: stores.Opportunities,
		Cycles:        stores.Cycles,
		Notifier:      cycleNotifier,
	})
	app.reconciler = reconcile.NewReconciler(source, gatherer, analysts.Reviewer, stores.Conflicts, notifier.ConflictSink(text))
	overrides := override.NewService(stores.Portfolio, mkt.Market, app.reconciler)

	server, err := b.liveHTTPFn(livehttp.ServerConfig{
		Addr:          cfg.App.HTTPAddr,
		Cycles:        app.orchestrator,
		Overrides:     overrides,
		Portfolio:     stores.Portfolio,
		Opportunities: stores.OpportunityReader,
		Conflicts:     stores.Conflicts,
		CycleLog:      stores.CycleLog,
	})
	if err != nil {
		return fail(fmt.Errorf("build http server: %w", err))
	}
	app.http = server
	app.Summary = buildSummary(cfg, analysts, text != nil)
	return app, nil
}

// staticConfig 在没有配置文件路径时固定返回同一份配置。
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Load() (*config.Config, error) {
	return s.cfg, nil
}

func configSource(cfg *config.Config, path string) engine.ConfigSource {
	if path == "" {
		return staticConfig{cfg: cfg}
	}
	return config.NewLoader(path)
}
