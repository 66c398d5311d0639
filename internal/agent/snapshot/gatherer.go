// Package snapshot 采集宏观与情绪上下文，供决策轮与冲突复盘共用。
package snapshot

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/agent/interfaces"
	"quorum/internal/analysis/indicator"
	"quorum/internal/analyst"
	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/market"
)

// Options 控制一次采集，每轮由当前配置构造。
type Options struct {
	Benchmarks     []string
	CandleInterval string
	CandleLimit    int
	NewsLimit      int
	Indicators     indicator.Settings
}

// IndicatorSettings 把配置转换为指标参数。
func IndicatorSettings(c config.IndicatorConfig) indicator.Settings {
	return indicator.Settings{
		EMAFast:    c.EMAFast,
		EMASlow:    c.EMASlow,
		RSIPeriod:  c.RSIPeriod,
		ATRPeriod:  c.ATRPeriod,
		Overbought: c.Overbought,
		Oversold:   c.Oversold,
	}
}

// Snapshot 是一次采集的结果。
type Snapshot struct {
	Macro       analyst.Result[analyst.MacroResult]
	Sentiment   analyst.Result[analyst.SentimentResult]
	FearGreed   *market.FearGreedReading
	News        []market.NewsItem
	Series      []analyst.SymbolSeries
	Derivatives []market.DerivativesReading
	At          time.Time
}

// Gatherer 先拉取行情/新闻/指数，再依次调用宏观与情绪分析师。
// 数据源失败只降级输入，分析师失败返回错误。
type Gatherer struct {
	Market    interfaces.MarketDataProvider
	News      interfaces.NewsProvider
	FearGreed interfaces.FearGreedSource
	Macro     analyst.MacroAnalyst
	Sentiment analyst.SentimentAnalyst

	// Derivatives 可选，为空时情绪分析只使用新闻与指数。
	Derivatives interfaces.DerivativesSource

	now func() time.Time
}

func NewGatherer(mkt interfaces.MarketDataProvider, news interfaces.NewsProvider, fg interfaces.FearGreedSource, macro analyst.MacroAnalyst, sentiment analyst.SentimentAnalyst) *Gatherer {
	return &Gatherer{
		Market:    mkt,
		News:      news,
		FearGreed: fg,
		Macro:     macro,
		Sentiment: sentiment,
		now:       time.Now,
	}
}

// Gather 返回宏观与情绪结论。
func (g *Gatherer) Gather(ctx context.Context, opts Options) (Snapshot, error) {
	if g == nil || g.Macro == nil || g.Sentiment == nil {
		return Snapshot{}, fmt.Errorf("snapshot gatherer not configured")
	}
	snap := Snapshot{At: g.clock()}
	snap.FearGreed = g.fearGreed(ctx)
	snap.News = g.news(ctx, opts.NewsLimit)
	snap.Series = g.benchmarks(ctx, opts)
	snap.Derivatives = g.derivatives(ctx, opts.Benchmarks)

	headlines := make([]string, 0, len(snap.News))
	for _, item := range snap.News {
		headlines = append(headlines, item.Title)
	}
	macro, err := g.Macro.AnalyzeMacro(ctx, analyst.MacroInput{
		Benchmarks: snap.Series,
		FearGreed:  snap.FearGreed,
		Headlines:  headlines,
	})
	if err != nil {
		return snap, fmt.Errorf("macro analysis: %w", err)
	}
	snap.Macro = macro

	sentiment, err := g.Sentiment.AnalyzeSentiment(ctx, analyst.SentimentInput{
		News:        snap.News,
		FearGreed:   snap.FearGreed,
		Derivatives: snap.Derivatives,
	})
	if err != nil {
		return snap, fmt.Errorf("sentiment analysis: %w", err)
	}
	snap.Sentiment = sentiment
	return snap, nil
}

func (g *Gatherer) fearGreed(ctx context.Context) *market.FearGreedReading {
	if g.FearGreed == nil {
		return nil
	}
	reading, ok := g.FearGreed.Current(ctx)
	if !ok {
		return nil
	}
	return &reading
}

func (g *Gatherer) news(ctx context.Context, limit int) []market.NewsItem {
	if g.News == nil || limit <= 0 {
		return nil
	}
	items, err := g.News.CryptoNews(ctx, limit)
	if err != nil {
		logger.Warnf("snapshot: news unavailable: %v", err)
		return nil
	}
	return items
}

func (g *Gatherer) derivatives(ctx context.Context, symbols []string) []market.DerivativesReading {
	if g.Derivatives == nil {
		return nil
	}
	out := make([]market.DerivativesReading, 0, len(symbols))
	for _, sym := range symbols {
		reading, err := g.Derivatives.Reading(ctx, sym)
		if err != nil {
			logger.Warnf("snapshot: derivatives %s unavailable: %v", sym, err)
			continue
		}
		out = append(out, reading)
	}
	return out
}

func (g *Gatherer) benchmarks(ctx context.Context, opts Options) []analyst.SymbolSeries {
	if g.Market == nil {
		return nil
	}
	out := make([]analyst.SymbolSeries, 0, len(opts.Benchmarks))
	for _, sym := range opts.Benchmarks {
		series, err := LoadSeries(ctx, g.Market, sym, opts.CandleInterval, opts.CandleLimit, opts.Indicators)
		if err != nil {
			logger.Warnf("snapshot: benchmark %s skipped: %v", sym, err)
			continue
		}
		out = append(out, series)
	}
	return out
}

func (g *Gatherer) clock() time.Time {
	if g.now == nil {
		return time.Now()
	}
	return g.now()
}

// LoadSeries 拉取 K 线并附加指标摘要；空数据视为错误。
// 指标不足只记录日志，仍返回 K 线。
func LoadSeries(ctx context.Context, mkt interfaces.MarketDataProvider, symbol, interval string, limit int, settings indicator.Settings) (analyst.SymbolSeries, error) {
	candles, err := mkt.HistoricalData(ctx, symbol, interval, limit)
	if err != nil {
		return analyst.SymbolSeries{}, err
	}
	if len(candles) == 0 {
		return analyst.SymbolSeries{}, fmt.Errorf("no candles for %s", symbol)
	}
	series := analyst.SymbolSeries{Symbol: symbol, Interval: interval, Candles: candles}
	digest, err := indicator.Compute(symbol, interval, candles, settings)
	if err != nil {
		logger.Debugf("snapshot: indicators for %s unavailable: %v", symbol, err)
		return series, nil
	}
	series.Digest = digest
	return series, nil
}
