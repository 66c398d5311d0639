package app

import (
	"fmt"
	"time"

	"quorum/internal/agent/interfaces"
	"quorum/internal/config"
	"quorum/internal/gateway/binance"
	"quorum/internal/gateway/gate"
	"quorum/internal/gateway/news"
	"quorum/internal/market"
)

// MarketStack 是行情、新闻、恐惧贪婪指数与合约指标等外部数据源。
type MarketStack struct {
	Market      interfaces.MarketDataProvider
	News        interfaces.NewsProvider
	FearGreed   interfaces.FearGreedSource
	Derivatives interfaces.DerivativesSource
}

func buildMarketStack(cfg *config.Config) (*MarketStack, error) {
	src, err := buildMarketSource(cfg.Market)
	if err != nil {
		return nil, err
	}
	stack := &MarketStack{
		Market: src,
		News:   news.New(cfg.News),
	}
	if cfg.Market.FearGreedURL != "" {
		stack.FearGreed = market.NewFearGreedService(cfg.Market.FearGreedURL, time.Duration(cfg.Market.TimeoutSeconds)*time.Second)
	}
	if feed, ok := src.(market.DerivativesFeed); ok && cfg.Market.Derivatives.Enabled {
		stack.Derivatives = market.NewDerivativesService(feed, cfg.Market.Derivatives.Period, cfg.Market.Derivatives.CacheTTL())
	}
	return stack, nil
}

func buildMarketSource(m config.MarketConfig) (interfaces.MarketDataProvider, error) {
	switch m.Exchange {
	case config.ExchangeGate:
		src, err := gate.New(gate.ConfigFrom(m))
		if err != nil {
			return nil, fmt.Errorf("build gate source: %w", err)
		}
		return src, nil
	default:
		src, err := binance.New(binance.ConfigFrom(m))
		if err != nil {
			return nil, fmt.Errorf("build binance source: %w", err)
		}
		return src, nil
	}
}
