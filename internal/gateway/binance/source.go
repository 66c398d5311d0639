package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"quorum/internal/agent/interfaces"
	"quorum/internal/market"
	symbolpkg "quorum/internal/pkg/symbol"
	"quorum/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 的 USDⓈ-M 合约行情，实现 interfaces.MarketDataProvider。
type Source struct {
	cfg     Config
	client  *futures.Client
	exclude map[string]struct{}
}

var _ interfaces.MarketDataProvider = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	exclude := make(map[string]struct{}, len(final.Exclude))
	for _, sym := range symbolpkg.NormalizeList(final.Exclude) {
		exclude[sym] = struct{}{}
	}
	return &Source{
		cfg:     final,
		client:  client,
		exclude: exclude,
	}, nil
}

// TopSymbols 按 24h 成交额降序返回前 limit 个交易对（"BASE/QUOTE" 形式）。
func (s *Source) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if limit <= 0 {
		return nil, nil
	}
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("24h tickers: %w", err)
	}
	return rankByQuoteVolume(stats, s.cfg.QuoteAsset, s.cfg.MinQuoteVolume, s.exclude, limit), nil
}

type rankedSymbol struct {
	symbol string
	volume float64
}

func rankByQuoteVolume(stats []*futures.PriceChangeStats, quote string, minVolume float64, exclude map[string]struct{}, limit int) []string {
	ranked := make([]rankedSymbol, 0, len(stats))
	seen := make(map[string]struct{}, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		sym := symbolpkg.Parse(st.Symbol)
		if sym.Quote != quote {
			continue
		}
		internal := sym.Internal()
		if _, skip := exclude[internal]; skip {
			continue
		}
		if _, dup := seen[internal]; dup {
			continue
		}
		vol := parseFloat(st.QuoteVolume)
		if vol < minVolume || parseFloat(st.LastPrice) <= 0 {
			continue
		}
		seen[internal] = struct{}{}
		ranked = append(ranked, rankedSymbol{symbol: internal, volume: vol})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].volume == ranked[j].volume {
			return ranked[i].symbol < ranked[j].symbol
		}
		return ranked[i].volume > ranked[j].volume
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.symbol)
	}
	return out
}

// HistoricalData 返回已收盘的 K 线，旧的在前。
func (s *Source) HistoricalData(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	cleanSymbol := symbolpkg.Binance.ToExchange(symbol)
	if cleanSymbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(cleanSymbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:       kl.OpenTime,
			CloseTime:      kl.CloseTime,
			Open:           parseFloat(kl.Open),
			High:           parseFloat(kl.High),
			Low:            parseFloat(kl.Low),
			Close:          parseFloat(kl.Close),
			Volume:         parseFloat(kl.Volume),
			Trades:         kl.TradeNum,
			TakerBuyVolume: parseFloat(kl.TakerBuyBaseAssetVolume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedBinanceKline(out, dur)
	}
	return out, nil
}

func (s *Source) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	cleanSymbol := symbolpkg.Parse(symbol).Binance()
	if cleanSymbol == "" {
		return 0, fmt.Errorf("invalid symbol: %s", symbol)
	}
	prices, err := s.client.NewListPricesService().Symbol(cleanSymbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, cleanSymbol) {
			continue
		}
		if v := parseFloat(p.Price); v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("price not available for %s", symbol)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
