package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"quorum/internal/agent/interfaces"
	"quorum/internal/logger"
	"quorum/internal/market"
	symbolpkg "quorum/internal/pkg/symbol"
	"quorum/internal/scheduler"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

const gateMaxHistoryLimit = 2000

// Source 基于 gateapi-go 的 Gate 永续合约行情，实现 interfaces.MarketDataProvider。
type Source struct {
	cfg     Config
	rest    *gateapi.APIClient
	exclude map[string]struct{}
}

var _ interfaces.MarketDataProvider = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	restClient, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]struct{}, len(final.Exclude))
	for _, sym := range symbolpkg.NormalizeList(final.Exclude) {
		exclude[sym] = struct{}{}
	}
	return &Source{cfg: final, rest: restClient, exclude: exclude}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gate REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

// TopSymbols 按 24h 计价币成交额降序返回前 limit 个合约。
func (s *Source) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.rest == nil {
		return nil, fmt.Errorf("gate source not initialized")
	}
	if limit <= 0 {
		return nil, nil
	}
	tickers, _, err := s.rest.FuturesApi.ListFuturesTickers(ctx, s.cfg.Settle, nil)
	if err != nil {
		return nil, fmt.Errorf("futures tickers: %w", err)
	}
	return rankTickers(tickers, strings.ToUpper(s.cfg.Settle), s.cfg.MinQuoteVolume, s.exclude, limit), nil
}

type rankedContract struct {
	symbol string
	volume float64
}

func rankTickers(tickers []gateapi.FuturesTicker, quote string, minVolume float64, exclude map[string]struct{}, limit int) []string {
	ranked := make([]rankedContract, 0, len(tickers))
	seen := make(map[string]struct{}, len(tickers))
	for _, tk := range tickers {
		internal := symbolpkg.Gate.FromExchange(tk.Contract)
		if internal == "" || !symbolpkg.HasQuote(internal, quote) {
			continue
		}
		if _, skip := exclude[internal]; skip {
			continue
		}
		if _, dup := seen[internal]; dup {
			continue
		}
		vol := parseFloat(tk.Volume24hQuote)
		if vol < minVolume || parseFloat(tk.Last) <= 0 {
			continue
		}
		seen[internal] = struct{}{}
		ranked = append(ranked, rankedContract{symbol: internal, volume: vol})
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
	if s == nil || s.rest == nil {
		return nil, fmt.Errorf("gate source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > gateMaxHistoryLimit {
		limit = gateMaxHistoryLimit
	}
	normalized := symbolpkg.Normalize(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	opts := &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	}
	kls, _, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, s.cfg.Settle, symbolpkg.Gate.ToExchange(normalized), opts)
	if err != nil {
		logger.Errorf("[gate] fetch kline failed %s %s limit=%d: %v", symbol, interval, limit, err)
		return nil, err
	}

	dur, hasDur := scheduler.ParseIntervalDuration(interval)
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		openTime := int64(kl.T * 1000)
		closeTime := openTime
		if hasDur {
			closeTime = openTime + dur.Milliseconds() - 1
		}
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      parseFloat(kl.O),
			High:      parseFloat(kl.H),
			Low:       parseFloat(kl.L),
			Close:     parseFloat(kl.C),
			Volume:    parseFloat(kl.Sum),
		})
	}
	if hasDur {
		out = scheduler.DropUnclosedBinanceKline(out, dur)
	}
	return out, nil
}

func (s *Source) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if s == nil || s.rest == nil {
		return 0, fmt.Errorf("gate source not initialized")
	}
	normalized := symbolpkg.Normalize(symbol)
	if normalized == "" {
		return 0, fmt.Errorf("invalid symbol: %s", symbol)
	}
	contract := symbolpkg.Gate.ToExchange(normalized)
	tickers, _, err := s.rest.FuturesApi.ListFuturesTickers(ctx, s.cfg.Settle, &gateapi.ListFuturesTickersOpts{
		Contract: optional.NewString(contract),
	})
	if err != nil {
		return 0, err
	}
	for _, tk := range tickers {
		if !strings.EqualFold(tk.Contract, contract) {
			continue
		}
		if v := parseFloat(tk.Last); v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("price not available for %s", symbol)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
