package interfaces

import (
	"context"
	"errors"
	"time"

	"quorum/internal/decision"
	"quorum/internal/market"
)

var (
	// ErrInsufficientBalance is returned when a trade needs more cash than is available.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPositionNotFound is returned when closing or selling a position that does not exist.
	ErrPositionNotFound = errors.New("position not found")
)

// MarketDataProvider supplies the symbol universe, candles and spot prices.
type MarketDataProvider interface {
	// TopSymbols returns up to limit symbols ranked by liquidity.
	TopSymbols(ctx context.Context, limit int) ([]string, error)

	// HistoricalData returns the most recent candles, oldest first.
	HistoricalData(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)

	// CurrentPrice returns the latest traded price.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// NewsProvider returns recent crypto headlines.
type NewsProvider interface {
	CryptoNews(ctx context.Context, limit int) ([]market.NewsItem, error)
}

// FearGreedSource returns the current fear & greed reading, false when none is available.
type FearGreedSource interface {
	Current(ctx context.Context) (market.FearGreedReading, bool)
}

// DerivativesSource returns funding / open-interest sentiment for a symbol.
type DerivativesSource interface {
	Reading(ctx context.Context, symbol string) (market.DerivativesReading, error)
}

// TradeRequest describes a paper trade in base-asset quantity.
type TradeRequest struct {
	Symbol   string
	Quantity float64
	Price    float64
}

// PortfolioStore is the paper account the cycle trades against.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context) (decision.PortfolioSnapshot, error)
	Buy(ctx context.Context, req TradeRequest) (decision.Trade, error)
	Sell(ctx context.Context, req TradeRequest) (decision.Trade, error)
	OpenShort(ctx context.Context, req TradeRequest) (decision.Trade, error)
	CloseShort(ctx context.Context, req TradeRequest) (decision.Trade, error)
	Trades(ctx context.Context, limit int) ([]decision.Trade, error)
}

// OpportunityLedger persists AVOID decisions. Entries are never updated.
type OpportunityLedger interface {
	Log(ctx context.Context, entry decision.OpportunityLogEntry) error
	Recent(ctx context.Context, limit int) ([]decision.OpportunityLogEntry, error)
}

// ConflictLedger persists conflict narratives. Entries are never updated.
type ConflictLedger interface {
	Record(ctx context.Context, narrative decision.ConflictNarrative) error
	Recent(ctx context.Context, limit int) ([]decision.ConflictNarrative, error)
}

// CycleSummary is the audit row written once a cycle ends.
type CycleSummary struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	State       string    `json:"state"`
	Symbols     int       `json:"symbols"`
	Signals     int       `json:"signals"`
	Avoided     int       `json:"avoided"`
	Executed    int       `json:"executed"`
	RegimeScore float64   `json:"regime_score"`
	Sentiment   float64   `json:"sentiment"`
	Message     string    `json:"message,omitempty"`
	Context     []byte    `json:"context,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// CycleRecorder stores cycle summaries.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, summary CycleSummary) error
	RecentCycles(ctx context.Context, limit int) ([]CycleSummary, error)
}
