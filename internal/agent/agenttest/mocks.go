// Package agenttest 提供 agent 各包测试共用的 testify mock 与内存实现。
package agenttest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"quorum/internal/agent/interfaces"
	"quorum/internal/analyst"
	"quorum/internal/decision"
	"quorum/internal/market"
)

type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	syms, _ := args.Get(0).([]string)
	return syms, args.Error(1)
}

func (m *MockMarket) HistoricalData(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	candles, _ := args.Get(0).([]market.Candle)
	return candles, args.Error(1)
}

func (m *MockMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

type MockNews struct {
	mock.Mock
}

func (m *MockNews) CryptoNews(ctx context.Context, limit int) ([]market.NewsItem, error) {
	args := m.Called(ctx, limit)
	items, _ := args.Get(0).([]market.NewsItem)
	return items, args.Error(1)
}

type MockMacro struct {
	mock.Mock
}

func (m *MockMacro) AnalyzeMacro(ctx context.Context, in analyst.MacroInput) (analyst.Result[analyst.MacroResult], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.MacroResult]), args.Error(1)
}

type MockSentiment struct {
	mock.Mock
}

func (m *MockSentiment) AnalyzeSentiment(ctx context.Context, in analyst.SentimentInput) (analyst.Result[analyst.SentimentResult], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.SentimentResult]), args.Error(1)
}

type MockTechnical struct {
	mock.Mock
}

func (m *MockTechnical) AnalyzeTechnical(ctx context.Context, in analyst.TechnicalInput) (analyst.Result[analyst.TechnicalReport], error) {
	args := m.Called(ctx, in)
	if fn, ok := args.Get(0).(func(context.Context, analyst.TechnicalInput) analyst.Result[analyst.TechnicalReport]); ok {
		return fn(ctx, in), args.Error(1)
	}
	return args.Get(0).(analyst.Result[analyst.TechnicalReport]), args.Error(1)
}

type MockRisk struct {
	mock.Mock
}

func (m *MockRisk) DecideBatch(ctx context.Context, in analyst.RiskInput) (analyst.Result[analyst.RiskReport], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.RiskReport]), args.Error(1)
}

type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, in analyst.AllocationInput) (analyst.Result[analyst.AllocationReport], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.AllocationReport]), args.Error(1)
}

type MockReviewer struct {
	mock.Mock
}

func (m *MockReviewer) ReviewPosition(ctx context.Context, in analyst.ReviewInput) (analyst.Result[analyst.PositionReview], error) {
	args := m.Called(ctx, in)
	return args.Get(0).(analyst.Result[analyst.PositionReview]), args.Error(1)
}

type MockConflictLedger struct {
	mock.Mock
}

func (m *MockConflictLedger) Record(ctx context.Context, n decision.ConflictNarrative) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockConflictLedger) Recent(ctx context.Context, limit int) ([]decision.ConflictNarrative, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]decision.ConflictNarrative)
	return out, args.Error(1)
}

// StaticFearGreed 总是返回同一读数。
type StaticFearGreed struct {
	Reading *market.FearGreedReading
}

func (s StaticFearGreed) Current(context.Context) (market.FearGreedReading, bool) {
	if s.Reading == nil {
		return market.FearGreedReading{}, false
	}
	return *s.Reading, true
}

// MemoryOpportunities 是内存版机会日志。
type MemoryOpportunities struct {
	mu      sync.Mutex
	Entries []decision.OpportunityLogEntry
}

func (m *MemoryOpportunities) Log(_ context.Context, e decision.OpportunityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MemoryOpportunities) Recent(_ context.Context, limit int) ([]decision.OpportunityLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]decision.OpportunityLogEntry(nil), m.Entries...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Symbols 返回已记录的 symbol。
func (m *MemoryOpportunities) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.Symbol)
	}
	return out
}

// MemoryCycles 是内存版周期记录。
type MemoryCycles struct {
	mu        sync.Mutex
	Summaries []interfaces.CycleSummary
}

func (m *MemoryCycles) RecordCycle(_ context.Context, s interfaces.CycleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summaries = append(m.Summaries, s)
	return nil
}

func (m *MemoryCycles) RecentCycles(_ context.Context, limit int) ([]interfaces.CycleSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]interfaces.CycleSummary(nil), m.Summaries...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryCycles) Last() (interfaces.CycleSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Summaries) == 0 {
		return interfaces.CycleSummary{}, false
	}
	return m.Summaries[len(m.Summaries)-1], true
}

// MemoryPortfolio 是只支持多空持仓的最小内存账户，不做精度处理。
type MemoryPortfolio struct {
	mu        sync.Mutex
	balance   float64
	positions map[string]decision.PositionSnapshot
	trades    []decision.Trade

	// FailBuy 中的 symbol 买入时返回错误。
	FailBuy map[string]error
	// MinBalance 记录执行过程中出现过的最低余额。
	MinBalance float64
	BuyCalls   int
}

func NewMemoryPortfolio(balance float64) *MemoryPortfolio {
	return &MemoryPortfolio{
		balance:    balance,
		positions:  make(map[string]decision.PositionSnapshot),
		MinBalance: balance,
	}
}

func key(sym string, side decision.PositionSide) string {
	return strings.ToUpper(sym) + "|" + string(side)
}

// Seed 直接放入一笔持仓。
func (p *MemoryPortfolio) Seed(pos decision.PositionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[key(pos.Symbol, pos.Side)] = pos
}

func (p *MemoryPortfolio) GetPortfolio(context.Context) (decision.PortfolioSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(), nil
}

func (p *MemoryPortfolio) snapshotLocked() decision.PortfolioSnapshot {
	snap := decision.PortfolioSnapshot{Currency: "USD", Balance: p.balance, Equity: p.balance, UpdatedAt: time.Now()}
	for _, pos := range p.positions {
		snap.Positions = append(snap.Positions, pos)
		if pos.Side == decision.SideLong {
			snap.Equity += pos.Quantity * pos.EntryPrice
		}
	}
	return snap
}

func (p *MemoryPortfolio) Buy(_ context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BuyCalls++
	if err := p.FailBuy[req.Symbol]; err != nil {
		return decision.Trade{}, err
	}
	cost := req.Quantity * req.Price
	if cost > p.balance+1e-9 {
		return decision.Trade{}, interfaces.ErrInsufficientBalance
	}
	p.balance -= cost
	if p.balance < p.MinBalance {
		p.MinBalance = p.balance
	}
	pos := p.positions[key(req.Symbol, decision.SideLong)]
	pos.Symbol = req.Symbol
	pos.Side = decision.SideLong
	pos.Quantity += req.Quantity
	pos.EntryPrice = req.Price
	p.positions[key(req.Symbol, decision.SideLong)] = pos
	return p.record(req, decision.TradeBuy, 0), nil
}

func (p *MemoryPortfolio) Sell(_ context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(req.Symbol, decision.SideLong)
	pos, ok := p.positions[k]
	if !ok || pos.Quantity < req.Quantity {
		return decision.Trade{}, interfaces.ErrPositionNotFound
	}
	pnl := (req.Price - pos.EntryPrice) * req.Quantity
	p.balance += req.Quantity * req.Price
	pos.Quantity -= req.Quantity
	if pos.Quantity <= 0 {
		delete(p.positions, k)
	} else {
		p.positions[k] = pos
	}
	return p.record(req, decision.TradeSell, pnl), nil
}

func (p *MemoryPortfolio) OpenShort(_ context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(req.Symbol, decision.SideShort)
	pos := p.positions[k]
	pos.Symbol = req.Symbol
	pos.Side = decision.SideShort
	pos.Quantity += req.Quantity
	pos.EntryPrice = req.Price
	p.positions[k] = pos
	return p.record(req, decision.TradeOpenShort, 0), nil
}

func (p *MemoryPortfolio) CloseShort(_ context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(req.Symbol, decision.SideShort)
	pos, ok := p.positions[k]
	if !ok || pos.Quantity < req.Quantity {
		return decision.Trade{}, interfaces.ErrPositionNotFound
	}
	pnl := (pos.EntryPrice - req.Price) * req.Quantity
	p.balance += pnl
	pos.Quantity -= req.Quantity
	if pos.Quantity <= 0 {
		delete(p.positions, k)
	} else {
		p.positions[k] = pos
	}
	return p.record(req, decision.TradeCloseShort, pnl), nil
}

func (p *MemoryPortfolio) Trades(_ context.Context, limit int) ([]decision.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]decision.Trade(nil), p.trades...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *MemoryPortfolio) record(req interfaces.TradeRequest, action decision.TradeAction, pnl float64) decision.Trade {
	t := decision.Trade{
		ID:           uint(len(p.trades) + 1),
		Symbol:       req.Symbol,
		Action:       action,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Notional:     req.Quantity * req.Price,
		RealizedPnL:  pnl,
		BalanceAfter: p.balance,
		ExecutedAt:   time.Now(),
	}
	p.trades = append(p.trades, t)
	return t
}

// Candles 生成 n 根单调上涨的 K 线。
func Candles(n int, start float64) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := range out {
		price := start + float64(i)
		out[i] = market.Candle{
			OpenTime:  base + int64(i)*3_600_000,
			CloseTime: base + int64(i+1)*3_600_000 - 1,
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price + 0.5,
			Volume:    1000,
		}
	}
	return out
}
