// Package override 处理人工覆盖操作（平空、卖出、开空），
// 带理由的平仓/卖出会派发冲突复盘。
package override

import (
	"context"
	"fmt"
	"strings"

	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/reconcile"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
)

// Request 是人工操作请求，Amount 为基础币数量。
type Request struct {
	Symbol string  `json:"symbol" validate:"required,pair"`
	Amount float64 `json:"amount" validate:"gt=0"`
	Reason string  `json:"reason" validate:"max=2000"`
}

// ConflictDispatcher 接收需要复盘的人工操作，不得阻塞。
type ConflictDispatcher interface {
	Dispatch(ctx context.Context, action reconcile.HumanAction)
}

type Service struct {
	Portfolio  interfaces.PortfolioStore
	Market     interfaces.MarketDataProvider
	Reconciler ConflictDispatcher
}

func NewService(store interfaces.PortfolioStore, mkt interfaces.MarketDataProvider, dispatcher ConflictDispatcher) *Service {
	return &Service{Portfolio: store, Market: mkt, Reconciler: dispatcher}
}

// CloseShort 平掉空头（数量超过持仓时按持仓平）。
func (s *Service) CloseShort(ctx context.Context, req Request) (decision.PortfolioSnapshot, decision.Trade, error) {
	return s.closePosition(ctx, req, decision.SideShort, s.Portfolio.CloseShort)
}

// Sell 卖出多头（数量超过持仓时全部卖出）。
func (s *Service) Sell(ctx context.Context, req Request) (decision.PortfolioSnapshot, decision.Trade, error) {
	return s.closePosition(ctx, req, decision.SideLong, s.Portfolio.Sell)
}

// OpenShort 按当前价格开空，不触发复盘。
func (s *Service) OpenShort(ctx context.Context, req Request) (decision.PortfolioSnapshot, decision.Trade, error) {
	if err := req.Validate(); err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, err
	}
	sym := symbol.Normalize(req.Symbol)
	price, err := s.Market.CurrentPrice(ctx, sym)
	if err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, fmt.Errorf("price %s: %w", sym, err)
	}
	trade, err := s.Portfolio.OpenShort(ctx, interfaces.TradeRequest{Symbol: sym, Quantity: req.Amount, Price: price})
	if err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, err
	}
	logger.Infof("manual open short %s qty=%v price=%v", sym, trade.Quantity, trade.Price)
	snap, err := s.Portfolio.GetPortfolio(ctx)
	return snap, trade, err
}

type closeFunc func(context.Context, interfaces.TradeRequest) (decision.Trade, error)

func (s *Service) closePosition(ctx context.Context, req Request, side decision.PositionSide, exec closeFunc) (decision.PortfolioSnapshot, decision.Trade, error) {
	if err := req.Validate(); err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, err
	}
	sym := symbol.Normalize(req.Symbol)
	before, err := s.Portfolio.GetPortfolio(ctx)
	if err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, fmt.Errorf("load portfolio: %w", err)
	}
	pos, ok := before.Position(sym, side)
	if !ok || pos.Quantity <= 0 {
		return decision.PortfolioSnapshot{}, decision.Trade{}, fmt.Errorf("%s %s: %w", side, sym, interfaces.ErrPositionNotFound)
	}
	qty := decision.MinFloat(req.Amount, pos.Quantity)
	price, err := s.Market.CurrentPrice(ctx, sym)
	if err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, fmt.Errorf("price %s: %w", sym, err)
	}
	trade, err := exec(ctx, interfaces.TradeRequest{Symbol: sym, Quantity: qty, Price: price})
	if err != nil {
		return decision.PortfolioSnapshot{}, decision.Trade{}, err
	}
	logger.Infof("manual %s %s qty=%v price=%v pnl=%.2f", trade.Action, sym, trade.Quantity, trade.Price, trade.RealizedPnL)

	if reason := strings.TrimSpace(req.Reason); reason != "" && s.Reconciler != nil {
		s.Reconciler.Dispatch(ctx, reconcile.HumanAction{Trade: trade, Position: pos, Reason: reason})
	}
	snap, err := s.Portfolio.GetPortfolio(ctx)
	if err != nil {
		return decision.PortfolioSnapshot{}, trade, fmt.Errorf("refresh portfolio: %w", err)
	}
	return snap, trade, nil
}
