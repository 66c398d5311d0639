package engine

import (
	"context"
	"fmt"

	"quorum/internal/agent/interfaces"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/pkg/format"
)

// Execution 记录一条 EXECUTE_BUY 的执行结果。
type Execution struct {
	Symbol    string
	AmountUSD float64
	Price     float64
	Quantity  float64
	Trade     *decision.Trade
	Skipped   string
	Err       error
}

func (e Execution) Filled() bool { return e.Trade != nil }

// ExecutionStage 逐条顺序执行买入，每笔之后刷新账户，余额不会被扣成负数。
type ExecutionStage struct {
	Market    interfaces.MarketDataProvider
	Portfolio interfaces.PortfolioStore
}

func NewExecutionStage(mkt interfaces.MarketDataProvider, store interfaces.PortfolioStore) *ExecutionStage {
	return &ExecutionStage{Market: mkt, Portfolio: store}
}

// Execute 返回每条买入的结果以及最后一次刷新的账户。
func (s *ExecutionStage) Execute(ctx context.Context, buys []decision.AllocationDecision, portfolio decision.PortfolioSnapshot, emit EmitFunc) ([]Execution, decision.PortfolioSnapshot) {
	out := make([]Execution, 0, len(buys))
	for _, d := range buys {
		if !d.IsBuy() {
			continue
		}
		if err := ctx.Err(); err != nil {
			out = append(out, Execution{Symbol: d.Symbol, AmountUSD: d.AmountUSD, Err: err})
			break
		}
		exec := s.executeOne(ctx, d, portfolio)
		out = append(out, exec)
		switch {
		case exec.Err != nil:
			logger.Warnf("execution failed symbol=%s: %v", d.Symbol, exec.Err)
			emit(LogEvent{Message: fmt.Sprintf("Buy %s failed: %v", d.Symbol, exec.Err)})
			continue
		case exec.Skipped != "":
			emit(LogEvent{Message: fmt.Sprintf("Buy %s skipped: %s", d.Symbol, exec.Skipped)})
			continue
		}
		emit(LogEvent{Message: fmt.Sprintf("Bought %s %s @ %s (%s USD)",
			format.Float(exec.Quantity, 8), d.Symbol, format.Float(exec.Price, 6), format.USD(exec.Trade.Notional))})

		refreshed, err := s.Portfolio.GetPortfolio(ctx)
		if err != nil {
			logger.Warnf("portfolio refresh failed after %s: %v", d.Symbol, err)
			portfolio.Balance = exec.Trade.BalanceAfter
			continue
		}
		portfolio = refreshed
	}
	return out, portfolio
}

func (s *ExecutionStage) executeOne(ctx context.Context, d decision.AllocationDecision, portfolio decision.PortfolioSnapshot) Execution {
	exec := Execution{Symbol: d.Symbol, AmountUSD: d.AmountUSD}
	price, err := s.Market.CurrentPrice(ctx, d.Symbol)
	if err != nil {
		exec.Err = fmt.Errorf("price: %w", err)
		return exec
	}
	if price <= 0 {
		exec.Err = fmt.Errorf("invalid price %v", price)
		return exec
	}
	exec.Price = price
	amount := decision.MinFloat(d.AmountUSD, decision.Cents(portfolio.Balance))
	if amount <= 0 {
		exec.Skipped = "no balance left"
		return exec
	}
	exec.AmountUSD = amount
	exec.Quantity = decision.Quantity(amount, price)
	if exec.Quantity <= 0 {
		exec.Skipped = "quantity rounds to zero"
		return exec
	}
	trade, err := s.Portfolio.Buy(ctx, interfaces.TradeRequest{Symbol: d.Symbol, Quantity: exec.Quantity, Price: price})
	if err != nil {
		exec.Err = err
		return exec
	}
	exec.Trade = &trade
	return exec
}
