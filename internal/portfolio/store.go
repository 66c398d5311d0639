package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/agent/interfaces"
	"quorum/internal/decision"
	"quorum/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// moneyPlaces 金额与价格落库时保留的小数位。
const moneyPlaces = 8

var (
	ErrInvalidTrade       = errors.New("invalid trade request")
	ErrQuantityExceeded   = errors.New("quantity exceeds position")
	errStoreUninitialized = errors.New("portfolio store not initialized")
)

// Store 是基于 gorm + sqlite 的模拟盘账户，实现 interfaces.PortfolioStore。
// 多空持仓都按成本计入权益；开空会冻结等额现金作为保证金。
type Store struct {
	mu       sync.Mutex
	db       *gorm.DB
	currency string
}

var _ interfaces.PortfolioStore = (*Store)(nil)

// NewStore 打开（必要时创建）账户库；首次创建时以 initialBalance 入金。
func NewStore(path string, initialBalance float64, currency string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("portfolio: db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&accountModel{}, &positionModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	s := &Store{db: db, currency: currency}
	if err := s.ensureAccount(initialBalance); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureAccount(initialBalance float64) error {
	if initialBalance < 0 || math.IsNaN(initialBalance) || math.IsInf(initialBalance, 0) {
		return fmt.Errorf("portfolio: invalid initial balance %v", initialBalance)
	}
	acct := accountModel{
		ID:       accountID,
		Currency: s.currency,
		Balance:  decimal.NewFromFloat(initialBalance).Round(moneyPlaces),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetPortfolio(ctx context.Context) (decision.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return decision.PortfolioSnapshot{}, errStoreUninitialized
	}
	var acct accountModel
	if err := s.db.WithContext(ctx).First(&acct, accountID).Error; err != nil {
		return decision.PortfolioSnapshot{}, fmt.Errorf("load account: %w", err)
	}
	var rows []positionModel
	if err := s.db.WithContext(ctx).Order("opened_at ASC, id ASC").Find(&rows).Error; err != nil {
		return decision.PortfolioSnapshot{}, fmt.Errorf("load positions: %w", err)
	}
	equity := acct.Balance
	positions := make([]decision.PositionSnapshot, 0, len(rows))
	for _, row := range rows {
		equity = equity.Add(row.CostBasis)
		positions = append(positions, decision.PositionSnapshot{
			Symbol:     row.Symbol,
			Side:       decision.PositionSide(row.Side),
			Quantity:   toFloat(row.Quantity),
			EntryPrice: toFloat(row.EntryPrice),
			CostBasis:  toFloat(row.CostBasis),
			OpenedAt:   row.OpenedAt,
		})
	}
	return decision.PortfolioSnapshot{
		Currency:  acct.Currency,
		Balance:   toFloat(acct.Balance),
		Equity:    toFloat(equity),
		Positions: positions,
		UpdatedAt: acct.UpdatedAt,
	}, nil
}

// Buy 用现金买入多头；现金不足时返回 ErrInsufficientBalance。
func (s *Store) Buy(ctx context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	return s.trade(ctx, req, decision.TradeBuy, decision.SideLong, func(l *leg) error {
		if l.notional.GreaterThan(l.acct.Balance) {
			return fmt.Errorf("buy %s needs %s, balance %s: %w", l.pos.Symbol, l.notional, l.acct.Balance, interfaces.ErrInsufficientBalance)
		}
		l.acct.Balance = l.acct.Balance.Sub(l.notional)
		l.open()
		return nil
	})
}

// Sell 平掉（部分）多头，按持仓均价结算盈亏。
func (s *Store) Sell(ctx context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	return s.trade(ctx, req, decision.TradeSell, decision.SideLong, func(l *leg) error {
		released, err := l.reduce()
		if err != nil {
			return err
		}
		l.pnl = l.notional.Sub(released)
		l.acct.Balance = l.acct.Balance.Add(l.notional)
		return nil
	})
}

// OpenShort 开空并冻结与名义价值等额的保证金。
func (s *Store) OpenShort(ctx context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	return s.trade(ctx, req, decision.TradeOpenShort, decision.SideShort, func(l *leg) error {
		if l.notional.GreaterThan(l.acct.Balance) {
			return fmt.Errorf("short %s needs margin %s, balance %s: %w", l.pos.Symbol, l.notional, l.acct.Balance, interfaces.ErrInsufficientBalance)
		}
		l.acct.Balance = l.acct.Balance.Sub(l.notional)
		l.open()
		return nil
	})
}

// CloseShort 平掉（部分）空头，释放保证金并结算 (entry - price) * qty。
func (s *Store) CloseShort(ctx context.Context, req interfaces.TradeRequest) (decision.Trade, error) {
	return s.trade(ctx, req, decision.TradeCloseShort, decision.SideShort, func(l *leg) error {
		released, err := l.reduce()
		if err != nil {
			return err
		}
		l.pnl = released.Sub(l.notional)
		l.acct.Balance = l.acct.Balance.Add(released).Add(l.pnl)
		return nil
	})
}

// Trades 返回最近的成交，新的在前。
func (s *Store) Trades(ctx context.Context, limit int) ([]decision.Trade, error) {
	if s == nil || s.db == nil {
		return nil, errStoreUninitialized
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]decision.Trade, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTrade())
	}
	return out, nil
}

// leg 是一次成交在事务内看到的账户与持仓。
type leg struct {
	acct     *accountModel
	pos      *positionModel
	found    bool
	qty      decimal.Decimal
	price    decimal.Decimal
	notional decimal.Decimal
	pnl      decimal.Decimal
}

func (l *leg) open() {
	l.pos.Quantity = l.pos.Quantity.Add(l.qty)
	l.pos.CostBasis = l.pos.CostBasis.Add(l.notional)
	l.pos.EntryPrice = l.pos.CostBasis.Div(l.pos.Quantity).Round(moneyPlaces)
}

// reduce 按数量比例释放成本，返回被释放的成本。
func (l *leg) reduce() (decimal.Decimal, error) {
	if !l.found || !l.pos.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s: %w", l.pos.Symbol, l.pos.Side, interfaces.ErrPositionNotFound)
	}
	if l.qty.GreaterThan(l.pos.Quantity) {
		return decimal.Zero, fmt.Errorf("%s %s: %s > %s: %w", l.pos.Symbol, l.pos.Side, l.qty, l.pos.Quantity, ErrQuantityExceeded)
	}
	released := l.pos.CostBasis
	if l.qty.LessThan(l.pos.Quantity) {
		released = l.pos.CostBasis.Mul(l.qty).Div(l.pos.Quantity).Round(moneyPlaces)
	}
	l.pos.Quantity = l.pos.Quantity.Sub(l.qty)
	l.pos.CostBasis = l.pos.CostBasis.Sub(released)
	return released, nil
}

func (s *Store) trade(ctx context.Context, req interfaces.TradeRequest, action decision.TradeAction, side decision.PositionSide, apply func(*leg) error) (decision.Trade, error) {
	if s == nil || s.db == nil {
		return decision.Trade{}, errStoreUninitialized
	}
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return decision.Trade{}, fmt.Errorf("%s: symbol %q: %w", action, req.Symbol, ErrInvalidTrade)
	}
	qty := toDecimal(req.Quantity).Truncate(decision.QuantityPlaces)
	price := toDecimal(req.Price)
	if !qty.IsPositive() || !price.IsPositive() {
		return decision.Trade{}, fmt.Errorf("%s %s: quantity and price must be > 0: %w", action, sym, ErrInvalidTrade)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var record tradeModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct accountModel
		if err := tx.First(&acct, accountID).Error; err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		var pos positionModel
		err := tx.Where("symbol = ? AND side = ?", sym, string(side)).First(&pos).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load position: %w", err)
		}
		if !found {
			pos = positionModel{Symbol: sym, Side: string(side)}
		}
		l := &leg{
			acct:     &acct,
			pos:      &pos,
			found:    found,
			qty:      qty,
			price:    price,
			notional: qty.Mul(price).Round(moneyPlaces),
		}
		if err := apply(l); err != nil {
			return err
		}

		now := time.Now().UTC()
		acct.UpdatedAt = now
		if err := tx.Save(&acct).Error; err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		pos.UpdatedAt = now
		switch {
		case !pos.Quantity.IsPositive():
			if found {
				if err := tx.Delete(&pos).Error; err != nil {
					return fmt.Errorf("delete position: %w", err)
				}
			}
		default:
			if !found {
				pos.OpenedAt = now
			}
			if err := tx.Save(&pos).Error; err != nil {
				return fmt.Errorf("save position: %w", err)
			}
		}

		record = tradeModel{
			Symbol:       sym,
			Action:       string(action),
			Quantity:     qty,
			Price:        price,
			Notional:     l.notional,
			RealizedPnL:  l.pnl.Round(moneyPlaces),
			BalanceAfter: acct.Balance,
			ExecutedAt:   now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return decision.Trade{}, err
	}
	return record.toTrade(), nil
}

func (m tradeModel) toTrade() decision.Trade {
	return decision.Trade{
		ID:           m.ID,
		Symbol:       m.Symbol,
		Action:       decision.TradeAction(m.Action),
		Quantity:     toFloat(m.Quantity),
		Price:        toFloat(m.Price),
		Notional:     toFloat(m.Notional),
		RealizedPnL:  toFloat(m.RealizedPnL),
		BalanceAfter: toFloat(m.BalanceAfter),
		ExecutedAt:   m.ExecutedAt,
	}
}

func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func toFloat(v decimal.Decimal) float64 {
	f, _ := v.Float64()
	return f
}
