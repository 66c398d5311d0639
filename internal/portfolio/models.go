package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// accountID 模拟盘只有一个账户。
const accountID = 1

type accountModel struct {
	ID        uint            `gorm:"column:id;primaryKey"`
	Currency  string          `gorm:"column:currency"`
	Balance   decimal.Decimal `gorm:"column:balance;type:text"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "paper_accounts" }

type positionModel struct {
	ID         uint            `gorm:"column:id;primaryKey"`
	Symbol     string          `gorm:"column:symbol;uniqueIndex:idx_paper_position"`
	Side       string          `gorm:"column:side;uniqueIndex:idx_paper_position"`
	Quantity   decimal.Decimal `gorm:"column:quantity;type:text"`
	EntryPrice decimal.Decimal `gorm:"column:entry_price;type:text"`
	CostBasis  decimal.Decimal `gorm:"column:cost_basis;type:text"`
	OpenedAt   time.Time       `gorm:"column:opened_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "paper_positions" }

type tradeModel struct {
	ID           uint            `gorm:"column:id;primaryKey"`
	Symbol       string          `gorm:"column:symbol;index"`
	Action       string          `gorm:"column:action"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:text"`
	Price        decimal.Decimal `gorm:"column:price;type:text"`
	Notional     decimal.Decimal `gorm:"column:notional;type:text"`
	RealizedPnL  decimal.Decimal `gorm:"column:realized_pnl;type:text"`
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:text"`
	ExecutedAt   time.Time       `gorm:"column:executed_at;index"`
}

func (tradeModel) TableName() string { return "paper_trades" }
