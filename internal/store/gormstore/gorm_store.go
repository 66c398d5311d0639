package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quorum/internal/agent/interfaces"
	"quorum/internal/decision"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNarrativeExists 表示同 ID 的叙事已写入；叙事只写一次。
var ErrNarrativeExists = errors.New("conflict narrative already recorded")

const defaultListLimit = 50

// LedgerStore 用 Gorm + SQLite 保存机会日志与分歧叙事，两者都只追加。
type LedgerStore struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ interfaces.OpportunityLedger = (*LedgerStore)(nil)
	_ interfaces.ConflictLedger    = conflictLedger{}
)

// NewLedgerStore 打开（必要时创建）账本库。
func NewLedgerStore(path string) (*LedgerStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: ledger path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
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
	if err := db.AutoMigrate(&opportunityModel{}, &conflictModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the HTTP listing endpoints.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &LedgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *LedgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- OpportunityLedger -------------------------

func (s *LedgerStore) Log(ctx context.Context, entry decision.OpportunityLogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(entry.Symbol) == "" {
		return fmt.Errorf("opportunity entry requires symbol")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	model := newOpportunityModel(entry)
	return s.db.WithContext(ctx).Create(&model).Error
}

// Recent 返回最近的机会日志，新的在前。
func (s *LedgerStore) Recent(ctx context.Context, limit int) ([]decision.OpportunityLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var rows []opportunityModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]decision.OpportunityLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}

// OpportunitiesBySymbol 返回某个交易对的放弃记录。
func (s *LedgerStore) OpportunitiesBySymbol(ctx context.Context, symbol string, limit int) ([]decision.OpportunityLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var rows []opportunityModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("created_at DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]decision.OpportunityLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}

// --------------------- ConflictLedger -------------------------

func (s *LedgerStore) Record(ctx context.Context, n decision.ConflictNarrative) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("conflict narrative requires id")
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now()
	}
	model, err := newConflictModel(n)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", n.ID, ErrNarrativeExists)
	}
	return nil
}

// RecentConflicts 返回最近的分歧叙事，新的在前。
func (s *LedgerStore) RecentConflicts(ctx context.Context, limit int) ([]decision.ConflictNarrative, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var rows []conflictModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]decision.ConflictNarrative, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNarrative()
		if err != nil {
			return nil, fmt.Errorf("decode narrative %s: %w", row.ID, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Conflicts 把 LedgerStore 暴露为 interfaces.ConflictLedger（两个接口的 Recent 签名不同）。
func (s *LedgerStore) Conflicts() interfaces.ConflictLedger {
	return conflictLedger{s}
}

type conflictLedger struct{ s *LedgerStore }

func (c conflictLedger) Record(ctx context.Context, n decision.ConflictNarrative) error {
	return c.s.Record(ctx, n)
}

func (c conflictLedger) Recent(ctx context.Context, limit int) ([]decision.ConflictNarrative, error) {
	return c.s.RecentConflicts(ctx, limit)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func marshalJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
