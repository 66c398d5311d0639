package cyclelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/agent/interfaces"

	_ "modernc.org/sqlite"
)

// Store 保存每轮决策的审计摘要，便于排查与前端展示。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ interfaces.CycleRecorder = (*Store)(nil)

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cycle log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycle_runs (
			id TEXT PRIMARY KEY,
			trigger_source TEXT,
			state TEXT NOT NULL,
			symbols INTEGER NOT NULL DEFAULT 0,
			signals INTEGER NOT NULL DEFAULT 0,
			avoided INTEGER NOT NULL DEFAULT 0,
			executed INTEGER NOT NULL DEFAULT 0,
			regime_score REAL NOT NULL DEFAULT 0,
			sentiment REAL NOT NULL DEFAULT 0,
			message TEXT,
			context_json TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_runs_started ON cycle_runs(started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("cycle log store not initialized")
	}
	return db, nil
}

// RecordCycle 写入一轮摘要；同一 id 重复写入会覆盖旧记录。
func (s *Store) RecordCycle(ctx context.Context, c interfaces.CycleSummary) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("cycle summary requires id")
	}
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = c.FinishedAt
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycle_runs
			(id, trigger_source, state, symbols, signals, avoided, executed, regime_score, sentiment,
			 message, context_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Trigger,
		c.State,
		c.Symbols,
		c.Signals,
		c.Avoided,
		c.Executed,
		c.RegimeScore,
		c.Sentiment,
		c.Message,
		string(c.Context),
		c.StartedAt.UnixMilli(),
		c.FinishedAt.UnixMilli(),
	)
	return err
}

// RecentCycles 返回最近的轮次，新的在前。
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]interfaces.CycleSummary, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, selectCycle+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []interfaces.CycleSummary
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCycle 按 id 返回一轮摘要，不存在时 ok=false。
func (s *Store) GetCycle(ctx context.Context, id string) (interfaces.CycleSummary, bool, error) {
	db, err := s.conn()
	if err != nil {
		return interfaces.CycleSummary{}, false, err
	}
	c, err := scanCycle(db.QueryRowContext(ctx, selectCycle+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.CycleSummary{}, false, nil
	}
	if err != nil {
		return interfaces.CycleSummary{}, false, err
	}
	return c, true, nil
}

const selectCycle = `SELECT id, trigger_source, state, symbols, signals, avoided, executed, regime_score, sentiment,
		message, context_json, started_at, finished_at FROM cycle_runs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(scanner rowScanner) (interfaces.CycleSummary, error) {
	var (
		c        interfaces.CycleSummary
		trigger  sql.NullString
		message  sql.NullString
		ctxJSON  sql.NullString
		started  int64
		finished int64
	)
	if err := scanner.Scan(&c.ID, &trigger, &c.State, &c.Symbols, &c.Signals, &c.Avoided, &c.Executed,
		&c.RegimeScore, &c.Sentiment, &message, &ctxJSON, &started, &finished); err != nil {
		return c, err
	}
	c.Trigger = trigger.String
	c.Message = message.String
	if ctxJSON.String != "" {
		c.Context = []byte(ctxJSON.String)
	}
	c.StartedAt = time.UnixMilli(started)
	c.FinishedAt = time.UnixMilli(finished)
	return c, nil
}
