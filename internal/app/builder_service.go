package app

import (
	"fmt"

	"quorum/internal/agent/interfaces"
	"quorum/internal/config"
	"quorum/internal/gateway/notifier"
	"quorum/internal/logger"
	"quorum/internal/portfolio"
	"quorum/internal/store/cyclelog"
	"quorum/internal/store/gormstore"
	livehttp "quorum/internal/transport/http/live"
)

// Stores 汇总持久化依赖；Closers 按打开顺序排列。
type Stores struct {
	Portfolio         interfaces.PortfolioStore
	Opportunities     interfaces.OpportunityLedger
	OpportunityReader livehttp.OpportunityReader
	Conflicts         interfaces.ConflictLedger
	Cycles            interfaces.CycleRecorder
	CycleLog          livehttp.CycleLogReader
	Closers           []closer
}

func buildStores(cfg *config.Config) (*Stores, error) {
	out := &Stores{}
	cleanup := func() {
		for i := len(out.Closers) - 1; i >= 0; i-- {
			_ = out.Closers[i].fn()
		}
	}

	book, err := portfolio.NewStore(cfg.Portfolio.DBPath, cfg.Portfolio.InitialBalance, cfg.Portfolio.Currency)
	if err != nil {
		return nil, fmt.Errorf("open portfolio store: %w", err)
	}
	out.Portfolio = book
	out.Closers = append(out.Closers, closer{name: "portfolio", fn: book.Close})

	ledger, err := gormstore.NewLedgerStore(cfg.Store.LedgerPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	out.Opportunities = ledger
	out.OpportunityReader = ledger
	out.Conflicts = ledger.Conflicts()
	out.Closers = append(out.Closers, closer{name: "ledger", fn: ledger.Close})

	cycles, err := cyclelog.New(cfg.Store.CycleLogPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open cycle log: %w", err)
	}
	out.Cycles = cycles
	out.CycleLog = cycles
	out.Closers = append(out.Closers, closer{name: "cycle log", fn: cycles.Close})

	logger.Infof("✓ 存储就绪 portfolio=%s ledger=%s cycles=%s", cfg.Portfolio.DBPath, cfg.Store.LedgerPath, cfg.Store.CycleLogPath)
	return out, nil
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return nil
	}
	if tg.BotToken == "" || tg.ChatID == "" {
		logger.Warnf("telegram enabled but bot_token/chat_id missing, notifications disabled")
		return nil
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}
