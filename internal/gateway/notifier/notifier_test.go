package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/reconcile"
	"quorum/internal/analyst"
	"quorum/internal/decision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingText struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingText) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recordingText) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestTelegram_SendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegram_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	err := tg.SendText(context.Background(), "hello")
	assert.ErrorContains(t, err, "status=400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelegram_RequiresCredentials(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText(context.Background(), "x"))
}

func TestCycleNotifier_SkipsQuietCycles(t *testing.T) {
	rec := &recordingText{}
	n := NewCycleNotifier(rec)

	n.NotifyCycle(context.Background(), engine.Report{ID: "quiet", State: engine.StateCompleted})
	assert.Empty(t, rec.sent())

	trade := &decision.Trade{Symbol: "BTC/USDT", Quantity: 0.01, Price: 60000, Notional: 600}
	n.NotifyCycle(context.Background(), engine.Report{
		ID:         "0123456789abcdef",
		Trigger:    "schedule",
		State:      engine.StateCompleted,
		Macro:      analyst.MacroResult{Regime: "risk_on", RegimeScore: 66},
		Executions: []engine.Execution{{Symbol: "BTC/USDT", Trade: trade}, {Symbol: "ETH/USDT", Err: errors.New("exchange down")}},
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	n.NotifyCycle(context.Background(), engine.Report{ID: "boom", State: engine.StateFailed, Message: "load portfolio: boom"})

	sent := rec.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Cycle 01234567")
	assert.Contains(t, sent[0], "BTC/USDT 0.01")
	assert.Contains(t, sent[0], "ETH/USDT failed: exchange down")
	assert.Contains(t, sent[1], "load portfolio: boom")
}

func TestConflictSink(t *testing.T) {
	rec := &recordingText{}
	sink := ConflictSink(rec)

	sink(reconcile.Outcome{Ignored: errors.New("no reason given")})
	assert.Empty(t, rec.sent())

	n := &decision.ConflictNarrative{
		ID:            "n-1",
		Symbol:        "BTC/USDT",
		HumanDecision: decision.HumanDecision{Action: decision.TradeCloseShort, Quantity: 1, Price: 100, Reason: "squeeze risk"},
		AgentDecision: decision.AgentOpinion{Action: analyst.PositionHold, Confidence: 70, Summary: "still bearish"},
		NarrativeText: "human covered, agents would hold",
		PnLUSD:        12.5,
	}
	sink(reconcile.Outcome{Narrative: n, Ignored: errors.New("record narrative: locked")})
	assert.Empty(t, rec.sent())

	sink(reconcile.Outcome{Narrative: n})
	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Manual CLOSE_SHORT BTC/USDT")
	assert.Contains(t, sent[0], "squeeze risk")
	assert.Contains(t, sent[0], "HOLD (confidence 70)")

	assert.NotPanics(t, func() { ConflictSink(nil)(reconcile.Outcome{Narrative: n}) })
}
