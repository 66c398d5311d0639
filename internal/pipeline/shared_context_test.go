package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notePayload struct {
	Text  string   `json:"text"`
	Items []string `json:"items,omitempty"`
}

func (p notePayload) ClonePayload() Payload {
	p.Items = append([]string(nil), p.Items...)
	return p
}

func TestSharedContext_DuplicateKeyFromOtherStage(t *testing.T) {
	sc := NewSharedContext()
	require.NoError(t, sc.Set(StageMacro, CycleKey(StageMacro), notePayload{Text: "risk-on"}))

	err := sc.Set(StageSentiment, CycleKey(StageMacro), notePayload{Text: "overwrite"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateStageKey)

	got, ok := Lookup[notePayload](sc, CycleKey(StageMacro))
	require.True(t, ok)
	assert.Equal(t, "risk-on", got.Text)
}

func TestSharedContext_RejectsForeignKeyBeforeOwnerWrites(t *testing.T) {
	sc := NewSharedContext()
	err := sc.Set(StageSentiment, CycleKey(StageMacro), notePayload{Text: "squatter"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateStageKey)
	assert.Equal(t, 0, sc.Len())

	err = sc.Set(StageRisk, BatchKey(1, StageTechnical), notePayload{Text: "squatter"})
	assert.ErrorIs(t, err, ErrDuplicateStageKey)

	require.NoError(t, sc.Set(StageMacro, CycleKey(StageMacro), notePayload{Text: "risk-on"}))
	owner, ok := sc.Owner(CycleKey(StageMacro))
	require.True(t, ok)
	assert.Equal(t, StageMacro, owner)
}

func TestSharedContext_OwnerMayRefineOwnKey(t *testing.T) {
	sc := NewSharedContext()
	key := BatchKey(2, StageRisk)
	require.NoError(t, sc.Set(StageRisk, key, notePayload{Text: "draft"}))
	require.NoError(t, sc.Set(StageRisk, key, notePayload{Text: "final"}))

	got, ok := Lookup[notePayload](sc, key)
	require.True(t, ok)
	assert.Equal(t, "final", got.Text)
	assert.Equal(t, 1, sc.Len())
}

func TestSharedContext_SnapshotIsIsolated(t *testing.T) {
	sc := NewSharedContext()
	require.NoError(t, sc.Set(StageTechnical, BatchKey(1, StageTechnical), notePayload{Items: []string{"BTC/USDT"}}))

	snap := sc.Snapshot()
	require.NoError(t, sc.Set(StageRisk, BatchKey(1, StageRisk), notePayload{Text: "later"}))

	assert.Equal(t, 1, snap.Len())
	v, ok := snap.Get(BatchKey(1, StageTechnical))
	require.True(t, ok)
	v.(notePayload).Items[0] = "mutated"

	again, _ := Lookup[notePayload](sc, BatchKey(1, StageTechnical))
	assert.Equal(t, "BTC/USDT", again.Items[0])
}

func TestSharedContext_RejectsInvalidInput(t *testing.T) {
	sc := NewSharedContext()
	assert.Error(t, sc.Set(Stage(99), CycleKey(StageMacro), notePayload{}))
	assert.Error(t, sc.Set(StageMacro, CycleKey(StageMacro), nil))
	assert.Equal(t, 0, sc.Len())
}

func TestSharedContext_ConcurrentBatchWrites(t *testing.T) {
	sc := NewSharedContext()
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			assert.NoError(t, sc.Set(StageTechnical, BatchKey(batch, StageTechnical), notePayload{Text: fmt.Sprint(batch)}))
			assert.NoError(t, sc.Set(StageRisk, BatchKey(batch, StageRisk), notePayload{Text: fmt.Sprint(batch)}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, sc.Len())
}

func TestSnapshot_MarshalPreservesInsertionOrder(t *testing.T) {
	sc := NewSharedContext()
	require.NoError(t, sc.Set(StageSentiment, CycleKey(StageSentiment), notePayload{Text: "fear"}))
	require.NoError(t, sc.Set(StageMacro, CycleKey(StageMacro), notePayload{Text: "neutral"}))
	require.NoError(t, sc.Set(StageRisk, BatchKey(3, StageRisk), notePayload{Text: "avoid"}))

	raw, err := json.Marshal(sc.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, `{"sentiment":{"text":"fear"},"macro":{"text":"neutral"},"batch-3:risk":{"text":"avoid"}}`, string(raw))
	assert.Equal(t, []string{"sentiment", "macro", "batch-3:risk"}, sc.Snapshot().Keys())
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("batch-3:risk")
	require.NoError(t, err)
	assert.Equal(t, BatchKey(3, StageRisk), k)

	k, err = ParseKey("risk_config")
	require.NoError(t, err)
	assert.Equal(t, CycleKey(StageRiskConfig), k)

	_, err = ParseKey("batch-x:risk")
	assert.Error(t, err)
	_, err = ParseKey("bogus")
	assert.Error(t, err)
}
