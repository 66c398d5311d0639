package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/analyst"
	"quorum/internal/decision"
	"quorum/internal/pipeline"
)

func TestMarshalEvent_WireShapes(t *testing.T) {
	raw, err := MarshalEvent(LogEvent{Message: "Analyzing 6 symbols"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"log","message":"Analyzing 6 symbols"}`, string(raw))

	raw, err = MarshalEvent(ErrorEvent{Message: "load config: missing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"load config: missing"}`, string(raw))

	raw, err = MarshalEvent(AnalysisEvent{Agent: "macro", Response: analyst.MacroResult{RegimeScore: 61, Regime: "risk_on", Summary: "ok"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"aiChat","data":{"agent":"macro","response":{"regime_score":61,"regime":"risk_on","summary":"ok"}}}`, string(raw))

	raw, err = MarshalEvent(ConfigAdjustedEvent{Config: decision.RiskConfig{MaxPositionPct: 0.05, MinConfidence: 60}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"adjusted_config","data":{"max_position_pct":0.05,"min_confidence":60,"min_trade_usd":0,"reserve_pct":0}}`, string(raw))

	shared := pipeline.NewSharedContext()
	require.NoError(t, shared.Set(pipeline.StageSentiment, pipeline.CycleKey(pipeline.StageSentiment), analyst.SentimentResult{Score: 40, Label: "fear"}))
	require.NoError(t, shared.Set(pipeline.StageMacro, pipeline.CycleKey(pipeline.StageMacro), analyst.MacroResult{RegimeScore: 50}))
	raw, err = MarshalEvent(ContextEvent{Snapshot: shared.Snapshot()})
	require.NoError(t, err)
	assert.Regexp(t, `^\{"type":"context","data":\{"sentiment":.*,"macro":.*\}\}$`, string(raw))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateInitializing))
	assert.True(t, CanTransition(StateRiskGateCheck, StateCompleted))
	assert.True(t, CanTransition(StateFailed, StateIdle))
	assert.False(t, CanTransition(StateIdle, StateExecuting))
	assert.False(t, CanTransition(StateCompleted, StateExecuting))
	assert.True(t, StateFailed.Terminal())
}
