package engine

// State 是决策轮状态机的状态。
type State string

const (
	StateIdle           State = "idle"
	StateInitializing   State = "initializing"
	StateGathering      State = "gathering_macro_sentiment"
	StateRiskGateCheck  State = "risk_gate_check"
	StateBatchAnalyzing State = "batch_analyzing"
	StateAllocating     State = "allocating"
	StateExecuting      State = "executing"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

var transitions = map[State][]State{
	StateIdle:           {StateInitializing},
	StateInitializing:   {StateGathering, StateCompleted, StateFailed},
	StateGathering:      {StateRiskGateCheck, StateFailed},
	StateRiskGateCheck:  {StateBatchAnalyzing, StateCompleted, StateFailed},
	StateBatchAnalyzing: {StateAllocating, StateCompleted, StateFailed},
	StateAllocating:     {StateExecuting, StateCompleted, StateFailed},
	StateExecuting:      {StateCompleted, StateFailed},
	StateCompleted:      {StateIdle},
	StateFailed:         {StateIdle},
}

// CanTransition 判断状态迁移是否合法。
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 表示本轮已结束。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
