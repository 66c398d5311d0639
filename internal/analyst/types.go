// Package analyst 定义各分析角色的输入、输出与调用约定。
package analyst

import (
	"time"
)

// Role 标识一个分析角色。
type Role string

const (
	RoleMacro     Role = "macro"
	RoleSentiment Role = "sentiment"
	RoleTechnical Role = "technical"
	RoleRisk      Role = "risk"
	RoleAllocator Role = "allocator"
	RolePosition  Role = "position"
)

// Roles 返回全部角色，顺序固定。
func Roles() []Role {
	return []Role{RoleMacro, RoleSentiment, RoleTechnical, RoleRisk, RoleAllocator, RolePosition}
}

// RawMetadata 记录一次分析调用的原始信息。
type RawMetadata struct {
	Role       Role          `json:"role"`
	ProviderID string        `json:"provider_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	Output     string        `json:"output,omitempty"`
	Latency    time.Duration `json:"latency_ns,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Result 是分析师的不可变产出：结构化 Response + 原始元数据。
type Result[T any] struct {
	Response T           `json:"response"`
	Raw      RawMetadata `json:"raw"`
}

// Verdict 是风控分析师对单个 symbol 的结论。
type Verdict string

const (
	VerdictBuy   Verdict = "BUY"
	VerdictAvoid Verdict = "AVOID"
)

// AllocationAction 是分配建议的动作。
type AllocationAction string

const (
	ActionExecuteBuy AllocationAction = "EXECUTE_BUY"
	ActionSkip       AllocationAction = "SKIP"
)

// PositionAction 是持仓复核给出的动作。
type PositionAction string

const (
	PositionHold   PositionAction = "HOLD"
	PositionClose  PositionAction = "CLOSE"
	PositionReduce PositionAction = "REDUCE"
	PositionAdd    PositionAction = "ADD"
)
