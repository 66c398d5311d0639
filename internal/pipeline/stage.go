package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage 标识一个写入 SharedContext 的流程阶段，也是 key 的所有者。
type Stage int

const (
	StageMacro Stage = iota + 1
	StageSentiment
	StageRiskConfig
	StageTechnical
	StageRisk
	StageAllocation
)

var stageNames = map[Stage]string{
	StageMacro:      "macro",
	StageSentiment:  "sentiment",
	StageRiskConfig: "risk_config",
	StageTechnical:  "technical",
	StageRisk:       "risk",
	StageAllocation: "allocation",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

func (s Stage) valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Key 是 SharedContext 中的条目标识：阶段 + 可选批次号（从 1 开始）。
type Key struct {
	stage Stage
	batch int
}

// CycleKey 返回整轮共享的 key，例如 "macro"。
func CycleKey(stage Stage) Key {
	return Key{stage: stage}
}

// BatchKey 返回批次作用域的 key，例如 "batch-3:risk"。
func BatchKey(batch int, stage Stage) Key {
	if batch < 1 {
		batch = 1
	}
	return Key{stage: stage, batch: batch}
}

func (k Key) Stage() Stage { return k.stage }

// Batch 返回批次号，整轮 key 返回 0。
func (k Key) Batch() int { return k.batch }

func (k Key) String() string {
	if k.batch == 0 {
		return k.stage.String()
	}
	return fmt.Sprintf("batch-%d:%s", k.batch, k.stage)
}

// ParseKey 解析 String() 的输出。
func ParseKey(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	batch := 0
	name := raw
	if strings.HasPrefix(raw, "batch-") {
		head, tail, ok := strings.Cut(strings.TrimPrefix(raw, "batch-"), ":")
		if !ok {
			return Key{}, fmt.Errorf("invalid context key %q", raw)
		}
		n, err := strconv.Atoi(head)
		if err != nil || n < 1 {
			return Key{}, fmt.Errorf("invalid batch in context key %q", raw)
		}
		batch = n
		name = tail
	}
	for st, label := range stageNames {
		if label == name {
			return Key{stage: st, batch: batch}, nil
		}
	}
	return Key{}, fmt.Errorf("unknown stage in context key %q", raw)
}
