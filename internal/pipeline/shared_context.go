package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateStageKey 表示 key 已被另一个阶段写入。
var ErrDuplicateStageKey = errors.New("context key owned by another stage")

// Payload 是可写入 SharedContext 的阶段产出。实现必须返回深拷贝。
type Payload interface {
	ClonePayload() Payload
}

type entry struct {
	key   Key
	owner Stage
	value Payload
}

// SharedContext 按写入顺序累积一轮决策中各阶段的产出。
// 同一 key 只能由首次写入它的阶段修改，不提供删除。
type SharedContext struct {
	mu      sync.RWMutex
	entries []entry
	index   map[Key]int
}

func NewSharedContext() *SharedContext {
	return &SharedContext{index: make(map[Key]int)}
}

// Set 写入或由原所有者覆盖一个 key。owner 必须是 key 所属的阶段。
func (c *SharedContext) Set(owner Stage, key Key, value Payload) error {
	if !owner.valid() {
		return fmt.Errorf("set %s: invalid owner %s", key, owner)
	}
	if !key.stage.valid() {
		return fmt.Errorf("set: invalid key stage %s", key.stage)
	}
	if owner != key.stage {
		return fmt.Errorf("set %s by %s: %w", key, owner, ErrDuplicateStageKey)
	}
	if value == nil {
		return fmt.Errorf("set %s: nil payload", key)
	}
	stored := value.ClonePayload()
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.index[key]; ok {
		existing := c.entries[idx]
		if existing.owner != owner {
			return fmt.Errorf("set %s by %s (owner %s): %w", key, owner, existing.owner, ErrDuplicateStageKey)
		}
		c.entries[idx].value = stored
		return nil
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, entry{key: key, owner: owner, value: stored})
	return nil
}

// Get 返回 key 对应值的副本。
func (c *SharedContext) Get(key Key) (Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[idx].value.ClonePayload(), true
}

// Owner 返回 key 的所有者阶段。
func (c *SharedContext) Owner(key Key) (Stage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.index[key]
	if !ok {
		return 0, false
	}
	return c.entries[idx].owner, true
}

func (c *SharedContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot 返回当前内容的有序深拷贝，之后的写入不会影响它。
func (c *SharedContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SnapshotEntry, len(c.entries))
	for i, e := range c.entries {
		out[i] = SnapshotEntry{Key: e.key, Owner: e.owner, Value: e.value.ClonePayload()}
	}
	return Snapshot{entries: out}
}

// Lookup 按具体类型读取一个 key。
func Lookup[T Payload](c *SharedContext, key Key) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
