package pipeline

import (
	"bytes"
	"encoding/json"
)

type SnapshotEntry struct {
	Key   Key
	Owner Stage
	Value Payload
}

// Snapshot 是 SharedContext 的只读视图，序列化为保持写入顺序的 JSON 对象。
type Snapshot struct {
	entries []SnapshotEntry
}

func (s Snapshot) Len() int { return len(s.entries) }

// Entries 返回条目切片的副本。
func (s Snapshot) Entries() []SnapshotEntry {
	out := make([]SnapshotEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s Snapshot) Keys() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Key.String()
	}
	return out
}

func (s Snapshot) Get(key Key) (Payload, bool) {
	for _, e := range s.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key.String())
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
