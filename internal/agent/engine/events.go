package engine

import (
	"encoding/json"

	"quorum/internal/decision"
	"quorum/internal/pipeline"
)

// EventType 是进度流中事件的 type 字段。
type EventType string

const (
	EventLog            EventType = "log"
	EventAIChat         EventType = "aiChat"
	EventContext        EventType = "context"
	EventAdjustedConfig EventType = "adjusted_config"
	EventError          EventType = "error"
)

// Event 是一轮决策推送给消费者的进度事件，仅限本包定义的几种。
type Event interface {
	EventType() EventType
	sealed()
}

// LogEvent 是面向人的进度信息。
type LogEvent struct {
	Message string
}

// AnalysisEvent 携带一个分析师的结构化输出。
type AnalysisEvent struct {
	Agent    string
	Response any
}

// ContextEvent 携带 SharedContext 的快照。
type ContextEvent struct {
	Snapshot pipeline.Snapshot
}

// ConfigAdjustedEvent 在风控参数被调整时发出。
type ConfigAdjustedEvent struct {
	Config decision.RiskConfig
}

// ErrorEvent 表示本轮失败，之后流关闭。
type ErrorEvent struct {
	Message string
}

func (LogEvent) EventType() EventType            { return EventLog }
func (AnalysisEvent) EventType() EventType       { return EventAIChat }
func (ContextEvent) EventType() EventType        { return EventContext }
func (ConfigAdjustedEvent) EventType() EventType { return EventAdjustedConfig }
func (ErrorEvent) EventType() EventType          { return EventError }

func (LogEvent) sealed()            {}
func (AnalysisEvent) sealed()       {}
func (ContextEvent) sealed()        {}
func (ConfigAdjustedEvent) sealed() {}
func (ErrorEvent) sealed()          {}

type messageWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type dataWire struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type chatWire struct {
	Agent    string `json:"agent"`
	Response any    `json:"response"`
}

// MarshalEvent 编码为进度流的 JSON 形态。
func MarshalEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case LogEvent:
		return json.Marshal(messageWire{Type: EventLog, Message: e.Message})
	case ErrorEvent:
		return json.Marshal(messageWire{Type: EventError, Message: e.Message})
	case AnalysisEvent:
		return json.Marshal(dataWire{Type: EventAIChat, Data: chatWire{Agent: e.Agent, Response: e.Response}})
	case ContextEvent:
		return json.Marshal(dataWire{Type: EventContext, Data: e.Snapshot})
	case ConfigAdjustedEvent:
		return json.Marshal(dataWire{Type: EventAdjustedConfig, Data: e.Config})
	default:
		return json.Marshal(messageWire{Type: EventError, Message: "unknown event"})
	}
}

// EmitFunc 推送一个事件；消费者离开后返回 false。
type EmitFunc func(Event) bool
