package provider

import "context"

type ChatPayload struct {
	System      string
	User        string
	ExpectJSON  bool
	MaxTokens   int
	Temperature float64
}

// ModelProvider 是一个可调用的聊天模型。
type ModelProvider interface {
	ID() string
	Model() string
	Enabled() bool
	ExpectsJSON() bool

	Call(ctx context.Context, payload ChatPayload) (string, error)
}
