package notifier

import (
	"context"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/reconcile"
	"quorum/internal/logger"
)

const sendTimeout = 30 * time.Second

// CycleNotifier 只在有成交或失败时推送一轮摘要。
type CycleNotifier struct {
	Text TextNotifier
}

var _ engine.CycleNotifier = (*CycleNotifier)(nil)

func NewCycleNotifier(text TextNotifier) *CycleNotifier {
	return &CycleNotifier{Text: text}
}

func (n *CycleNotifier) NotifyCycle(ctx context.Context, r engine.Report) {
	if n == nil || n.Text == nil {
		return
	}
	if r.Filled() == 0 && r.State != engine.StateFailed {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.Text.SendText(ctx, CycleMessage(r).RenderMarkdown()); err != nil {
		logger.Warnf("cycle %s notify failed: %v", r.ID, err)
	}
}

// ConflictSink 返回 reconcile.Sink：记录被忽略的错误，并推送成功写入的叙事。
func ConflictSink(text TextNotifier) reconcile.Sink {
	return func(out reconcile.Outcome) {
		if out.Ignored != nil {
			logger.Warnf("conflict reconcile ignored: %v", out.Ignored)
			return
		}
		if out.Narrative == nil || text == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := text.SendText(ctx, ConflictMessage(*out.Narrative).RenderMarkdown()); err != nil {
			logger.Warnf("conflict %s notify failed: %v", out.Narrative.ID, err)
		}
	}
}
