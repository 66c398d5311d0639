package notifier

import (
	"fmt"
	"strings"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/decision"
	"quorum/internal/pkg/format"
	"quorum/internal/pkg/text"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}

// CycleMessage 汇总一轮决策：市场状态、信号数与成交。
func CycleMessage(r engine.Report) StructuredMessage {
	icon := "✅"
	if r.State == engine.StateFailed {
		icon = "❌"
	}
	overview := []string{
		fmt.Sprintf("state: %s (%s)", r.State, r.Trigger),
		fmt.Sprintf("macro: %s %s", r.Macro.Regime, format.Float(r.Macro.RegimeScore, 0)),
		fmt.Sprintf("sentiment: %s %s", r.Sentiment.Label, format.Float(r.Sentiment.Score, 0)),
		fmt.Sprintf("symbols %d / buy %d / avoid %d", len(r.Symbols), len(r.Signals), r.Avoided),
	}
	fills := make([]string, 0, len(r.Executions))
	for _, e := range r.Executions {
		switch {
		case e.Trade != nil:
			fills = append(fills, fmt.Sprintf("%s %s @ %s = %s", e.Symbol,
				format.Float(e.Trade.Quantity, 8), format.Float(e.Trade.Price, 6), format.USD(e.Trade.Notional)))
		case e.Err != nil:
			fills = append(fills, fmt.Sprintf("%s failed: %s", e.Symbol, text.Truncate(e.Err.Error(), 120)))
		case e.Skipped != "":
			fills = append(fills, fmt.Sprintf("%s skipped: %s", e.Symbol, e.Skipped))
		}
	}
	return StructuredMessage{
		Icon:  icon,
		Title: "Cycle " + shortID(r.ID),
		Sections: []MessageSection{
			{Title: "Overview", Lines: overview},
			{Title: "Executions", Lines: fills},
		},
		Footer:    r.Message,
		Timestamp: r.FinishedAt,
	}
}

// ConflictMessage 描述一条分歧叙事。
func ConflictMessage(n decision.ConflictNarrative) StructuredMessage {
	icon := "⚖️"
	if n.Agreement {
		icon = "🤝"
	}
	h, a := n.HumanDecision, n.AgentDecision
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("Manual %s %s", h.Action, n.Symbol),
		Sections: []MessageSection{
			{Title: "Human", Lines: []string{
				fmt.Sprintf("%s @ %s, pnl %s", format.Float(h.Quantity, 8), format.Float(h.Price, 6), format.SignedUSD(n.PnLUSD)),
				text.Truncate(h.Reason, 300),
			}},
			{Title: "Agents", Lines: []string{
				fmt.Sprintf("%s (confidence %s)", a.Action, format.Float(a.Confidence, 0)),
				text.Truncate(a.Summary, 300),
			}},
		},
		Footer:    text.Truncate(n.NarrativeText, 1200),
		Timestamp: n.Timestamp,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
