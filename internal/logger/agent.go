package logger

import (
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	agentMu          sync.Mutex
	agentLog         *log.Logger
	agentDumpPayload bool
)

// SetAgentWriter 设置分析师 prompt/response 的独立日志输出，nil 关闭。
func SetAgentWriter(w io.Writer) {
	agentMu.Lock()
	defer agentMu.Unlock()
	if w == nil {
		agentLog = nil
		return
	}
	agentLog = log.New(w, "", log.LstdFlags)
}

// EnableAgentPayloadDump 控制是否额外记录原始请求体。
func EnableAgentPayloadDump(enabled bool) {
	agentMu.Lock()
	agentDumpPayload = enabled
	agentMu.Unlock()
}

type agentSection struct {
	Title string
	Body  string
}

func writeAgentLog(kind, role, provider string, sections []agentSection) {
	agentMu.Lock()
	l := agentLog
	agentMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AGENT]")
	for _, tag := range []string{kind, role, provider} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogAgentRequest(role, provider, systemPrompt, userPrompt, payload string) {
	sections := []agentSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	agentMu.Lock()
	dump := agentDumpPayload
	agentMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, agentSection{Title: "PAYLOAD", Body: payload})
	}
	writeAgentLog("request", role, provider, sections)
}

func LogAgentResponse(role, provider, raw string, latency time.Duration) {
	sections := []agentSection{
		{Title: "LATENCY", Body: latency.Round(time.Millisecond).String()},
		{Title: "RAW", Body: raw},
	}
	writeAgentLog("response", role, provider, sections)
}

func LogAgentError(role, provider string, err error) {
	if err == nil {
		return
	}
	writeAgentLog("error", role, provider, []agentSection{{Title: "ERROR", Body: err.Error()}})
}
