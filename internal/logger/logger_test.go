package logger

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel("info")

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestCycleLoggerCarriesID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Cycle("c-42").Info("batch done")
	assert.Contains(t, buf.String(), "cycle=c-42")
	assert.Contains(t, buf.String(), "batch done")
}

func TestAgentLogSections(t *testing.T) {
	var buf bytes.Buffer
	SetAgentWriter(&buf)
	defer SetAgentWriter(nil)

	EnableAgentPayloadDump(true)
	defer EnableAgentPayloadDump(false)

	LogAgentRequest("risk", "main", "sys", "user", `{"model":"x"}`)
	LogAgentResponse("risk", "main", `{"decisions":[]}`, 1500*time.Millisecond)
	LogAgentError("risk", "main", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "[AGENT][request][risk][main]")
	assert.Contains(t, out, "--- PAYLOAD ---")
	assert.Contains(t, out, "--- LATENCY ---\n1.5s")
	assert.Contains(t, out, "boom")
}
