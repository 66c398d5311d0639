package analyst

import (
	"context"
	"errors"
	"testing"

	"quorum/internal/analyst/prompts"
	"quorum/internal/gateway/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) ID() string        { return "mock" }
func (m *MockModel) Model() string     { return "mock-1" }
func (m *MockModel) Enabled() bool     { return true }
func (m *MockModel) ExpectsJSON() bool { return true }
func (m *MockModel) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func newAnalysts(t *testing.T, model provider.ModelProvider) *LLMAnalysts {
	t.Helper()
	bound := make(map[string]provider.ModelProvider)
	for _, role := range Roles() {
		bound[string(role)] = model
	}
	a, err := NewLLMAnalysts(bound, prompts.Default())
	require.NoError(t, err)
	return a
}

func TestNewLLMAnalystsRequiresEveryRole(t *testing.T) {
	_, err := NewLLMAnalysts(map[string]provider.ModelProvider{"macro": new(MockModel)}, prompts.Default())
	assert.ErrorContains(t, err, "sentiment")
}

func TestAnalyzeMacro_FencedJSON(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.MatchedBy(func(p provider.ChatPayload) bool {
		return p.ExpectJSON && p.System != "" && len(p.User) > 0
	})).Return("Sure.\n```json\n{\"regime_score\":\"72\",\"summary\":\"risk appetite returning\",\"drivers\":[\"ETF inflows\"]}\n```", nil)

	a := newAnalysts(t, model)
	res, err := a.AnalyzeMacro(context.Background(), MacroInput{})
	require.NoError(t, err)
	assert.Equal(t, 72.0, res.Response.RegimeScore)
	assert.Equal(t, "risk_on", res.Response.Regime)
	assert.Equal(t, []string{"ETF inflows"}, res.Response.Drivers)
	assert.Equal(t, RoleMacro, res.Raw.Role)
	assert.Equal(t, "mock", res.Raw.ProviderID)
	assert.Contains(t, res.Raw.Output, "regime_score")
	model.AssertExpectations(t)
}

func TestDecideBatch_KeepsUnknownVerdicts(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return(`{"decisions":[
		{"symbol":"btcusdt","verdict":"buy","confidence":81,"summary":"breakout"},
		{"symbol":"ETH/USDT","verdict":"HODL","confidence":50}
	]}`, nil)

	a := newAnalysts(t, model)
	res, err := a.DecideBatch(context.Background(), RiskInput{Batch: 2, Symbols: []string{"BTC/USDT", "ETH/USDT"}})
	require.NoError(t, err)
	require.Len(t, res.Response.Calls, 2)
	assert.Equal(t, 2, res.Response.Batch)
	assert.Equal(t, RiskCall{Symbol: "BTC/USDT", Verdict: VerdictBuy, Confidence: 81, Summary: "breakout"}, res.Response.Calls[0])
	assert.Equal(t, Verdict("HODL"), res.Response.Calls[1].Verdict)
}

func TestInvoke_SchemaViolation(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return(`{"verdicts":[]}`, nil)

	a := newAnalysts(t, model)
	_, err := a.DecideBatch(context.Background(), RiskInput{Batch: 1})
	assert.ErrorContains(t, err, "schema")
}

func TestInvoke_ProviderError(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	a := newAnalysts(t, model)
	_, err := a.AnalyzeSentiment(context.Background(), SentimentInput{})
	assert.ErrorContains(t, err, "sentiment analyst: timeout")
}

func TestReviewPosition_RejectsUnknownAction(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return(`{"action":"PANIC"}`, nil)

	a := newAnalysts(t, model)
	_, err := a.ReviewPosition(context.Background(), ReviewInput{Position: PositionBrief{Symbol: "BTC/USDT"}})
	assert.Error(t, err)
}

func TestRenderRiskIncludesLimits(t *testing.T) {
	out := renderRisk(RiskInput{
		Batch:          1,
		Symbols:        []string{"BTC/USDT"},
		MinConfidence:  70,
		MaxPositionPct: 0.05,
		Technical:      TechnicalReport{Assessments: []TechnicalAssessment{{Symbol: "BTC/USDT", Trend: "up"}}},
	})
	assert.Contains(t, out, "min_confidence=70")
	assert.Contains(t, out, "max_position_pct=0.05")
	assert.Contains(t, out, `"trend":"up"`)
}
