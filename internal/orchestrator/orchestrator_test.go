package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/intent"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/state"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

type stubClassifier struct {
	result *intent.Classification
	err    error
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ *intent.Context) (*intent.Classification, error) {
	return s.result, s.err
}

type stubCalc struct {
	result *CalculationResult
	err    error
	calls  int
}

func (s *stubCalc) Calculate(_ context.Context, _ *CalculationRequest) (*CalculationResult, error) {
	s.calls++
	return s.result, s.err
}

type stubResponder struct {
	result *ResponseResult
	err    error
	calls  int
	last   *ResponseRequest
}

func (s *stubResponder) Respond(_ context.Context, req *ResponseRequest) (*ResponseResult, error) {
	s.calls++
	s.last = req
	return s.result, s.err
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestOrchestrator(cls *stubClassifier, calc *stubCalc, resp *stubResponder) (*Orchestrator, *state.Manager) {
	states := state.NewManager(state.NewMemoryBackend(), state.DefaultTokenBudget, testLogger())
	return New(states, cls, calc, resp, testLogger()), states
}

func testJob(message string, leadScore int) *model.Job {
	return &model.Job{
		ID:             "job-1",
		Kind:           model.JobKindIncomingMessage,
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Message:        message,
		Lead:           model.LeadProfile{Name: "Sarah", LeadScore: leadScore},
		Persona:        model.Persona{ID: "p1", Name: "Alex"},
	}
}

func TestProcessMessageGeneralResponse(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:       intent.CategoryGreeting,
		Confidence:     0.9,
		SuggestedModel: "gpt-4o-mini",
	}}
	calc := &stubCalc{}
	resp := &stubResponder{result: &ResponseResult{
		Content:    "Hi Sarah! How can I help with your mortgage today?",
		Model:      "gpt-4o-mini",
		TokensUsed: 40,
	}}

	o, states := newTestOrchestrator(cls, calc, resp)
	result, err := o.ProcessMessage(context.Background(), testJob("Hello!", 50))
	require.NoError(t, err)

	require.Equal(t, "Hi Sarah! How can I help with your mortgage today?", result.Content)
	require.Equal(t, "gpt-4o-mini", result.ModelUsed)
	require.Equal(t, 40, result.TokensUsed)
	require.Equal(t, "greeting", result.Intent)
	require.False(t, result.ShouldHandoff)
	require.Equal(t, model.PhaseQualification, result.NextPhase)
	require.Equal(t, 0, calc.calls)
	require.Equal(t, 1, resp.calls)

	st, err := states.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 1, st.MessageCount)
	require.Equal(t, []model.Intent{model.IntentGreeting}, st.IntentHistory)
	require.Equal(t, 40, st.TotalTokensUsed)
}

func TestProcessMessageCalculationRoute(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:            intent.CategoryCalculationRequest,
		Confidence:          0.85,
		RequiresCalculation: true,
		SuggestedModel:      "gpt-4o",
	}}
	calc := &stubCalc{result: &CalculationResult{
		ChatResponse: "Based on your income you can borrow up to $850,000.",
		Figures:      map[string]float64{"max_loan": 850000},
	}}
	resp := &stubResponder{}

	o, states := newTestOrchestrator(cls, calc, resp)
	result, err := o.ProcessMessage(context.Background(), testJob("How much can I borrow?", 60))
	require.NoError(t, err)

	require.Equal(t, "calc-engine+gpt-4o", result.ModelUsed)
	require.Equal(t, calcTokenEstimate, result.TokensUsed)
	require.Equal(t, model.PhaseRecommendation, result.NextPhase)
	require.Equal(t, 1, calc.calls)
	require.Equal(t, 0, resp.calls)

	st, err := states.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, []model.Intent{model.IntentQuestionCalculation}, st.IntentHistory)
	require.Equal(t, calcTokenEstimate, st.TotalTokensUsed)
}

func TestCalculationFailureFallsBack(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:            intent.CategoryCalculationRequest,
		RequiresCalculation: true,
		SuggestedModel:      "gpt-4o",
	}}
	calc := &stubCalc{err: errors.New("engine timeout")}

	o, _ := newTestOrchestrator(cls, calc, &stubResponder{})
	result, err := o.ProcessMessage(context.Background(), testJob("How much can I borrow?", 60))
	require.NoError(t, err)

	require.True(t, result.ShouldHandoff)
	require.Equal(t, "fallback", result.ModelUsed)
	require.Equal(t, fallbackTokenEstimate, result.TokensUsed)
	require.Contains(t, result.Content, "Sarah")
	require.NotEmpty(t, result.HandoffReason)
}

func TestExplicitHumanRequestHandsOff(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:       intent.CategorySimpleQuestion,
		Confidence:     0.2,
		SuggestedModel: "gpt-4o-mini",
	}}
	resp := &stubResponder{result: &ResponseResult{Content: "Of course.", Model: "gpt-4o-mini", TokensUsed: 10}}

	o, _ := newTestOrchestrator(cls, &stubCalc{}, resp)
	result, err := o.ProcessMessage(context.Background(), testJob("I want to speak to a human please", 40))
	require.NoError(t, err)

	require.True(t, result.ShouldHandoff)
	require.Equal(t, "Customer requested human agent", result.HandoffReason)
}

func TestHighValueLeadNextStepsHandsOff(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:       intent.CategoryNextSteps,
		SuggestedModel: "gpt-4o-mini",
	}}
	resp := &stubResponder{result: &ResponseResult{Content: "Great, let's set it up.", Model: "gpt-4o-mini", TokensUsed: 15}}

	o, _ := newTestOrchestrator(cls, &stubCalc{}, resp)
	result, err := o.ProcessMessage(context.Background(), testJob("I'm ready to proceed", 85))
	require.NoError(t, err)

	require.True(t, result.ShouldHandoff)
	require.Equal(t, "High-value lead ready for next steps", result.HandoffReason)
	require.Equal(t, model.PhaseClosing, result.NextPhase)
}

func TestRepeatedObjectionsHandOff(t *testing.T) {
	cls := &stubClassifier{result: &intent.Classification{
		Category:       intent.CategoryObjectionHandling,
		SuggestedModel: "gpt-4o",
	}}
	resp := &stubResponder{result: &ResponseResult{Content: "I understand the concern.", Model: "gpt-4o", TokensUsed: 20}}

	o, states := newTestOrchestrator(cls, &stubCalc{}, resp)
	ctx := context.Background()

	_, err := states.Initialize(ctx, "conv-1", "contact-1", model.LeadProfile{Name: "Sarah", LeadScore: 40}, model.Persona{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = states.TrackMessage(ctx, "conv-1", model.IntentExpressConcern, 20)
		require.NoError(t, err)
	}

	result, err := o.ProcessMessage(ctx, testJob("This still seems too expensive", 40))
	require.NoError(t, err)

	require.True(t, result.ShouldHandoff)
	require.Equal(t, "Multiple objections detected", result.HandoffReason)
	require.Equal(t, model.PhaseObjectionHandling, result.NextPhase)
}

func TestResponderTokensEstimatedWhenUnreported(t *testing.T) {
	content := "Rates currently start around 2.6% for fixed packages."
	cls := &stubClassifier{result: &intent.Classification{
		Category:       intent.CategorySimpleQuestion,
		SuggestedModel: "gpt-4o-mini",
	}}
	resp := &stubResponder{result: &ResponseResult{Content: content, Model: "gpt-4o-mini"}}

	o, _ := newTestOrchestrator(cls, &stubCalc{}, resp)
	result, err := o.ProcessMessage(context.Background(), testJob("What are your rates?", 30))
	require.NoError(t, err)
	require.Equal(t, EstimateTokens(content), result.TokensUsed)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("hey"))
	require.Equal(t, 1, EstimateTokens("four"))
	require.Equal(t, 2, EstimateTokens("hello"))
	require.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
