// Package orchestrator coordinates intent classification, conversation
// state, and response generation for each inbound message turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/intent"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/state"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// HandoffLeadScore is the lead score above which a ready-to-act intent
// triggers a human handoff.
const HandoffLeadScore = 80

// objectionHandoffCount is how many recorded concerns force a handoff.
const objectionHandoffCount = 3

// CalculationRequest is the input to the external calculation collaborator.
type CalculationRequest struct {
	ConversationID string
	Lead           model.LeadProfile
	Persona        model.Persona
	Message        string
}

// CalculationResult is the collaborator's chat-ready answer plus the
// structured numbers behind it.
type CalculationResult struct {
	ChatResponse string             `json:"chat_response"`
	Figures      map[string]float64 `json:"figures,omitempty"`
}

// CalculationEngine produces mortgage calculations with explanations.
type CalculationEngine interface {
	Calculate(ctx context.Context, req *CalculationRequest) (*CalculationResult, error)
}

// ResponseRequest is the input to the general response collaborator.
type ResponseRequest struct {
	ConversationID string
	Message        string
	Persona        model.Persona
	Lead           model.LeadProfile
	History        []Turn
	MaxTokens      int
	Model          string
}

// Turn is one prior exchange in the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseResult is the generated reply.
type ResponseResult struct {
	Content    string
	Model      string
	TokensUsed int
}

// Responder generates a persona-voiced reply for non-calculation messages.
type Responder interface {
	Respond(ctx context.Context, req *ResponseRequest) (*ResponseResult, error)
}

// Result is the outcome of processing one message turn.
type Result struct {
	Content       string      `json:"content"`
	ModelUsed     string      `json:"model_used"`
	TokensUsed    int         `json:"tokens_used"`
	Intent        string      `json:"intent"`
	ShouldHandoff bool        `json:"should_handoff"`
	HandoffReason string      `json:"handoff_reason,omitempty"`
	NextPhase     model.Phase `json:"next_phase,omitempty"`
}

// Orchestrator runs the per-turn state machine: load state, classify,
// route, evaluate handoff, track. Collaborator failures fall back to a safe
// reply with a forced handoff; only state store failures propagate.
type Orchestrator struct {
	states     *state.Manager
	classifier intent.Classifier
	calc       CalculationEngine
	responder  Responder
	logger     *logger.Logger
}

// calcTokenEstimate approximates the token cost of a calculation reply;
// explanations run long and exact usage is not reported by the engine.
const calcTokenEstimate = 1500

func New(states *state.Manager, classifier intent.Classifier, calc CalculationEngine, responder Responder, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		states:     states,
		classifier: classifier,
		calc:       calc,
		responder:  responder,
		logger:     log,
	}
}

// ProcessMessage handles one inbound message and returns a reply. It never
// returns an error for collaborator or classification failures; those
// produce the fallback response. State store unavailability is the one hard
// failure, since a turn cannot safely proceed without conversation state.
func (o *Orchestrator) ProcessMessage(ctx context.Context, job *model.Job) (*Result, error) {
	log := o.logger.WithJob(job.ID, job.ConversationID)

	st, err := o.states.Get(ctx, job.ConversationID)
	if errors.Is(err, state.ErrNotFound) {
		st, err = o.states.Initialize(ctx, job.ConversationID, job.ContactID, job.Lead, job.Persona)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}

	result, err := o.processTurn(ctx, job, st, log)
	if err != nil {
		if errors.Is(err, state.ErrUnavailable) {
			return nil, err
		}
		log.Error("orchestrator turn failed, using fallback", zap.Error(err))
		return o.fallback(ctx, job), nil
	}
	return result, nil
}

func (o *Orchestrator) processTurn(ctx context.Context, job *model.Job, st *model.ConversationState, log *logger.Logger) (*Result, error) {
	cls, err := o.classifier.Classify(ctx, job.Message, &intent.Context{
		Lead:      st.Lead,
		TurnCount: st.MessageCount,
		Phase:     st.Phase,
	})
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}

	log.Debug("intent classified",
		zap.String("category", string(cls.Category)),
		zap.Float64("confidence", cls.Confidence),
		zap.Bool("requires_calculation", cls.RequiresCalculation))

	var (
		content    string
		modelUsed  string
		tokensUsed int
	)

	if cls.RequiresCalculation {
		calcResult, err := o.calc.Calculate(ctx, &CalculationRequest{
			ConversationID: job.ConversationID,
			Lead:           st.Lead,
			Persona:        st.Persona,
			Message:        job.Message,
		})
		if err != nil {
			return nil, fmt.Errorf("calculation collaborator: %w", err)
		}
		content = calcResult.ChatResponse
		modelUsed = "calc-engine+" + cls.SuggestedModel
		tokensUsed = calcTokenEstimate
	} else {
		resp, err := o.responder.Respond(ctx, &ResponseRequest{
			ConversationID: job.ConversationID,
			Message:        job.Message,
			Persona:        st.Persona,
			Lead:           st.Lead,
			MaxTokens:      o.states.RecommendedTokenLimit(st),
			Model:          cls.SuggestedModel,
		})
		if err != nil {
			return nil, fmt.Errorf("response collaborator: %w", err)
		}
		content = resp.Content
		modelUsed = resp.Model
		tokensUsed = resp.TokensUsed
		if tokensUsed == 0 {
			tokensUsed = EstimateTokens(content)
		}
	}

	userIntent := intent.ToUserIntent(cls.Category)
	handoff, reason := o.evaluateHandoff(job.Message, cls, st)
	if handoff {
		log.Info("handoff condition detected", zap.String("reason", reason))
		metrics.Handoffs.WithLabelValues(reason).Inc()
	}

	updated, err := o.states.TrackMessage(ctx, job.ConversationID, userIntent, tokensUsed)
	if err != nil {
		return nil, fmt.Errorf("track message: %w", err)
	}

	if o.states.ApproachingBudgetLimit(updated) {
		log.Warn("conversation approaching token budget",
			zap.Int("tokens_used", updated.TotalTokensUsed),
			zap.Int("budget", updated.TokenBudget))
	}

	metrics.LLMTokensTotal.WithLabelValues(modelUsed).Add(float64(tokensUsed))

	return &Result{
		Content:       content,
		ModelUsed:     modelUsed,
		TokensUsed:    tokensUsed,
		Intent:        string(cls.Category),
		ShouldHandoff: handoff,
		HandoffReason: reason,
		NextPhase:     suggestNextPhase(cls.Category),
	}, nil
}

// evaluateHandoff checks conditions in priority order: explicit request for
// a human, high-value lead signalling readiness, repeated objections.
func (o *Orchestrator) evaluateHandoff(message string, cls *intent.Classification, st *model.ConversationState) (bool, string) {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "human") || strings.Contains(lower, "real person") || strings.Contains(lower, "agent") {
		return true, "Customer requested human agent"
	}

	if st.Lead.LeadScore > HandoffLeadScore && cls.Category == intent.CategoryNextSteps {
		return true, "High-value lead ready for next steps"
	}

	if st.CountIntent(model.IntentExpressConcern) >= objectionHandoffCount {
		return true, "Multiple objections detected"
	}

	return false, ""
}

func suggestNextPhase(category intent.Category) model.Phase {
	switch category {
	case intent.CategoryGreeting:
		return model.PhaseQualification
	case intent.CategoryCalculationRequest:
		return model.PhaseRecommendation
	case intent.CategoryNextSteps:
		return model.PhaseClosing
	case intent.CategoryObjectionHandling:
		return model.PhaseObjectionHandling
	default:
		return ""
	}
}

// fallbackTokenEstimate is the fixed charge recorded for fallback replies.
const fallbackTokenEstimate = 50

// fallback builds the safe reply used when a turn fails mid-flight. The
// tracking write is best-effort here; the reply goes out regardless.
func (o *Orchestrator) fallback(ctx context.Context, job *model.Job) *Result {
	name := job.Lead.Name
	if name == "" {
		name = "Hi"
	}
	content := fmt.Sprintf("%s, thank you for your message. I'm experiencing a brief technical issue, but I'm here to help. Could you please rephrase your question? Or would you like me to connect you with a specialist who can assist you immediately?", name)

	if _, err := o.states.TrackMessage(ctx, job.ConversationID, model.IntentUnclear, fallbackTokenEstimate); err != nil {
		o.logger.Warn("failed to track fallback turn",
			zap.String("conversation_id", job.ConversationID),
			zap.Error(err))
	}

	metrics.Handoffs.WithLabelValues("Technical error in orchestrator").Inc()

	return &Result{
		Content:       content,
		ModelUsed:     "fallback",
		TokensUsed:    fallbackTokenEstimate,
		Intent:        "unknown",
		ShouldHandoff: true,
		HandoffReason: "Technical error in orchestrator",
	}
}

// EstimateTokens approximates token usage as one token per four characters.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Disconnect releases the state store connection.
func (o *Orchestrator) Disconnect() error {
	return o.states.Disconnect()
}
