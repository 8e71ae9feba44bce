package model

import (
	"time"
)

// Phase tracks progression through the conversation lifecycle.
type Phase string

const (
	PhaseGreeting          Phase = "greeting"
	PhaseQualification     Phase = "qualification"
	PhaseCalculation       Phase = "calculation"
	PhaseRecommendation    Phase = "recommendation"
	PhaseObjectionHandling Phase = "objection_handling"
	PhaseClosing           Phase = "closing"
	PhaseEscalation        Phase = "escalation"
)

// Intent is the tracked classification of a user message, kept in the
// per-conversation history.
type Intent string

const (
	IntentGreeting            Intent = "greeting"
	IntentQuestionRates       Intent = "question_rates"
	IntentQuestionEligibility Intent = "question_eligibility"
	IntentQuestionProcess     Intent = "question_process"
	IntentQuestionCalculation Intent = "question_calculation"
	IntentProvideInfo         Intent = "provide_info"
	IntentExpressConcern      Intent = "express_concern"
	IntentRequestCallback     Intent = "request_callback"
	IntentReadyToProceed      Intent = "ready_to_proceed"
	IntentUnclear             Intent = "unclear"
)

// IntentHistoryLimit bounds the per-conversation intent history.
const IntentHistoryLimit = 5

// ConversationState is the mutable record for one active conversation.
// Message count is monotonically non-decreasing; phase transitions follow the
// orchestrator state machine.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id"`

	Phase   Phase       `json:"phase"`
	Lead    LeadProfile `json:"lead"`
	Persona Persona     `json:"persona"`

	MessageCount    int      `json:"message_count"`
	TotalTokensUsed int      `json:"total_tokens_used"`
	TokenBudget     int      `json:"token_budget"`
	IntentHistory   []Intent `json:"intent_history"`

	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// CountIntent returns how many entries of the history match the given intent.
func (s *ConversationState) CountIntent(intent Intent) int {
	n := 0
	for _, i := range s.IntentHistory {
		if i == intent {
			n++
		}
	}
	return n
}
