// Package model defines data structures for the broker message pipeline.
package model

import (
	"time"
)

// JobKind distinguishes the two job shapes the queue carries.
type JobKind string

const (
	// JobKindNewConversation is the initial broker greeting after form submission.
	JobKindNewConversation JobKind = "new-conversation"

	// JobKindIncomingMessage is an AI response to a customer message.
	JobKindIncomingMessage JobKind = "incoming-message"
)

// Job is one inbound message awaiting processing. The queue owns it until a
// worker claims it; ownership transfers to the worker for the duration of the
// turn and the job is acked or terminally failed afterwards.
type Job struct {
	// Identity
	ID             string  `json:"id"`
	Kind           JobKind `json:"kind"`
	ConversationID string  `json:"conversation_id"`
	ContactID      string  `json:"contact_id"`

	// Responder assignment
	ResponderID   string  `json:"responder_id,omitempty"`
	ResponderName string  `json:"responder_name,omitempty"`
	Persona       Persona `json:"persona"`

	// Lead context
	Lead LeadProfile `json:"lead"`

	// Message details
	Message string `json:"message"`

	// Flags
	Reopened     bool `json:"reopened,omitempty"`
	SkipGreeting bool `json:"skip_greeting,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// HighValue reports whether this job belongs to a high-value lead and should
// be enqueued on the priority subject.
func (j *Job) HighValue() bool {
	return j.Lead.LeadScore > HighValueLeadScore
}
