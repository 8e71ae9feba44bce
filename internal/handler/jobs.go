package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/migration"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// JobsHandler accepts inbound messages and routes them through the
// migration controller before enqueueing.
type JobsHandler struct {
	controller *migration.Controller
	queue      *queue.Queue
	logger     *logger.Logger
}

// NewJobsHandler creates a new intake handler.
func NewJobsHandler(controller *migration.Controller, q *queue.Queue, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		controller: controller,
		queue:      q,
		logger:     log,
	}
}

type enqueueRequest struct {
	Kind           model.JobKind     `json:"kind"`
	ConversationID string            `json:"conversation_id"`
	ContactID      string            `json:"contact_id"`
	ResponderID    string            `json:"responder_id,omitempty"`
	ResponderName  string            `json:"responder_name,omitempty"`
	Persona        model.Persona     `json:"persona"`
	Lead           model.LeadProfile `json:"lead"`
	Message        string            `json:"message"`
	Reopened       bool              `json:"reopened,omitempty"`
	SkipGreeting   bool              `json:"skip_greeting,omitempty"`
}

// Enqueue handles POST /api/v1/jobs. The migration controller decides
// whether the message enters the new pipeline; legacy-routed messages are
// acknowledged without enqueueing so the caller falls through to the old
// system.
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and message are required")
		return
	}
	if req.Kind == "" {
		req.Kind = model.JobKindIncomingMessage
	}

	if !h.controller.ShouldRoute(req.Lead.LeadScore) {
		metrics.RoutingDecisions.WithLabelValues("legacy").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"routed": "legacy",
		})
		return
	}
	metrics.RoutingDecisions.WithLabelValues("pipeline").Inc()

	job, err := h.queue.Add(r.Context(), &model.Job{
		Kind:           req.Kind,
		ConversationID: req.ConversationID,
		ContactID:      req.ContactID,
		ResponderID:    req.ResponderID,
		ResponderName:  req.ResponderName,
		Persona:        req.Persona,
		Lead:           req.Lead,
		Message:        req.Message,
		Reopened:       req.Reopened,
		SkipGreeting:   req.SkipGreeting,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDraining) {
			writeError(w, http.StatusServiceUnavailable, "queue is draining")
			return
		}
		h.logger.Error("enqueue failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"routed":   "pipeline",
		"job_id":   job.ID,
		"priority": job.HighValue(),
	})
}
