package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// TimingHandler exposes SLA timing reports.
type TimingHandler struct {
	store  *timing.Store
	logger *logger.Logger
}

// NewTimingHandler creates a new timing handler.
func NewTimingHandler(store *timing.Store, log *logger.Logger) *TimingHandler {
	return &TimingHandler{store: store, logger: log}
}

// Report handles GET /api/v1/timings/report: the latency distribution and
// statistics across all retained records.
func (h *TimingHandler) Report(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.All(r.Context())
	if err != nil {
		h.logger.Warn("timing report unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"report": nil,
			"error":  "timing store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report": timing.BuildReport(records),
	})
}

// ByConversation handles GET /api/v1/timings/{conversationID}
func (h *TimingHandler) ByConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	records, err := h.store.ByConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, timing.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no timing records for conversation")
			return
		}
		h.logger.Warn("timing lookup failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "timing store unavailable")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no timing records for conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"records":         records,
	})
}
