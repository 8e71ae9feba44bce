package handler

import (
	"net/http"

	"github.com/nextnest/broker-pipeline/internal/alert"
	"github.com/nextnest/broker-pipeline/internal/model"
)

// AlertsHandler runs an on-demand health evaluation.
type AlertsHandler struct {
	evaluator *alert.Evaluator
}

// NewAlertsHandler creates a new alerts handler.
func NewAlertsHandler(evaluator *alert.Evaluator) *AlertsHandler {
	return &AlertsHandler{evaluator: evaluator}
}

// Check handles GET /api/v1/alerts
func (h *AlertsHandler) Check(w http.ResponseWriter, r *http.Request) {
	alerts := h.evaluator.Evaluate(r.Context())
	if alerts == nil {
		alerts = []model.Alert{}
	}
	critical, warning := alert.CountBySeverity(alerts)

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":   alerts,
		"total":    len(alerts),
		"critical": critical,
		"warning":  warning,
	})
}
