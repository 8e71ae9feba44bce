package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/orchestrator"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// Sink delivers a generated reply to the external conversation platform.
type Sink interface {
	Deliver(ctx context.Context, job *model.Job, result *orchestrator.Result) error
}

// HTTPSink posts replies to the conversation platform's webhook endpoint.
type HTTPSink struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSink creates a delivery sink for the given endpoint.
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type deliveryPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	ModelUsed      string `json:"model_used"`
	Intent         string `json:"intent"`
	ShouldHandoff  bool   `json:"should_handoff"`
	HandoffReason  string `json:"handoff_reason,omitempty"`
	NextPhase      string `json:"next_phase,omitempty"`
}

// Deliver posts the reply. A non-2xx status is an error so the job retries.
func (s *HTTPSink) Deliver(ctx context.Context, job *model.Job, result *orchestrator.Result) error {
	body, err := json.Marshal(deliveryPayload{
		ConversationID: job.ConversationID,
		MessageID:      job.ID,
		Content:        result.Content,
		ModelUsed:      result.ModelUsed,
		Intent:         result.Intent,
		ShouldHandoff:  result.ShouldHandoff,
		HandoffReason:  result.HandoffReason,
		NextPhase:      string(result.NextPhase),
	})
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// LogSink writes replies to the log instead of delivering them. Used in
// parallel-run mode, where the legacy system still owns outbound messages.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Deliver(_ context.Context, job *model.Job, result *orchestrator.Result) error {
	s.logger.Info("reply generated (parallel mode, not delivered)",
		zap.String("conversation_id", job.ConversationID),
		zap.String("message_id", job.ID),
		zap.String("model", result.ModelUsed),
		zap.Bool("should_handoff", result.ShouldHandoff),
		zap.Int("content_length", len(result.Content)))
	return nil
}
