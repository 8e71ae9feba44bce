// Package collaborator holds clients for the external services the pipeline
// delegates to: the mortgage calculation engine, the persona responder, and
// the conversation platform that delivers replies to the end user.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextnest/broker-pipeline/internal/orchestrator"
)

// CalcClient calls the external mortgage calculation engine over HTTP. The
// engine is opaque; it returns a chat-ready explanation plus the structured
// numbers behind it.
type CalcClient struct {
	baseURL string
	client  *http.Client
}

// NewCalcClient creates a calculation engine client. All calls are bounded
// by the given timeout.
func NewCalcClient(baseURL string, timeout time.Duration) *CalcClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CalcClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type calcRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Lead           any    `json:"lead"`
	Persona        any    `json:"persona"`
}

// Calculate sends the request to the engine and decodes the explanation.
func (c *CalcClient) Calculate(ctx context.Context, req *orchestrator.CalculationRequest) (*orchestrator.CalculationResult, error) {
	body, err := json.Marshal(calcRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Lead:           req.Lead,
		Persona:        req.Persona,
	})
	if err != nil {
		return nil, fmt.Errorf("encode calculation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calculate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build calculation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calculation engine call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("calculation engine returned %d: %s", resp.StatusCode, snippet)
	}

	var result orchestrator.CalculationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode calculation response: %w", err)
	}
	if result.ChatResponse == "" {
		return nil, fmt.Errorf("calculation engine returned empty response")
	}
	return &result, nil
}
