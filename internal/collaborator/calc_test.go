package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/orchestrator"
)

func TestCalcClientCalculate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/calculate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req calcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "conv-9", req.ConversationID)
		require.Equal(t, "How much can I borrow?", req.Message)

		json.NewEncoder(w).Encode(orchestrator.CalculationResult{
			ChatResponse: "You can borrow up to S$850,000.",
			Figures:      map[string]float64{"max_loan": 850000, "tdsr": 0.55},
		})
	}))
	defer srv.Close()

	c := NewCalcClient(srv.URL, 5*time.Second)
	result, err := c.Calculate(context.Background(), &orchestrator.CalculationRequest{
		ConversationID: "conv-9",
		Message:        "How much can I borrow?",
		Lead:           model.LeadProfile{Name: "Sarah", MonthlyIncome: 9000},
	})
	require.NoError(t, err)
	require.Equal(t, "You can borrow up to S$850,000.", result.ChatResponse)
	require.InDelta(t, 850000, result.Figures["max_loan"], 0.001)
}

func TestCalcClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCalcClient(srv.URL, 5*time.Second)
	_, err := c.Calculate(context.Background(), &orchestrator.CalculationRequest{ConversationID: "conv-9"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestCalcClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewCalcClient(srv.URL, 5*time.Second)
	_, err := c.Calculate(context.Background(), &orchestrator.CalculationRequest{ConversationID: "conv-9"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
}

func TestCalcClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"chat_response":"late"}`))
	}))
	defer srv.Close()

	c := NewCalcClient(srv.URL, 50*time.Millisecond)
	_, err := c.Calculate(context.Background(), &orchestrator.CalculationRequest{ConversationID: "conv-9"})
	require.Error(t, err)
}

func TestHTTPSinkDeliver(t *testing.T) {
	var got deliveryPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, 5*time.Second)
	job := &model.Job{ID: "msg-1", ConversationID: "conv-9"}
	err := sink.Deliver(context.Background(), job, &orchestrator.Result{
		Content:       "Happy to help!",
		ModelUsed:     "gpt-4o-mini",
		Intent:        "greeting",
		ShouldHandoff: true,
		HandoffReason: "Customer requested human agent",
	})
	require.NoError(t, err)
	require.Equal(t, "conv-9", got.ConversationID)
	require.Equal(t, "msg-1", got.MessageID)
	require.Equal(t, "Happy to help!", got.Content)
	require.True(t, got.ShouldHandoff)
}

func TestHTTPSinkDeliverRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "conversation closed", http.StatusConflict)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, 5*time.Second)
	err := sink.Deliver(context.Background(), &model.Job{ID: "msg-1", ConversationID: "conv-9"}, &orchestrator.Result{Content: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
}
