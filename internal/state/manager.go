package state

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// TokenBudget configures per-conversation token accounting. The default
// targets a 20-turn conversation at 1,200 tokens per turn.
type TokenBudget struct {
	Total      int
	PerMessage int
	Reserved   int
	Warning    int
}

// DefaultTokenBudget is the standard budget for broker conversations.
var DefaultTokenBudget = TokenBudget{
	Total:      24000,
	PerMessage: 1200,
	Reserved:   2000,
	Warning:    18000,
}

const lockStripes = 64

// Manager owns conversation state reads and writes. A conversation is a
// single-writer resource: turns for the same conversation serialize on a
// striped lock keyed by conversation ID, while different conversations
// proceed independently.
type Manager struct {
	backend Backend
	budget  TokenBudget
	logger  *logger.Logger

	locks [lockStripes]sync.Mutex
}

// NewManager creates a conversation state manager.
func NewManager(backend Backend, budget TokenBudget, log *logger.Logger) *Manager {
	if budget.Total == 0 {
		budget = DefaultTokenBudget
	}
	return &Manager{backend: backend, budget: budget, logger: log}
}

func (m *Manager) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &m.locks[h.Sum32()%lockStripes]
}

// Get returns the state for a conversation, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	data, err := m.backend.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var state model.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	return &state, nil
}

// Initialize creates state for a new conversation from the lead snapshot and
// persona.
func (m *Manager) Initialize(ctx context.Context, conversationID, contactID string, lead model.LeadProfile, persona model.Persona) (*model.ConversationState, error) {
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	state := &model.ConversationState{
		ConversationID: conversationID,
		ContactID:      contactID,
		Phase:          model.PhaseGreeting,
		Lead:           lead,
		Persona:        persona,
		TokenBudget:    m.budget.Total,
		IntentHistory:  []model.Intent{},
		CreatedAt:      now,
		LastMessageAt:  now,
	}

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.Info("conversation state initialized",
		zap.String("conversation_id", conversationID),
		zap.String("persona", persona.Name),
		zap.Int("token_budget", state.TokenBudget),
	)

	return state, nil
}

// TrackMessage records one processed turn: increments the message count,
// accumulates token usage, and appends the intent to the bounded history.
// Must be called exactly once per turn.
func (m *Manager) TrackMessage(ctx context.Context, conversationID string, intent model.Intent, tokensUsed int) (*model.ConversationState, error) {
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	state, err := m.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	state.MessageCount++
	state.TotalTokensUsed += tokensUsed
	state.IntentHistory = append(state.IntentHistory, intent)
	if len(state.IntentHistory) > model.IntentHistoryLimit {
		state.IntentHistory = state.IntentHistory[len(state.IntentHistory)-model.IntentHistoryLimit:]
	}
	state.LastMessageAt = time.Now()

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	usage := float64(state.TotalTokensUsed) / float64(state.TokenBudget) * 100
	m.logger.Debug("turn tracked",
		zap.String("conversation_id", conversationID),
		zap.String("intent", string(intent)),
		zap.Int("message_count", state.MessageCount),
		zap.Int("tokens_used", state.TotalTokensUsed),
		zap.Float64("budget_usage_pct", usage),
	)

	return state, nil
}

// UpdatePhase transitions the conversation to a new phase.
func (m *Manager) UpdatePhase(ctx context.Context, conversationID string, phase model.Phase) error {
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	state, err := m.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	m.logger.Info("phase transition",
		zap.String("conversation_id", conversationID),
		zap.String("from", string(state.Phase)),
		zap.String("to", string(phase)),
	)

	state.Phase = phase
	return m.save(ctx, state)
}

// CloseConversation removes state for an explicitly closed conversation.
// Idle conversations are otherwise garbage-collected by the store TTL.
func (m *Manager) CloseConversation(ctx context.Context, conversationID string) error {
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	return m.backend.Delete(ctx, conversationID)
}

// ApproachingBudgetLimit reports whether usage crossed the warning mark.
func (m *Manager) ApproachingBudgetLimit(state *model.ConversationState) bool {
	return state.TotalTokensUsed >= m.budget.Warning
}

// RemainingBudget returns the unused token budget.
func (m *Manager) RemainingBudget(state *model.ConversationState) int {
	return state.TokenBudget - state.TotalTokensUsed
}

// RecommendedTokenLimit averages the remaining budget across the expected
// remaining turns, clamped to [200, 2000].
func (m *Manager) RecommendedTokenLimit(state *model.ConversationState) int {
	remaining := m.RemainingBudget(state)
	turns := 20 - state.MessageCount
	if turns < 1 {
		turns = 1
	}

	recommended := remaining / turns
	if recommended < 200 {
		return 200
	}
	if recommended > 2000 {
		return 2000
	}
	return recommended
}

// Disconnect releases the backing store.
func (m *Manager) Disconnect() error {
	return m.backend.Close()
}

func (m *Manager) save(ctx context.Context, state *model.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return m.backend.Put(ctx, state.ConversationID, data)
}
