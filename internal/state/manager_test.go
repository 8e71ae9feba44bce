package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	return NewManager(NewMemoryBackend(), DefaultTokenBudget, log)
}

func initConversation(t *testing.T, m *Manager, id string) *model.ConversationState {
	t.Helper()
	state, err := m.Initialize(context.Background(), id, "contact-1",
		model.LeadProfile{Name: "Wei Ming", LeadScore: 60, LoanType: "new_purchase"},
		model.Persona{ID: "p1", Name: "Sarah"},
	)
	require.NoError(t, err)
	return state
}

func TestInitialize(t *testing.T) {
	m := newTestManager(t)
	state := initConversation(t, m, "conv-1")

	require.Equal(t, model.PhaseGreeting, state.Phase)
	require.Equal(t, 24000, state.TokenBudget)
	require.Zero(t, state.MessageCount)
	require.Empty(t, state.IntentHistory)
}

func TestGet_Missing(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTrackMessage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-1")

	state, err := m.TrackMessage(ctx, "conv-1", model.IntentGreeting, 300)
	require.NoError(t, err)
	require.Equal(t, 1, state.MessageCount)
	require.Equal(t, 300, state.TotalTokensUsed)
	require.Equal(t, []model.Intent{model.IntentGreeting}, state.IntentHistory)
}

func TestTrackMessage_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-1")

	intents := []model.Intent{
		model.IntentGreeting,
		model.IntentQuestionRates,
		model.IntentQuestionCalculation,
		model.IntentExpressConcern,
		model.IntentExpressConcern,
		model.IntentReadyToProceed,
	}
	for _, intent := range intents {
		_, err := m.TrackMessage(ctx, "conv-1", intent, 100)
		require.NoError(t, err)
	}

	state, err := m.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, state.IntentHistory, model.IntentHistoryLimit)
	// The oldest intent rolls off.
	require.Equal(t, model.IntentQuestionRates, state.IntentHistory[0])
	require.Equal(t, model.IntentReadyToProceed, state.IntentHistory[4])
}

func TestTrackMessage_ConcurrentTurnsNeverLoseUpdates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-1")

	const turns = 100
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.TrackMessage(ctx, "conv-1", model.IntentProvideInfo, 10)
			require.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	state, err := m.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, turns, state.MessageCount)
	require.Equal(t, turns*10, state.TotalTokensUsed)
}

func TestTrackMessage_DifferentConversationsIndependent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-a")
	initConversation(t, m, "conv-b")

	_, err := m.TrackMessage(ctx, "conv-a", model.IntentGreeting, 100)
	require.NoError(t, err)

	b, err := m.Get(ctx, "conv-b")
	require.NoError(t, err)
	require.Zero(t, b.MessageCount)
}

func TestUpdatePhase(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-1")

	require.NoError(t, m.UpdatePhase(ctx, "conv-1", model.PhaseQualification))

	state, err := m.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, model.PhaseQualification, state.Phase)
}

func TestCloseConversation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	initConversation(t, m, "conv-1")

	require.NoError(t, m.CloseConversation(ctx, "conv-1"))

	_, err := m.Get(ctx, "conv-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBudgetHelpers(t *testing.T) {
	m := newTestManager(t)

	state := &model.ConversationState{TokenBudget: 24000, TotalTokensUsed: 19000, MessageCount: 10}
	require.True(t, m.ApproachingBudgetLimit(state))
	require.Equal(t, 5000, m.RemainingBudget(state))
	require.Equal(t, 500, m.RecommendedTokenLimit(state))

	fresh := &model.ConversationState{TokenBudget: 24000, TotalTokensUsed: 0, MessageCount: 0}
	require.False(t, m.ApproachingBudgetLimit(fresh))
	require.Equal(t, 1200, m.RecommendedTokenLimit(fresh))

	exhausted := &model.ConversationState{TokenBudget: 24000, TotalTokensUsed: 23900, MessageCount: 25}
	require.Equal(t, 200, m.RecommendedTokenLimit(exhausted))
}
