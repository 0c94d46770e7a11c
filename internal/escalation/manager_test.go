package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryConversationStore, *chatmodel.Conversation) {
	t.Helper()
	conversations := store.NewMemoryConversationStore()
	escalations := store.NewMemoryEscalationStore()
	m := NewManager(conversations, escalations)
	t.Cleanup(m.Close)

	conv, err := conversations.Create(context.Background(), "bk-1", "u1", "drv-1")
	require.NoError(t, err)
	return m, conversations, conv
}

func TestEscalateRecordsTranscript(t *testing.T) {
	m, conversations, conv := newTestManager(t)
	ctx := context.Background()

	_, err := conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderUser, "where is my ride", &chatmodel.MessageMetadata{
		Intent: chatmodel.IntentWhereIsRide, Confidence: 0.92,
	})
	require.NoError(t, err)
	_, err = conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderBot, "your driver is 5 minutes away", nil)
	require.NoError(t, err)

	req, ticket, err := m.Escalate(ctx, conv.ID, chatmodel.EscalateSupport, "user asked for a human", chatmodel.PriorityMedium)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.NotNil(t, ticket)

	transcript, ok := req.Context["transcript"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, transcript, 2)
	assert.Equal(t, "where is my ride", transcript[0]["text"])
	assert.Equal(t, "user", transcript[0]["sender"])
	assert.Equal(t, string(chatmodel.IntentWhereIsRide), transcript[0]["intent"])

	got, err := conversations.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, chatmodel.ConversationEscalated, got.Status)
	assert.Equal(t, chatmodel.EscalateSupport, got.EscalationKind)
}

func TestSafetyEscalationForcesCriticalPriority(t *testing.T) {
	m, _, conv := newTestManager(t)

	req, ticket, err := m.Escalate(context.Background(), conv.ID, chatmodel.EscalateSafety, "safety keyword detected", chatmodel.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, chatmodel.PriorityCritical, req.Priority)
	require.NotNil(t, ticket)
	assert.Equal(t, chatmodel.PriorityCritical, ticket.Priority)
}

func TestDriverEscalationOpensNoTicket(t *testing.T) {
	m, _, conv := newTestManager(t)

	req, ticket, err := m.Escalate(context.Background(), conv.ID, chatmodel.EscalateDriver, "rider asked driver to be contacted", chatmodel.PriorityLow)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Nil(t, ticket)
}

func TestEscalateUnknownConversation(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, _, err := m.Escalate(context.Background(), "missing", chatmodel.EscalateSupport, "x", chatmodel.PriorityLow)
	assert.ErrorIs(t, err, chatmodel.ErrNotFound)
}

func TestTicketLifecycleForwardOnly(t *testing.T) {
	m, conversations, conv := newTestManager(t)
	ctx := context.Background()

	_, ticket, err := m.Escalate(ctx, conv.ID, chatmodel.EscalateSupport, "needs a human", chatmodel.PriorityHigh)
	require.NoError(t, err)
	require.NotNil(t, ticket)

	updated, err := m.UpdateTicketStatus(ctx, ticket.ID, chatmodel.TicketInProgress, "agent-3", "")
	require.NoError(t, err)
	assert.Equal(t, chatmodel.TicketInProgress, updated.Status)
	assert.Equal(t, "agent-3", updated.AssignedAgentID)
	assert.Nil(t, updated.ResolvedAt)

	// Backward is rejected.
	_, err = m.UpdateTicketStatus(ctx, ticket.ID, chatmodel.TicketOpen, "", "")
	assert.ErrorIs(t, err, chatmodel.ErrInvalidTransition)

	resolved, err := m.UpdateTicketStatus(ctx, ticket.ID, chatmodel.TicketResolved, "", "driver called the rider back")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "driver called the rider back", resolved.Resolution)

	got, err := conversations.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, chatmodel.ConversationResolved, got.Status)

	firstResolvedAt := *resolved.ResolvedAt
	closed, err := m.UpdateTicketStatus(ctx, ticket.ID, chatmodel.TicketClosed, "", "")
	require.NoError(t, err)
	require.NotNil(t, closed.ResolvedAt)
	assert.Equal(t, firstResolvedAt, *closed.ResolvedAt, "resolution time stamped once")
}

func TestEventsDispatchedAndHandlerPanicsIsolated(t *testing.T) {
	m, _, conv := newTestManager(t)
	ctx := context.Background()

	m.OnEvent(func(ctx context.Context, ev Event) { panic("bad listener") })
	seen := make(chan string, 8)
	m.OnEvent(func(ctx context.Context, ev Event) { seen <- ev.Type })

	_, ticket, err := m.Escalate(ctx, conv.ID, chatmodel.EscalateSafety, "emergency", chatmodel.PriorityCritical)
	require.NoError(t, err)
	_, err = m.UpdateTicketStatus(ctx, ticket.ID, chatmodel.TicketInProgress, "agent-1", "")
	require.NoError(t, err)

	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-seen:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events: %v", len(got), got)
		}
	}
	assert.Equal(t, []string{EventEscalationCreated, EventTicketCreated, EventTicketUpdated}, got)
}
