// Package escalation owns the handoff from bot to humans: it records
// escalation requests with a full transcript snapshot, opens support tickets
// for the kinds that need one, and notifies downstream listeners.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/store"
)

// Manager creates escalation requests and tickets. Lifecycle events go out
// through a buffered queue drained by a single dispatcher goroutine, so
// slow or broken listeners never sit on the escalating request path.
type Manager struct {
	conversations store.ConversationStore
	escalations   store.EscalationStore

	mu       sync.RWMutex
	handlers []Handler

	events    chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once

	now func() time.Time
}

// NewManager wires the manager to its stores and starts the event dispatcher.
func NewManager(conversations store.ConversationStore, escalations store.EscalationStore) *Manager {
	m := &Manager{
		conversations: conversations,
		escalations:   escalations,
		events:        make(chan Event, 64),
		now:           time.Now,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// OnEvent registers a handler for escalation lifecycle events. Handlers run
// on the dispatcher goroutine in publish order; a panicking handler is logged
// and skipped so one bad listener cannot block a safety handoff.
func (m *Manager) OnEvent(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Close drains the event queue and stops the dispatcher. The manager must not
// be used after Close.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.events) })
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()
	for ev := range m.events {
		m.deliver(ev)
	}
}

// Escalate records a handoff for the conversation. The request context always
// carries the full transcript at time of escalation. Safety escalations are
// forced to critical priority regardless of what the caller asked for.
// Support and safety escalations additionally open a ticket; driver handoffs
// do not.
func (m *Manager) Escalate(ctx context.Context, conversationID string, kind chatmodel.EscalationKind, reason string, priority chatmodel.Priority) (*chatmodel.EscalationRequest, *chatmodel.SupportTicket, error) {
	conv, err := m.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := m.conversations.Messages(ctx, conversationID, 0)
	if err != nil {
		return nil, nil, err
	}

	if kind == chatmodel.EscalateSafety {
		priority = chatmodel.PriorityCritical
	}
	if priority == "" {
		priority = chatmodel.PriorityMedium
	}

	now := m.now()
	req := &chatmodel.EscalationRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		BookingID:      conv.BookingID,
		UserID:         conv.UserID,
		Kind:           kind,
		Reason:         reason,
		Priority:       priority,
		CreatedAt:      now,
		Context: map[string]interface{}{
			"booking_id": conv.BookingID,
			"driver_id":  conv.DriverID,
			"transcript": transcript(msgs),
		},
	}
	if err := m.escalations.CreateRequest(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("failed to record escalation: %w", err)
	}

	if err := m.conversations.Escalate(ctx, conversationID, kind); err != nil {
		// The request is already recorded; a conversation past the point of
		// escalation (resolved, closed) keeps its state.
		if !errors.Is(err, chatmodel.ErrInvalidTransition) {
			return nil, nil, err
		}
		log.Warn().
			Str("conversation_id", conversationID).
			Str("kind", string(kind)).
			Msg("escalation recorded for conversation past active state")
	}

	var ticket *chatmodel.SupportTicket
	if kind == chatmodel.EscalateSupport || kind == chatmodel.EscalateSafety {
		ticket = &chatmodel.SupportTicket{
			ID:                  uuid.NewString(),
			EscalationRequestID: req.ID,
			ConversationID:      conversationID,
			UserID:              conv.UserID,
			Priority:            priority,
			Status:              chatmodel.TicketOpen,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := m.escalations.CreateTicket(ctx, ticket); err != nil {
			return nil, nil, fmt.Errorf("failed to open ticket: %w", err)
		}
	}

	log.Info().
		Str("conversation_id", conversationID).
		Str("escalation_id", req.ID).
		Str("kind", string(kind)).
		Str("priority", string(priority)).
		Msg("conversation escalated")

	m.publish(Event{Type: EventEscalationCreated, Request: req, Ticket: ticket})
	if ticket != nil {
		m.publish(Event{Type: EventTicketCreated, Request: req, Ticket: ticket})
	}
	return req, ticket, nil
}

// UpdateTicketStatus moves a ticket forward. Backward transitions are
// rejected; moving into resolved or closed stamps ResolvedAt once.
func (m *Manager) UpdateTicketStatus(ctx context.Context, ticketID string, status chatmodel.TicketStatus, agentID, resolution string) (*chatmodel.SupportTicket, error) {
	ticket, err := m.escalations.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if status.Rank() < 0 {
		return nil, fmt.Errorf("ticket status %q: %w", status, chatmodel.ErrInvalidTransition)
	}
	if status.Rank() < ticket.Status.Rank() {
		return nil, fmt.Errorf("ticket %s -> %s: %w", ticket.Status, status, chatmodel.ErrInvalidTransition)
	}

	now := m.now()
	ticket.Status = status
	ticket.UpdatedAt = now
	if agentID != "" {
		ticket.AssignedAgentID = agentID
	}
	if resolution != "" {
		ticket.Resolution = resolution
	}
	if status.Terminal() && ticket.ResolvedAt == nil {
		ticket.ResolvedAt = &now
	}

	if err := m.escalations.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	if status == chatmodel.TicketResolved {
		if err := m.conversations.SetStatus(ctx, ticket.ConversationID, chatmodel.ConversationResolved); err != nil && !errors.Is(err, chatmodel.ErrInvalidTransition) {
			return nil, err
		}
	}

	m.publish(Event{Type: EventTicketUpdated, Ticket: ticket})
	return ticket, nil
}

// Request looks up an escalation request by ID.
func (m *Manager) Request(ctx context.Context, id string) (*chatmodel.EscalationRequest, error) {
	return m.escalations.GetRequest(ctx, id)
}

// Ticket looks up a ticket by ID.
func (m *Manager) Ticket(ctx context.Context, id string) (*chatmodel.SupportTicket, error) {
	return m.escalations.GetTicket(ctx, id)
}

// TicketsByUser lists a user's tickets, oldest first.
func (m *Manager) TicketsByUser(ctx context.Context, userID string) ([]*chatmodel.SupportTicket, error) {
	return m.escalations.TicketsByUser(ctx, userID)
}

func (m *Manager) publish(ev Event) {
	m.events <- ev
}

// deliver runs on the dispatcher goroutine. The originating request context
// is gone by the time an event is drained, so handlers get a fresh one.
func (m *Manager) deliver(ev Event) {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	ctx := context.Background()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event", ev.Type).
						Msg("escalation event handler panicked")
				}
			}()
			h(ctx, ev)
		}()
	}
}

// transcript flattens the message log into plain structures for the
// escalation context blob handed to human tooling.
func transcript(msgs []*chatmodel.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		entry := map[string]interface{}{
			"sender":    string(msg.Sender),
			"text":      msg.Text,
			"timestamp": msg.Timestamp,
		}
		if msg.Metadata != nil {
			entry["intent"] = string(msg.Metadata.Intent)
			entry["confidence"] = msg.Metadata.Confidence
		}
		out = append(out, entry)
	}
	return out
}
