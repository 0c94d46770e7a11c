// Package store owns conversation and escalation persistence behind small
// interfaces so the in-memory reference store can be swapped for Postgres
// without touching the orchestrator, flow engine or escalation manager.
package store

import (
	"context"

	"github.com/ridedesk/internal/chatmodel"
)

// ConversationStore owns conversations and their append-only message logs.
// Implementations must serialize appends per conversation and be safe for
// concurrent access across conversations.
type ConversationStore interface {
	Create(ctx context.Context, bookingID, userID, driverID string) (*chatmodel.Conversation, error)
	Get(ctx context.Context, id string) (*chatmodel.Conversation, error)
	ByUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error)

	// AppendMessage adds a message at the tail of the conversation log.
	// Returns chatmodel.ErrNotFound for an unknown conversation.
	AppendMessage(ctx context.Context, conversationID string, sender chatmodel.SenderRole, text string, metadata *chatmodel.MessageMetadata) (*chatmodel.Message, error)

	// Messages returns messages in insertion order. limit <= 0 means all;
	// otherwise only the trailing limit messages are returned.
	Messages(ctx context.Context, conversationID string, limit int) ([]*chatmodel.Message, error)

	// SetStatus applies a status change, enforcing monotonic progression
	// toward closed (escalated may be re-entered, closed is terminal).
	SetStatus(ctx context.Context, id string, status chatmodel.ConversationStatus) error

	// Escalate marks the conversation escalated with the given kind.
	Escalate(ctx context.Context, id string, kind chatmodel.EscalationKind) error

	// Close terminates the conversation.
	Close(ctx context.Context, id string) error

	// SetContactAttempts persists the cannot-reach counter for the next turn.
	SetContactAttempts(ctx context.Context, id string, attempts int) error
}

// EscalationStore owns escalation requests (append-only) and support tickets.
type EscalationStore interface {
	CreateRequest(ctx context.Context, req *chatmodel.EscalationRequest) error
	GetRequest(ctx context.Context, id string) (*chatmodel.EscalationRequest, error)

	CreateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error
	GetTicket(ctx context.Context, id string) (*chatmodel.SupportTicket, error)
	UpdateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error
	TicketsByUser(ctx context.Context, userID string) ([]*chatmodel.SupportTicket, error)
}
