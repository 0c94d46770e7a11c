package escalation

import (
	"context"

	"github.com/ridedesk/internal/chatmodel"
)

// Event types emitted by the manager.
const (
	EventEscalationCreated = "escalation_created"
	EventTicketCreated     = "ticket_created"
	EventTicketUpdated     = "ticket_updated"
)

// Event is one escalation lifecycle notification. Request is nil for
// ticket-only updates; Ticket is nil for driver handoffs.
type Event struct {
	Type    string
	Request *chatmodel.EscalationRequest
	Ticket  *chatmodel.SupportTicket
}

// Handler consumes escalation events.
type Handler func(ctx context.Context, ev Event)
