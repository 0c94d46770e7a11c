package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ridedesk/internal/chatmodel"
)

// conversationRecord pairs a conversation with its message log and the
// per-conversation lock that serializes appends and counter updates.
type conversationRecord struct {
	mu           sync.Mutex
	conversation *chatmodel.Conversation
	messages     []*chatmodel.Message
}

// MemoryConversationStore is the single-process reference store. The outer
// RWMutex guards the map only; per-conversation mutation goes through each
// record's own mutex so independent conversations never contend.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationRecord
	now           func() time.Time
}

// NewMemoryConversationStore builds an empty in-memory store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*conversationRecord),
		now:           time.Now,
	}
}

func (s *MemoryConversationStore) Create(ctx context.Context, bookingID, userID, driverID string) (*chatmodel.Conversation, error) {
	now := s.now()
	conv := &chatmodel.Conversation{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		UserID:    userID,
		DriverID:  driverID,
		Status:    chatmodel.ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = &conversationRecord{conversation: conv}
	s.mu.Unlock()

	return cloneConversation(conv), nil
}

func (s *MemoryConversationStore) record(id string) (*conversationRecord, error) {
	s.mu.RLock()
	rec, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, chatmodel.ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*chatmodel.Conversation, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneConversation(rec.conversation), nil
}

func (s *MemoryConversationStore) ByUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chatmodel.Conversation
	for _, rec := range s.conversations {
		rec.mu.Lock()
		if rec.conversation.UserID == userID {
			out = append(out, cloneConversation(rec.conversation))
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, conversationID string, sender chatmodel.SenderRole, text string, metadata *chatmodel.MessageMetadata) (*chatmodel.Message, error) {
	rec, err := s.record(conversationID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	msg := &chatmodel.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Timestamp:      s.now(),
		Metadata:       metadata,
	}
	rec.messages = append(rec.messages, msg)
	rec.conversation.UpdatedAt = msg.Timestamp
	return msg, nil
}

func (s *MemoryConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]*chatmodel.Message, error) {
	rec, err := s.record(conversationID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*chatmodel.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryConversationStore) SetStatus(ctx context.Context, id string, status chatmodel.ConversationStatus) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return setStatusLocked(rec.conversation, status, s.now())
}

// setStatusLocked enforces the monotonic transition rules: never backward,
// never out of closed; escalated may be re-entered.
func setStatusLocked(conv *chatmodel.Conversation, status chatmodel.ConversationStatus, now time.Time) error {
	if status.Rank() < 0 {
		return fmt.Errorf("status %q: %w", status, chatmodel.ErrInvalidTransition)
	}
	if conv.Status == chatmodel.ConversationClosed && status != chatmodel.ConversationClosed {
		return fmt.Errorf("conversation closed: %w", chatmodel.ErrInvalidTransition)
	}
	if status.Rank() < conv.Status.Rank() {
		return fmt.Errorf("%s -> %s: %w", conv.Status, status, chatmodel.ErrInvalidTransition)
	}
	conv.Status = status
	conv.UpdatedAt = now
	return nil
}

func (s *MemoryConversationStore) Escalate(ctx context.Context, id string, kind chatmodel.EscalationKind) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	conv := rec.conversation
	switch conv.Status {
	case chatmodel.ConversationActive, chatmodel.ConversationEscalated:
		conv.Status = chatmodel.ConversationEscalated
		conv.EscalationKind = kind
		conv.UpdatedAt = s.now()
		return nil
	default:
		return fmt.Errorf("escalate from %s: %w", conv.Status, chatmodel.ErrInvalidTransition)
	}
}

func (s *MemoryConversationStore) Close(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, chatmodel.ConversationClosed)
}

func (s *MemoryConversationStore) SetContactAttempts(ctx context.Context, id string, attempts int) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.conversation.ContactAttempts = attempts
	rec.conversation.UpdatedAt = s.now()
	return nil
}

func cloneConversation(c *chatmodel.Conversation) *chatmodel.Conversation {
	clone := *c
	return &clone
}

// MemoryEscalationStore keeps escalation requests and tickets in maps.
type MemoryEscalationStore struct {
	mu       sync.RWMutex
	requests map[string]*chatmodel.EscalationRequest
	tickets  map[string]*chatmodel.SupportTicket
}

// NewMemoryEscalationStore builds an empty in-memory escalation store.
func NewMemoryEscalationStore() *MemoryEscalationStore {
	return &MemoryEscalationStore{
		requests: make(map[string]*chatmodel.EscalationRequest),
		tickets:  make(map[string]*chatmodel.SupportTicket),
	}
}

func (s *MemoryEscalationStore) CreateRequest(ctx context.Context, req *chatmodel.EscalationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryEscalationStore) GetRequest(ctx context.Context, id string) (*chatmodel.EscalationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("escalation request %s: %w", id, chatmodel.ErrNotFound)
	}
	return req, nil
}

func (s *MemoryEscalationStore) CreateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *ticket
	s.tickets[ticket.ID] = &clone
	return nil
}

func (s *MemoryEscalationStore) GetTicket(ctx context.Context, id string) (*chatmodel.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, chatmodel.ErrNotFound)
	}
	clone := *ticket
	return &clone, nil
}

func (s *MemoryEscalationStore) UpdateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticket.ID]; !ok {
		return fmt.Errorf("ticket %s: %w", ticket.ID, chatmodel.ErrNotFound)
	}
	clone := *ticket
	s.tickets[ticket.ID] = &clone
	return nil
}

func (s *MemoryEscalationStore) TicketsByUser(ctx context.Context, userID string) ([]*chatmodel.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chatmodel.SupportTicket
	for _, t := range s.tickets {
		if t.UserID == userID {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
