package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ridedesk/internal/chatmodel"
)

// OpenPostgres opens and pings a Postgres connection.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the chat tables if they do not exist. A real
// deployment would run migrations instead; this keeps the swap-in store
// self-contained.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		driver_id TEXT,
		assigned_agent_id TEXT,
		status TEXT NOT NULL,
		escalation_kind TEXT,
		contact_attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq BIGSERIAL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	CREATE TABLE IF NOT EXISTS escalation_requests (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT,
		priority TEXT NOT NULL,
		context JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS support_tickets (
		id TEXT PRIMARY KEY,
		escalation_request_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_agent_id TEXT,
		resolution TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PostgresConversationStore is the swap-in backing store. Per-conversation
// serialization relies on the orchestrator's turn lock plus row-level
// ordering by the messages seq column.
type PostgresConversationStore struct {
	db *sql.DB
}

// NewPostgresConversationStore wraps an open connection.
func NewPostgresConversationStore(db *sql.DB) *PostgresConversationStore {
	return &PostgresConversationStore{db: db}
}

func (s *PostgresConversationStore) Create(ctx context.Context, bookingID, userID, driverID string) (*chatmodel.Conversation, error) {
	conv := &chatmodel.Conversation{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		UserID:    userID,
		DriverID:  driverID,
		Status:    chatmodel.ConversationActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, booking_id, user_id, driver_id, status, contact_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, 0, $6, $6)`,
		conv.ID, bookingID, userID, driverID, conv.Status, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) Get(ctx context.Context, id string) (*chatmodel.Conversation, error) {
	var conv chatmodel.Conversation
	var driverID, agentID, kind sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_id, user_id, driver_id, assigned_agent_id, status, escalation_kind, contact_attempts, created_at, updated_at
		FROM conversations WHERE id = $1`, id).Scan(
		&conv.ID, &conv.BookingID, &conv.UserID, &driverID, &agentID,
		&conv.Status, &kind, &conv.ContactAttempts, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, chatmodel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.DriverID = driverID.String
	conv.AssignedAgentID = agentID.String
	conv.EscalationKind = chatmodel.EscalationKind(kind.String)
	return &conv, nil
}

func (s *PostgresConversationStore) ByUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, user_id, driver_id, assigned_agent_id, status, escalation_kind, contact_attempts, created_at, updated_at
		FROM conversations WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*chatmodel.Conversation
	for rows.Next() {
		var conv chatmodel.Conversation
		var driverID, agentID, kind sql.NullString
		if err := rows.Scan(&conv.ID, &conv.BookingID, &conv.UserID, &driverID, &agentID,
			&conv.Status, &kind, &conv.ContactAttempts, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.DriverID = driverID.String
		conv.AssignedAgentID = agentID.String
		conv.EscalationKind = chatmodel.EscalationKind(kind.String)
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (s *PostgresConversationStore) AppendMessage(ctx context.Context, conversationID string, sender chatmodel.SenderRole, text string, metadata *chatmodel.MessageMetadata) (*chatmodel.Message, error) {
	msg := &chatmodel.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Timestamp:      time.Now(),
		Metadata:       metadata,
	}

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, body, metadata, created_at)
		SELECT $1, id, $3, $4, $5, $6 FROM conversations WHERE id = $2`,
		msg.ID, conversationID, sender, text, metadataJSON, msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chatmodel.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		conversationID, msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	return msg, nil
}

func (s *PostgresConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]*chatmodel.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, conversation_id, sender, body, metadata, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY seq`
	args := []interface{}{conversationID}
	if limit > 0 {
		query = `
		SELECT id, conversation_id, sender, body, metadata, created_at FROM (
			SELECT id, conversation_id, sender, body, metadata, created_at, seq
			FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2
		) tail ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*chatmodel.Message
	for rows.Next() {
		var msg chatmodel.Message
		var metadataJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &metadataJSON, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(metadataJSON) > 0 {
			var md chatmodel.MessageMetadata
			if err := json.Unmarshal(metadataJSON, &md); err == nil {
				msg.Metadata = &md
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *PostgresConversationStore) SetStatus(ctx context.Context, id string, status chatmodel.ConversationStatus) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := setStatusLocked(conv, status, time.Now()); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, conv.Status, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) Escalate(ctx context.Context, id string, kind chatmodel.EscalationKind) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if conv.Status != chatmodel.ConversationActive && conv.Status != chatmodel.ConversationEscalated {
		return fmt.Errorf("escalate from %s: %w", conv.Status, chatmodel.ErrInvalidTransition)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET status = $2, escalation_kind = $3, updated_at = $4 WHERE id = $1`,
		id, chatmodel.ConversationEscalated, kind, time.Now())
	if err != nil {
		return fmt.Errorf("failed to escalate conversation: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) Close(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, chatmodel.ConversationClosed)
}

func (s *PostgresConversationStore) SetContactAttempts(ctx context.Context, id string, attempts int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET contact_attempts = $2, updated_at = $3 WHERE id = $1`,
		id, attempts, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update contact attempts: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, chatmodel.ErrNotFound)
	}
	return nil
}

// PostgresEscalationStore persists escalation requests and tickets.
type PostgresEscalationStore struct {
	db *sql.DB
}

// NewPostgresEscalationStore wraps an open connection.
func NewPostgresEscalationStore(db *sql.DB) *PostgresEscalationStore {
	return &PostgresEscalationStore{db: db}
}

func (s *PostgresEscalationStore) CreateRequest(ctx context.Context, req *chatmodel.EscalationRequest) error {
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_requests (id, conversation_id, booking_id, user_id, kind, reason, priority, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.ConversationID, req.BookingID, req.UserID, req.Kind, req.Reason, req.Priority, contextJSON, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escalation request: %w", err)
	}
	return nil
}

func (s *PostgresEscalationStore) GetRequest(ctx context.Context, id string) (*chatmodel.EscalationRequest, error) {
	var req chatmodel.EscalationRequest
	var reason sql.NullString
	var contextJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, booking_id, user_id, kind, reason, priority, context, created_at
		FROM escalation_requests WHERE id = $1`, id).Scan(
		&req.ID, &req.ConversationID, &req.BookingID, &req.UserID, &req.Kind, &reason, &req.Priority, &contextJSON, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escalation request %s: %w", id, chatmodel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation request: %w", err)
	}
	req.Reason = reason.String
	if len(contextJSON) > 0 {
		_ = json.Unmarshal(contextJSON, &req.Context)
	}
	return &req, nil
}

func (s *PostgresEscalationStore) CreateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO support_tickets (id, escalation_request_id, conversation_id, user_id, priority, status, assigned_agent_id, resolution, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)`,
		ticket.ID, ticket.EscalationRequestID, ticket.ConversationID, ticket.UserID, ticket.Priority,
		ticket.Status, ticket.AssignedAgentID, ticket.Resolution, ticket.CreatedAt, ticket.UpdatedAt, ticket.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (s *PostgresEscalationStore) GetTicket(ctx context.Context, id string) (*chatmodel.SupportTicket, error) {
	var ticket chatmodel.SupportTicket
	var agentID, resolution sql.NullString
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, escalation_request_id, conversation_id, user_id, priority, status, assigned_agent_id, resolution, created_at, updated_at, resolved_at
		FROM support_tickets WHERE id = $1`, id).Scan(
		&ticket.ID, &ticket.EscalationRequestID, &ticket.ConversationID, &ticket.UserID, &ticket.Priority,
		&ticket.Status, &agentID, &resolution, &ticket.CreatedAt, &ticket.UpdatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket %s: %w", id, chatmodel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	ticket.AssignedAgentID = agentID.String
	ticket.Resolution = resolution.String
	if resolvedAt.Valid {
		ticket.ResolvedAt = &resolvedAt.Time
	}
	return &ticket, nil
}

func (s *PostgresEscalationStore) UpdateTicket(ctx context.Context, ticket *chatmodel.SupportTicket) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE support_tickets
		SET status = $2, assigned_agent_id = NULLIF($3, ''), resolution = NULLIF($4, ''), updated_at = $5, resolved_at = $6
		WHERE id = $1`,
		ticket.ID, ticket.Status, ticket.AssignedAgentID, ticket.Resolution, ticket.UpdatedAt, ticket.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("ticket %s: %w", ticket.ID, chatmodel.ErrNotFound)
	}
	return nil
}

func (s *PostgresEscalationStore) TicketsByUser(ctx context.Context, userID string) ([]*chatmodel.SupportTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, escalation_request_id, conversation_id, user_id, priority, status, assigned_agent_id, resolution, created_at, updated_at, resolved_at
		FROM support_tickets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var out []*chatmodel.SupportTicket
	for rows.Next() {
		var ticket chatmodel.SupportTicket
		var agentID, resolution sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&ticket.ID, &ticket.EscalationRequestID, &ticket.ConversationID, &ticket.UserID,
			&ticket.Priority, &ticket.Status, &agentID, &resolution, &ticket.CreatedAt, &ticket.UpdatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		ticket.AssignedAgentID = agentID.String
		ticket.Resolution = resolution.String
		if resolvedAt.Valid {
			ticket.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, &ticket)
	}
	return out, rows.Err()
}
