// Package chatmodel holds the domain types shared across the support chat
// pipeline: conversations, messages, safety events, escalation requests and
// support tickets.
package chatmodel

import (
	"time"
)

// Intent is one label from the fixed closed set of request categories.
type Intent string

const (
	IntentWhereIsRide       Intent = "where_is_ride"
	IntentRideLate          Intent = "ride_late"
	IntentCannotReachDriver Intent = "cannot_reach_driver"
	IntentCancelBooking     Intent = "cancel_booking"
	IntentPaymentQuestion   Intent = "payment_question"
	IntentSafetyConcern     Intent = "safety_concern"
	IntentCallDriver        Intent = "call_driver"
	IntentMessageDriver     Intent = "message_driver"
	IntentHumanAgent        Intent = "human_agent"
	IntentUnknown           Intent = "unknown"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	SenderUser         SenderRole = "user"
	SenderBot          SenderRole = "bot"
	SenderDriver       SenderRole = "driver"
	SenderSupportAgent SenderRole = "support_agent"
)

// ConversationStatus tracks the lifecycle of a conversation. Transitions are
// monotonic toward closed, except that an escalated conversation may be
// escalated again (e.g. a second safety event).
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationEscalated ConversationStatus = "escalated"
	ConversationResolved  ConversationStatus = "resolved"
	ConversationClosed    ConversationStatus = "closed"
)

// Rank orders conversation statuses for monotonicity checks.
func (s ConversationStatus) Rank() int {
	switch s {
	case ConversationActive:
		return 0
	case ConversationEscalated:
		return 1
	case ConversationResolved:
		return 2
	case ConversationClosed:
		return 3
	}
	return -1
}

// EscalationKind is the non-bot channel a conversation is handed off to.
type EscalationKind string

const (
	EscalateDriver  EscalationKind = "driver"
	EscalateSupport EscalationKind = "support"
	EscalateSafety  EscalationKind = "safety"
)

// MessageMetadata carries per-message classification details used for the
// human handoff audit trail. FlowType records which flow actually ran, which
// can differ from Intent when a low-confidence turn falls back to
// clarification. Severity is stamped on user messages that matched safety
// keywords.
type MessageMetadata struct {
	Intent     Intent   `json:"intent,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	FlowType   Intent   `json:"flow_type,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Escalated  bool     `json:"escalated,omitempty"`
	LatencyMs  int64    `json:"latency_ms,omitempty"`
}

// Message is a single entry in a conversation. Messages are immutable once
// appended; the log is never edited or truncated.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Sender         SenderRole       `json:"sender"`
	Text           string           `json:"text"`
	Timestamp      time.Time        `json:"timestamp"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
}

// Conversation is the aggregate owned by the conversation store. Messages are
// kept separately by the store; ContactAttempts is the cross-turn counter used
// by the cannot-reach flow.
type Conversation struct {
	ID              string             `json:"id"`
	BookingID       string             `json:"booking_id"`
	UserID          string             `json:"user_id"`
	DriverID        string             `json:"driver_id,omitempty"`
	AssignedAgentID string             `json:"assigned_agent_id,omitempty"`
	Status          ConversationStatus `json:"status"`
	EscalationKind  EscalationKind     `json:"escalation_kind,omitempty"`
	ContactAttempts int                `json:"contact_attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Severity is the ordered safety-risk level of a keyword match.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; critical is highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// SafetyEventStatus tracks a safety event from detection to resolution.
type SafetyEventStatus string

const (
	SafetyDetected  SafetyEventStatus = "detected"
	SafetyEscalated SafetyEventStatus = "escalated"
	SafetyResolved  SafetyEventStatus = "resolved"
)

// SafetyEvent records a keyword match on a user turn. Severity is the maximum
// across all matched keywords.
type SafetyEvent struct {
	ID              string            `json:"id"`
	ConversationID  string            `json:"conversation_id"`
	UserID          string            `json:"user_id"`
	DriverID        string            `json:"driver_id,omitempty"`
	Severity        Severity          `json:"severity"`
	MatchedKeywords []string          `json:"matched_keywords"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          SafetyEventStatus `json:"status"`
}

// RequiresEscalation reports whether the event must be escalated. Low severity
// is logged only; medium and above always escalate.
func (e *SafetyEvent) RequiresEscalation() bool {
	return e.Severity.Rank() >= SeverityMedium.Rank()
}

// Priority is the urgency attached to an escalation request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EscalationRequest is the append-only audit record of a handoff. Context
// always includes the full chat transcript at time of escalation.
type EscalationRequest struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	BookingID      string                 `json:"booking_id"`
	UserID         string                 `json:"user_id"`
	Kind           EscalationKind         `json:"kind"`
	Reason         string                 `json:"reason"`
	Priority       Priority               `json:"priority"`
	CreatedAt      time.Time              `json:"created_at"`
	Context        map[string]interface{} `json:"context"`
}

// TicketStatus tracks a support ticket. Progression is forward-only.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// Rank orders ticket statuses for the forward-only check.
func (s TicketStatus) Rank() int {
	switch s {
	case TicketOpen:
		return 0
	case TicketInProgress:
		return 1
	case TicketResolved:
		return 2
	case TicketClosed:
		return 3
	}
	return -1
}

// Terminal reports whether the status stamps a resolution time.
func (s TicketStatus) Terminal() bool {
	return s == TicketResolved || s == TicketClosed
}

// SupportTicket is created for support and safety escalations and updated by
// human-side tooling through explicit status-update calls.
type SupportTicket struct {
	ID                  string       `json:"id"`
	EscalationRequestID string       `json:"escalation_request_id"`
	ConversationID      string       `json:"conversation_id"`
	UserID              string       `json:"user_id"`
	Priority            Priority     `json:"priority"`
	Status              TicketStatus `json:"status"`
	AssignedAgentID     string       `json:"assigned_agent_id,omitempty"`
	Resolution          string       `json:"resolution,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	ResolvedAt          *time.Time   `json:"resolved_at,omitempty"`
}

// IntentEntities holds values extracted from the user text alongside the
// intent label.
type IntentEntities struct {
	Minutes []int `json:"minutes,omitempty"`
	Urgent  bool  `json:"urgent,omitempty"`
}

// IntentResult is the output of one classification call. It is ephemeral and
// only referenced through message metadata.
type IntentResult struct {
	Intent      Intent         `json:"intent"`
	Confidence  float64        `json:"confidence"`
	Entities    IntentEntities `json:"entities"`
	QuickAction string         `json:"quick_action,omitempty"`
}

// SuggestedAction is a button-style follow-up offered to the user.
type SuggestedAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Suggested action identifiers used across flows and the API surface.
const (
	ActionCallDriver    = "call_driver"
	ActionMessageDriver = "message_driver"
	ActionReportLate    = "report_late"
	ActionCancelBooking = "cancel_booking"
	ActionConfirmCancel = "confirm_cancel"
	ActionKeepBooking   = "keep_booking"
	ActionTalkToAgent   = "talk_to_agent"
	ActionAcknowledge   = "acknowledge"
	ActionRetryCall     = "retry_call"
	ActionWait          = "wait"
	ActionWhereIsRide   = "where_is_ride"
)

// FlowResult is the output of a single flow execution. ContactAttempts is the
// updated cannot-reach counter the caller must persist for the next turn.
type FlowResult struct {
	Success         bool
	Message         string
	Actions         []SuggestedAction
	Escalate        bool
	EscalationKind  EscalationKind
	ContactAttempts int
}
