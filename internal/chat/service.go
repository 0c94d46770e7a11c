// Package chat is the orchestrator tying the pipeline together: store,
// safety gate, intent classification, flow execution and escalation. It owns
// the turn lifecycle and the per-conversation serialization guarantee.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/escalation"
	"github.com/ridedesk/internal/flow"
	"github.com/ridedesk/internal/intent"
	"github.com/ridedesk/internal/safety"
	"github.com/ridedesk/internal/store"
	"github.com/ridedesk/internal/tripdata"
)

// Options carries the orchestrator tunables.
type Options struct {
	// Thresholds are passed to every flow execution.
	Thresholds flow.Thresholds

	// ConfidenceFloor is the minimum classification confidence accepted
	// before the turn is routed to the clarification fallback instead.
	ConfidenceFloor float64

	// EscalationFloor sits below ConfidenceFloor. A known intent whose
	// confidence lands under it is too ambiguous even to clarify; the turn
	// escalates to support instead of guessing.
	EscalationFloor float64

	// FetchTimeout bounds the concurrent booking/driver/traffic fetch.
	FetchTimeout time.Duration

	// Notifier delivers rider-initiated driver messages. Nil selects direct
	// delivery through the trip data provider.
	Notifier flow.DriverNotifier
}

// DefaultOptions returns the reference tunables.
func DefaultOptions() Options {
	return Options{
		Thresholds:      flow.DefaultThresholds(),
		ConfidenceFloor: 0.5,
		EscalationFloor: 0.4,
		FetchTimeout:    3 * time.Second,
	}
}

// TurnReply is what one processed user turn produces.
type TurnReply struct {
	Message        *chatmodel.Message          `json:"message"`
	Actions        []chatmodel.SuggestedAction `json:"actions"`
	Intent         chatmodel.Intent            `json:"intent"`
	Confidence     float64                     `json:"confidence"`
	FlowType       chatmodel.Intent            `json:"flow_type,omitempty"`
	BookingContext *tripdata.Booking           `json:"booking_context,omitempty"`
	Escalated      bool                        `json:"escalated"`
	EscalationKind chatmodel.EscalationKind    `json:"escalation_kind,omitempty"`
	TicketID       string                      `json:"ticket_id,omitempty"`
}

// Service orchestrates the support chat pipeline.
type Service struct {
	conversations store.ConversationStore
	escalations   *escalation.Manager
	classifier    *intent.Classifier
	detector      *safety.Detector
	engine        *flow.Engine
	provider      tripdata.Provider
	notifier      flow.DriverNotifier
	opts          Options

	// turnLocks serializes turns per conversation. Turns on different
	// conversations run fully in parallel.
	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex

	now func() time.Time
}

// NewService wires the orchestrator.
func NewService(
	conversations store.ConversationStore,
	escalations *escalation.Manager,
	classifier *intent.Classifier,
	detector *safety.Detector,
	engine *flow.Engine,
	provider tripdata.Provider,
	opts Options,
) *Service {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = 0.5
	}
	if opts.EscalationFloor <= 0 {
		opts.EscalationFloor = 0.4
	}
	if opts.EscalationFloor > opts.ConfidenceFloor {
		opts.EscalationFloor = opts.ConfidenceFloor
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 3 * time.Second
	}
	if opts.Thresholds.LateEtaMinutes == 0 {
		opts.Thresholds = flow.DefaultThresholds()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = providerNotifier{provider: provider}
	}
	return &Service{
		conversations: conversations,
		escalations:   escalations,
		classifier:    classifier,
		detector:      detector,
		engine:        engine,
		provider:      provider,
		notifier:      notifier,
		opts:          opts,
		turnLocks:     make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// providerNotifier delivers driver messages straight through the trip
// platform. Deployments with a database swap in the durable job queue.
type providerNotifier struct {
	provider tripdata.Provider
}

func (n providerNotifier) NotifyDriver(ctx context.Context, conversationID, driverID, text string) error {
	return n.provider.SendNotification(ctx, driverID, text)
}

func (s *Service) turnLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.turnLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.turnLocks[conversationID] = lock
	}
	return lock
}

// Initiate opens a conversation for a booking. The booking must exist; an
// unknown booking surfaces chatmodel.ErrNotFound. The reply is the greeting
// turn with the standard quick actions.
func (s *Service) Initiate(ctx context.Context, bookingID, userID string) (*chatmodel.Conversation, *TurnReply, error) {
	booking, err := s.provider.Booking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	conv, err := s.conversations.Create(ctx, bookingID, userID, booking.DriverID)
	if err != nil {
		return nil, nil, err
	}

	greeting := "Hi! I'm your ride assistant. I can tell you where your ride is, help you reach your driver, or handle changes to this booking. How can I help?"
	msg, err := s.conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderBot, greeting, nil)
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("booking_id", bookingID).
		Str("user_id", userID).
		Msg("conversation started")

	return conv, &TurnReply{
		Message:        msg,
		BookingContext: booking,
		Actions: []chatmodel.SuggestedAction{
			{ID: chatmodel.ActionWhereIsRide, Label: "Where is my ride?"},
			{ID: chatmodel.ActionCallDriver, Label: "Call the driver"},
			{ID: chatmodel.ActionCancelBooking, Label: "Cancel the booking"},
			{ID: chatmodel.ActionTalkToAgent, Label: "Talk to a support agent"},
		},
	}, nil
}

// ProcessTurn runs one user turn through the full pipeline. Turns on the same
// conversation are strictly serialized; a panic anywhere inside the turn is
// converted into an apology plus a support escalation so the user is never
// left without a reply.
func (s *Service) ProcessTurn(ctx context.Context, conversationID, text string) (reply *TurnReply, err error) {
	lock := s.turnLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == chatmodel.ConversationClosed {
		return nil, fmt.Errorf("conversation %s is closed: %w", conversationID, chatmodel.ErrInvalidTransition)
	}

	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("conversation_id", conversationID).
				Interface("panic", r).
				Msg("turn processing panicked, escalating to support")
			reply, err = s.faultReply(ctx, conv, started)
		}
	}()

	// Safety gate runs before intent routing on every user turn. The user
	// message itself carries the detection outcome for the audit trail.
	event := s.detector.Scan(text, conversationID, conv.UserID, conv.DriverID)
	var userMeta *chatmodel.MessageMetadata
	if event != nil {
		userMeta = &chatmodel.MessageMetadata{
			Severity:  event.Severity,
			Escalated: event.RequiresEscalation(),
		}
	}
	if _, err := s.conversations.AppendMessage(ctx, conversationID, chatmodel.SenderUser, text, userMeta); err != nil {
		return nil, err
	}
	if event != nil && event.RequiresEscalation() {
		return s.safetyReply(ctx, conv, event, started)
	}

	result := s.classifier.Classify(text)
	if result.Intent != chatmodel.IntentUnknown && result.Confidence < s.opts.EscalationFloor {
		// Too ambiguous even to clarify; hand the turn to a human.
		return s.ambiguousReply(ctx, conv, result, started)
	}
	effective := result.Intent
	if effective != chatmodel.IntentUnknown && result.Confidence < s.opts.ConfidenceFloor {
		// Below the flow-selection floor but above the escalation floor the
		// fallback asks for clarification instead of guessing.
		effective = chatmodel.IntentUnknown
	}

	snapshot := s.fetchSnapshot(ctx, conv)

	fc := &flow.Context{
		ConversationID:  conversationID,
		BookingID:       conv.BookingID,
		UserID:          conv.UserID,
		DriverID:        conv.DriverID,
		Snapshot:        snapshot,
		ContactAttempts: conv.ContactAttempts,
		Provider:        s.provider,
		Notifier:        s.notifier,
		Thresholds:      s.opts.Thresholds,
	}
	flowResult := s.engine.Execute(ctx, effective, fc)

	if flowResult.ContactAttempts != conv.ContactAttempts && flowResult.ContactAttempts > 0 {
		if err := s.conversations.SetContactAttempts(ctx, conversationID, flowResult.ContactAttempts); err != nil {
			return nil, err
		}
	}

	var ticketID string
	if flowResult.Escalate {
		priority := s.escalationPriority(conv.UserID, flowResult.EscalationKind)
		reason := fmt.Sprintf("flow escalation for intent %s", effective)
		_, ticket, err := s.escalations.Escalate(ctx, conversationID, flowResult.EscalationKind, reason, priority)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			ticketID = ticket.ID
		}
	}

	metadata := &chatmodel.MessageMetadata{
		Intent:     result.Intent,
		Confidence: result.Confidence,
		FlowType:   effective,
		Escalated:  flowResult.Escalate,
		LatencyMs:  s.now().Sub(started).Milliseconds(),
	}
	msg, err := s.conversations.AppendMessage(ctx, conversationID, chatmodel.SenderBot, flowResult.Message, metadata)
	if err != nil {
		return nil, err
	}

	reply = &TurnReply{
		Message:        msg,
		Actions:        flowResult.Actions,
		Intent:         result.Intent,
		Confidence:     result.Confidence,
		FlowType:       effective,
		Escalated:      flowResult.Escalate,
		EscalationKind: flowResult.EscalationKind,
		TicketID:       ticketID,
	}
	if snapshot != nil {
		reply.BookingContext = snapshot.Booking
	}
	return reply, nil
}

// ambiguousReply handles a known intent classified under the escalation
// floor. Acting on a guess that weak risks an irreversible action on the
// wrong booking, so a human takes over instead.
func (s *Service) ambiguousReply(ctx context.Context, conv *chatmodel.Conversation, result chatmodel.IntentResult, started time.Time) (*TurnReply, error) {
	reason := fmt.Sprintf("ambiguous classification: %s at %.2f", result.Intent, result.Confidence)
	_, ticket, err := s.escalations.Escalate(ctx, conv.ID, chatmodel.EscalateSupport, reason, s.escalationPriority(conv.UserID, chatmodel.EscalateSupport))
	if err != nil {
		return nil, err
	}

	text := "I'm not confident I understood that correctly, and I'd rather not guess. I've looped in our support team so a human can help you directly."
	metadata := &chatmodel.MessageMetadata{
		Intent:     result.Intent,
		Confidence: result.Confidence,
		Escalated:  true,
		LatencyMs:  s.now().Sub(started).Milliseconds(),
	}
	msg, err := s.conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderBot, text, metadata)
	if err != nil {
		return nil, err
	}

	reply := &TurnReply{
		Message:        msg,
		Actions:        []chatmodel.SuggestedAction{{ID: chatmodel.ActionTalkToAgent, Label: "Talk to a support agent"}},
		Intent:         result.Intent,
		Confidence:     result.Confidence,
		Escalated:      true,
		EscalationKind: chatmodel.EscalateSupport,
	}
	if ticket != nil {
		reply.TicketID = ticket.ID
	}
	return reply, nil
}

// safetyReply handles the preempting safety path: escalate first, reply after.
func (s *Service) safetyReply(ctx context.Context, conv *chatmodel.Conversation, event *chatmodel.SafetyEvent, started time.Time) (*TurnReply, error) {
	reason := fmt.Sprintf("safety keywords detected (%s): %v", event.Severity, event.MatchedKeywords)
	_, ticket, err := s.escalations.Escalate(ctx, conv.ID, chatmodel.EscalateSafety, reason, chatmodel.PriorityCritical)
	if err != nil {
		return nil, err
	}
	s.detector.MarkEscalated(event.ID)

	text := "Your safety comes first. I've alerted our safety team and someone will contact you immediately. If you are in danger, please call your local emergency number right away."
	metadata := &chatmodel.MessageMetadata{
		Intent:     chatmodel.IntentSafetyConcern,
		Confidence: 1,
		FlowType:   chatmodel.IntentSafetyConcern,
		Severity:   event.Severity,
		Escalated:  true,
		LatencyMs:  s.now().Sub(started).Milliseconds(),
	}
	msg, err := s.conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderBot, text, metadata)
	if err != nil {
		return nil, err
	}

	reply := &TurnReply{
		Message:        msg,
		Actions:        []chatmodel.SuggestedAction{{ID: chatmodel.ActionTalkToAgent, Label: "Talk to the safety team"}},
		Intent:         chatmodel.IntentSafetyConcern,
		Confidence:     1,
		FlowType:       chatmodel.IntentSafetyConcern,
		Escalated:      true,
		EscalationKind: chatmodel.EscalateSafety,
	}
	if ticket != nil {
		reply.TicketID = ticket.ID
	}
	return reply, nil
}

// faultReply is the last-resort outcome of a panicked turn.
func (s *Service) faultReply(ctx context.Context, conv *chatmodel.Conversation, started time.Time) (*TurnReply, error) {
	if _, _, err := s.escalations.Escalate(ctx, conv.ID, chatmodel.EscalateSupport, "internal fault during turn processing", chatmodel.PriorityHigh); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to escalate after turn fault")
	}

	text := "I'm sorry, something went wrong on our side. I've connected you with our support team so a human can pick this up."
	metadata := &chatmodel.MessageMetadata{
		Escalated: true,
		LatencyMs: s.now().Sub(started).Milliseconds(),
	}
	msg, err := s.conversations.AppendMessage(ctx, conv.ID, chatmodel.SenderBot, text, metadata)
	if err != nil {
		return nil, err
	}
	return &TurnReply{
		Message:        msg,
		Actions:        []chatmodel.SuggestedAction{{ID: chatmodel.ActionTalkToAgent, Label: "Talk to a support agent"}},
		Intent:         chatmodel.IntentUnknown,
		Escalated:      true,
		EscalationKind: chatmodel.EscalateSupport,
	}, nil
}

// fetchSnapshot issues the bounded concurrent context fetch. Failures yield a
// nil snapshot; flows that need live data escalate on that themselves.
func (s *Service) fetchSnapshot(ctx context.Context, conv *chatmodel.Conversation) *tripdata.Snapshot {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	snapshot, err := tripdata.FetchSnapshot(fetchCtx, s.provider, conv.BookingID, conv.DriverID)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conv.ID).
			Str("booking_id", conv.BookingID).
			Msg("trip context fetch failed")
		return nil
	}
	return snapshot
}

// escalationPriority derives the request priority. Safety is always critical;
// support handoffs from users with a recent risk pattern are bumped.
func (s *Service) escalationPriority(userID string, kind chatmodel.EscalationKind) chatmodel.Priority {
	if kind == chatmodel.EscalateSafety {
		return chatmodel.PriorityCritical
	}
	switch s.detector.RiskPattern(userID) {
	case safety.RiskHigh:
		return chatmodel.PriorityHigh
	case safety.RiskMedium:
		return chatmodel.PriorityMedium
	default:
		return chatmodel.PriorityMedium
	}
}

// EscalateManually hands the conversation off outside the intent pipeline,
// e.g. from an agent console action. An empty kind defaults to support;
// driver handoffs return a nil ticket.
func (s *Service) EscalateManually(ctx context.Context, conversationID string, kind chatmodel.EscalationKind, reason string) (*chatmodel.EscalationRequest, *chatmodel.SupportTicket, error) {
	if kind == "" {
		kind = chatmodel.EscalateSupport
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return s.escalations.Escalate(ctx, conversationID, kind, reason, s.escalationPriority(conv.UserID, kind))
}

// ResolveConversation marks the conversation resolved.
func (s *Service) ResolveConversation(ctx context.Context, conversationID string) error {
	return s.conversations.SetStatus(ctx, conversationID, chatmodel.ConversationResolved)
}

// CloseConversation terminates the conversation.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) error {
	return s.conversations.Close(ctx, conversationID)
}

// Conversation returns the conversation by ID.
func (s *Service) Conversation(ctx context.Context, id string) (*chatmodel.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

// Transcript returns the trailing limit messages, or all for limit <= 0.
func (s *Service) Transcript(ctx context.Context, conversationID string, limit int) ([]*chatmodel.Message, error) {
	return s.conversations.Messages(ctx, conversationID, limit)
}

// UserHistory lists the user's conversations, oldest first.
func (s *Service) UserHistory(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	return s.conversations.ByUser(ctx, userID)
}

// Ticket looks up a support ticket.
func (s *Service) Ticket(ctx context.Context, id string) (*chatmodel.SupportTicket, error) {
	return s.escalations.Ticket(ctx, id)
}

// UpdateTicket moves a ticket forward on behalf of an agent.
func (s *Service) UpdateTicket(ctx context.Context, id string, status chatmodel.TicketStatus, agentID, resolution string) (*chatmodel.SupportTicket, error) {
	return s.escalations.UpdateTicketStatus(ctx, id, status, agentID, resolution)
}

// TicketsByUser lists a user's tickets, oldest first.
func (s *Service) TicketsByUser(ctx context.Context, userID string) ([]*chatmodel.SupportTicket, error) {
	return s.escalations.TicketsByUser(ctx, userID)
}

// CancelBooking performs the confirmed cancellation action and resolves the
// conversation. It is invoked from the confirm-cancel quick action, never
// directly from intent classification.
func (s *Service) CancelBooking(ctx context.Context, conversationID string) (*TurnReply, error) {
	lock := s.turnLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.provider.CancelBooking(ctx, conv.BookingID); err != nil {
		if errors.Is(err, chatmodel.ErrUpstreamUnavailable) {
			if _, _, escErr := s.escalations.Escalate(ctx, conversationID, chatmodel.EscalateSupport, "booking cancellation failed upstream", chatmodel.PriorityHigh); escErr != nil {
				return nil, escErr
			}
			msg, appendErr := s.conversations.AppendMessage(ctx, conversationID, chatmodel.SenderBot,
				"I couldn't cancel the booking just now. I've asked our support team to take over and sort it out for you.", &chatmodel.MessageMetadata{Escalated: true})
			if appendErr != nil {
				return nil, appendErr
			}
			return &TurnReply{
				Message:        msg,
				Actions:        []chatmodel.SuggestedAction{{ID: chatmodel.ActionTalkToAgent, Label: "Talk to a support agent"}},
				Escalated:      true,
				EscalationKind: chatmodel.EscalateSupport,
			}, nil
		}
		return nil, err
	}

	msg, err := s.conversations.AppendMessage(ctx, conversationID, chatmodel.SenderBot,
		"Your booking has been cancelled. Any applicable refund will be processed automatically.", nil)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.SetStatus(ctx, conversationID, chatmodel.ConversationResolved); err != nil && !errors.Is(err, chatmodel.ErrInvalidTransition) {
		return nil, err
	}

	log.Info().
		Str("conversation_id", conversationID).
		Str("booking_id", conv.BookingID).
		Msg("booking cancelled")

	return &TurnReply{
		Message: msg,
		Actions: []chatmodel.SuggestedAction{{ID: chatmodel.ActionAcknowledge, Label: "Thanks"}},
	}, nil
}
