// Package flow implements the per-intent decision flows and the engine that
// dispatches them. Each flow is its own type implementing Execute; the
// registry is immutable after construction so tests can substitute flows.
package flow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/tripdata"
)

// Thresholds are the tunable constants the flows branch on.
type Thresholds struct {
	LateEtaMinutes     int           // ETA above this offers wait/cancel/call (default 15)
	CancelGracePeriod  time.Duration // free cancellation strictly below this age (default 2m)
	MaxContactAttempts int           // cannot-reach escalates at this attempt count (default 3)
}

// DefaultThresholds returns the reference constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LateEtaMinutes:     15,
		CancelGracePeriod:  2 * time.Minute,
		MaxContactAttempts: 3,
	}
}

// DriverNotifier delivers a rider-initiated message to the driver. The direct
// implementation pushes through the trip data provider; deployments with a
// database substitute the durable job queue so delivery gets retries.
type DriverNotifier interface {
	NotifyDriver(ctx context.Context, conversationID, driverID, text string) error
}

// Context is the execution context threaded into a flow. Snapshot may be nil
// when the upstream fetch failed; flows that need live data must escalate in
// that case rather than fabricate a response.
type Context struct {
	ConversationID  string
	BookingID       string
	UserID          string
	DriverID        string
	Snapshot        *tripdata.Snapshot
	ContactAttempts int
	Provider        tripdata.Provider
	Notifier        DriverNotifier
	Thresholds      Thresholds
}

// Flow is the handler bound to a single intent.
type Flow interface {
	Intent() chatmodel.Intent
	Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error)
}

// Engine dispatches intents to flows. Any error or panic inside a flow is
// converted into a support escalation at this boundary; faults never reach
// the orchestrator uncaught.
type Engine struct {
	flows    map[chatmodel.Intent]Flow
	fallback Flow
}

// NewEngine builds an engine from an explicit flow list plus a fallback for
// unknown intents.
func NewEngine(fallback Flow, flows ...Flow) *Engine {
	registry := make(map[chatmodel.Intent]Flow, len(flows))
	for _, f := range flows {
		registry[f.Intent()] = f
	}
	return &Engine{flows: registry, fallback: fallback}
}

// NewDefaultEngine wires the full reference flow set. Thresholds travel in
// the per-turn Context, not in the engine.
func NewDefaultEngine() *Engine {
	return NewEngine(
		&FallbackFlow{},
		&WhereIsRideFlow{},
		&RideLateFlow{},
		&CannotReachDriverFlow{},
		&CancelBookingFlow{},
		&PaymentQuestionFlow{},
		&CallDriverFlow{},
		&MessageDriverFlow{},
		&SafetyConcernFlow{},
		&HumanAgentFlow{},
	)
}

// Execute runs the flow registered for intent. Unknown intents get the
// fallback; faults become support escalations.
func (e *Engine) Execute(ctx context.Context, intent chatmodel.Intent, fc *Context) (result *chatmodel.FlowResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("conversation_id", fc.ConversationID).
				Str("intent", string(intent)).
				Interface("panic", r).
				Msg("flow panicked, converting to support escalation")
			result = SupportEscalationResult("Something went wrong while handling your request. Let me connect you with our support team.")
		}
	}()

	f, ok := e.flows[intent]
	if !ok {
		f = e.fallback
	}

	result, err := f.Execute(ctx, fc)
	if err != nil {
		log.Warn().
			Str("conversation_id", fc.ConversationID).
			Str("intent", string(intent)).
			Err(err).
			Msg("flow returned error, converting to support escalation")
		return SupportEscalationResult("I couldn't complete that request right now. Let me connect you with our support team.")
	}
	if result == nil {
		return SupportEscalationResult("I couldn't handle that request. Let me connect you with our support team.")
	}
	return result
}

// SupportEscalationResult is the canonical failed-flow outcome.
func SupportEscalationResult(message string) *chatmodel.FlowResult {
	return &chatmodel.FlowResult{
		Success:        false,
		Message:        message,
		Actions:        []chatmodel.SuggestedAction{{ID: chatmodel.ActionTalkToAgent, Label: "Talk to a support agent"}},
		Escalate:       true,
		EscalationKind: chatmodel.EscalateSupport,
	}
}
