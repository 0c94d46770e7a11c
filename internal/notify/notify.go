// Package notify fans escalation events out to downstream channels: the
// structured log, an AMQP queue for the agent dashboard, and HTTP webhooks.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/escalation"
)

// Sink delivers one event payload to a downstream channel.
type Sink interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// LogSink writes events to the structured log. It is always wired so every
// escalation leaves a trace even when no broker or webhook is configured.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, eventType string, payload interface{}) error {
	log.Info().
		Str("event", eventType).
		Interface("payload", payload).
		Msg("escalation event")
	return nil
}

// EventHandler adapts a set of sinks to the escalation manager's handler
// signature. Sink failures are logged and do not affect each other or the
// escalation itself.
func EventHandler(sinks ...Sink) escalation.Handler {
	return func(ctx context.Context, ev escalation.Event) {
		payload := eventPayload(ev)
		for _, sink := range sinks {
			if err := sink.Publish(ctx, ev.Type, payload); err != nil {
				log.Error().Err(err).
					Str("event", ev.Type).
					Msg("failed to deliver escalation event")
			}
		}
	}
}

func eventPayload(ev escalation.Event) map[string]interface{} {
	payload := map[string]interface{}{"event": ev.Type}
	if ev.Request != nil {
		payload["escalation"] = ev.Request
	}
	if ev.Ticket != nil {
		payload["ticket"] = ev.Ticket
	}
	return payload
}
