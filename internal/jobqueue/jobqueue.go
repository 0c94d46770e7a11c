/*
Package jobqueue provides a River-based job queue for asynchronous delivery
work: driver notifications and escalation event fan-out. Delivery failures
are retried with River's backoff instead of blocking a chat turn.

For worker counts and retry tuning see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/notify"
	"github.com/ridedesk/internal/store"
	"github.com/ridedesk/internal/tripdata"
)

// DriverNotificationArgs asks a driver to be pinged through the trip platform.
type DriverNotificationArgs struct {
	ConversationID string `json:"conversation_id"`
	DriverID       string `json:"driver_id"`
	Body           string `json:"body"`
}

// Kind returns the job kind for River.
func (DriverNotificationArgs) Kind() string { return "driver_notification" }

// DriverNotificationWorker delivers driver pings through the trip data
// provider's notification operation.
type DriverNotificationWorker struct {
	river.WorkerDefaults[DriverNotificationArgs]
	provider tripdata.Provider
}

func (w *DriverNotificationWorker) Work(ctx context.Context, job *river.Job[DriverNotificationArgs]) error {
	args := job.Args
	if err := w.provider.SendNotification(ctx, args.DriverID, args.Body); err != nil {
		log.Warn().Err(err).
			Str("driver_id", args.DriverID).
			Str("conversation_id", args.ConversationID).
			Int("attempt", job.Attempt).
			Msg("driver notification delivery failed")
		return fmt.Errorf("failed to notify driver %s: %w", args.DriverID, err)
	}
	log.Info().
		Str("driver_id", args.DriverID).
		Str("conversation_id", args.ConversationID).
		Msg("driver notification delivered")
	return nil
}

// EscalationDeliveryArgs pushes an already-recorded escalation to the
// downstream sinks. The job re-reads the request so retries always carry the
// persisted record.
type EscalationDeliveryArgs struct {
	EscalationID string `json:"escalation_id"`
	EventType    string `json:"event_type"`
}

// Kind returns the job kind for River.
func (EscalationDeliveryArgs) Kind() string { return "escalation_delivery" }

// EscalationDeliveryWorker fans an escalation out to the configured sinks.
type EscalationDeliveryWorker struct {
	river.WorkerDefaults[EscalationDeliveryArgs]
	escalations store.EscalationStore
	sinks       []notify.Sink
}

func (w *EscalationDeliveryWorker) Work(ctx context.Context, job *river.Job[EscalationDeliveryArgs]) error {
	req, err := w.escalations.GetRequest(ctx, job.Args.EscalationID)
	if err != nil {
		return fmt.Errorf("failed to load escalation %s: %w", job.Args.EscalationID, err)
	}

	payload := map[string]interface{}{
		"event":      job.Args.EventType,
		"escalation": req,
	}
	var lastErr error
	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, job.Args.EventType, payload); err != nil {
			log.Warn().Err(err).
				Str("escalation_id", req.ID).
				Msg("escalation sink delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// JobQueue manages the River client and its workers.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a queue backed by the given Postgres database. The
// provider handles driver notifications; sinks receive escalation events.
func NewJobQueue(databaseURL string, provider tripdata.Provider, escalations store.EscalationStore, sinks ...notify.Sink) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &DriverNotificationWorker{provider: provider})
	river.AddWorker(workers, &EscalationDeliveryWorker{escalations: escalations, sinks: sinks})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// NotifyDriver satisfies the flow driver-notifier contract by queueing the
// message for durable delivery.
func (jq *JobQueue) NotifyDriver(ctx context.Context, conversationID, driverID, text string) error {
	return jq.EnqueueDriverNotification(ctx, conversationID, driverID, text)
}

// EnqueueDriverNotification queues a driver ping for async delivery.
func (jq *JobQueue) EnqueueDriverNotification(ctx context.Context, conversationID, driverID, body string) error {
	_, err := jq.client.Insert(ctx, DriverNotificationArgs{
		ConversationID: conversationID,
		DriverID:       driverID,
		Body:           body,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue driver notification: %w", err)
	}
	return nil
}

// EnqueueEscalationDelivery queues escalation fan-out. Critical-priority
// escalations go to the dedicated critical queue so safety handoffs are not
// stuck behind routine traffic.
func (jq *JobQueue) EnqueueEscalationDelivery(ctx context.Context, escalationID, eventType string, priority chatmodel.Priority) error {
	var opts *river.InsertOpts
	if priority == chatmodel.PriorityCritical {
		opts = &river.InsertOpts{Queue: QueueCritical}
	}
	_, err := jq.client.Insert(ctx, EscalationDeliveryArgs{
		EscalationID: escalationID,
		EventType:    eventType,
	}, opts)
	if err != nil {
		return fmt.Errorf("failed to queue escalation delivery: %w", err)
	}
	return nil
}
