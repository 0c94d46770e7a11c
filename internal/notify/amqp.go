package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// AMQPPublisher pushes escalation events onto per-event queues so the agent
// dashboard and on-call tooling can consume them. Queues are named
// <prefix>_<event_type> and declared lazily.
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	prefix  string

	mu       sync.Mutex
	declared map[string]bool
}

// NewAMQPPublisher dials the broker and opens a channel.
func NewAMQPPublisher(url, queuePrefix string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	if queuePrefix == "" {
		queuePrefix = "ridedesk"
	}
	log.Info().Str("prefix", queuePrefix).Msg("broker connection established")
	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		prefix:   queuePrefix,
		declared: make(map[string]bool),
	}, nil
}

func (p *AMQPPublisher) queueName(eventType string) string {
	return p.prefix + "_" + strings.ToLower(eventType)
}

func (p *AMQPPublisher) ensureQueue(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[name] {
		return nil
	}
	_, err := p.channel.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	p.declared[name] = true
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	queue := p.queueName(eventType)
	if err := p.ensureQueue(queue); err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("event", eventType).Msg("published escalation event")
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
