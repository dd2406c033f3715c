package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends completion messages to RabbitMQ.  Each Publish dials,
// declares the durable queue and sends persistent JSON; completions are rare
// enough that a long-lived channel is not worth the reconnect handling.
type Publisher struct {
	url   string
	queue string
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, queue: CompletedQueue}
}

// PublishCompleted publishes msgs in order.  The first failure aborts the
// batch and is returned so the caller can log it.
func (p *Publisher) PublishCompleted(ctx context.Context, msgs []SlotCompletedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal completion: %w", err)
		}
		pub := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    m.CompletionID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		}
		if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
			return fmt.Errorf("rabbitmq publish: %w", err)
		}
	}
	return nil
}
