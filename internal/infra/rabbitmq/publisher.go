package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to durable queues over a single channel.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		declared: make(map[string]struct{}),
	}, nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish declares queue on first use and publishes body to it. amqp channels are
// not safe for concurrent publishing, so calls are serialized.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[queue]; !ok {
		if _, err := p.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared[queue] = struct{}{}
	}

	return p.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
