package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/consult-booking/pkg/logging"
)

// Publisher publishes booking events to RabbitMQ.  It keeps one connection
// and channel open, re-dialling lazily after the broker drops them.
// Messages are persistent and queues durable so they survive broker
// restarts.  Publisher is safe for concurrent use.
type Publisher struct {
	url      string
	logger   *logging.Logger
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher returns a Publisher for url.  No connection is made until
// Connect or the first Publish.
func NewPublisher(url string, logger *logging.Logger) *Publisher {
	return &Publisher{url: url, logger: logging.OrDefault(logger), declared: map[string]bool{}}
}

// Connect dials the broker eagerly so start-up can detect a missing broker.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channelLocked()
	return err
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.declared = map[string]bool{}
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends ev to queue.  Errors are logged and returned so the caller
// can decide to ignore them.
func (p *Publisher) Publish(ctx context.Context, queue string, ev BookingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		p.logger.Warn("rabbitmq unavailable", "queue", queue, "error", err)
		return err
	}
	if !p.declared[queue] {
		// Ensure the queue exists (idempotent).
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.resetLocked()
			return fmt.Errorf("rabbitmq: queue declare: %w", err)
		}
		p.declared[queue] = true
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.resetLocked()
		p.logger.Warn("rabbitmq publish failed", "queue", queue, "appointment_id", ev.AppointmentID, "error", err)
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
