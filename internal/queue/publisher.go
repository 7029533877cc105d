package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// DefaultQueue is the queue notifications are published to.
const DefaultQueue = "booking.notifications"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends notification events to a durable queue as persistent
// JSON messages.  It is safe for concurrent use.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    Channel
	queue string
	log   *zap.Logger
	now   func() time.Time
}

// Dial connects to the broker at url and declares queue.
func Dial(url, queue string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewPublisher(ch, queue, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares queue on ch and returns a publisher using it.
func NewPublisher(ch Channel, queue string, log *zap.Logger) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &Publisher{ch: ch, queue: queue, log: log, now: time.Now}, nil
}

// Publish sends ev to the queue.
func (p *Publisher) Publish(ctx context.Context, ev NotificationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.log.Error("publish notification", zap.String("queue", p.queue), zap.Error(err))
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// NotifyApplication publishes the confirmation for one application.
func (p *Publisher) NotifyApplication(ctx context.Context, app model.Application, isNew bool) error {
	return p.Publish(ctx, NewNotificationEvent([]model.Application{app}, isNew, p.now()))
}

// NotifyApplicationGroup publishes one confirmation for a parent group.
func (p *Publisher) NotifyApplicationGroup(ctx context.Context, apps []model.Application, isNew bool) error {
	return p.Publish(ctx, NewNotificationEvent(apps, isNew, p.now()))
}

// Close closes the channel and the connection opened by Dial.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogNotifier writes notifications to the log.  It stands in for the
// publisher when no broker is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) NotifyApplication(ctx context.Context, app model.Application, isNew bool) error {
	return n.NotifyApplicationGroup(ctx, []model.Application{app}, isNew)
}

func (n LogNotifier) NotifyApplicationGroup(_ context.Context, apps []model.Application, isNew bool) error {
	ev := NewNotificationEvent(apps, isNew, time.Now())
	return LogSender{Log: n.Log}.Send(context.Background(), ev)
}
