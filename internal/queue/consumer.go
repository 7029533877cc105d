package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Sender delivers a notification to the applicant, by mail or SMS.
type Sender interface {
	Send(ctx context.Context, ev NotificationEvent) error
}

// LogSender writes each notification as one structured log line.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, ev NotificationEvent) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	ids := make([]string, len(ev.Applications))
	for i, a := range ev.Applications {
		ids[i] = strconv.FormatUint(a.ID, 10)
	}
	log.Info("application notification",
		zap.String("kind", ev.Kind),
		zap.Bool("is_new", ev.IsNew),
		zap.String("to", ev.ContactEmail),
		zap.String("applications", strings.Join(ids, ",")),
		zap.String("created_at", ev.CreatedAt),
	)
	return nil
}

// Consumer reads notification events from the queue and hands them to a
// Sender.  It reconnects with backoff until its context is cancelled.
type Consumer struct {
	url    string
	queue  string
	sender Sender
	log    *zap.Logger
}

// NewConsumer returns a consumer for queue at url.
func NewConsumer(url, queue string, sender Sender, log *zap.Logger) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, queue: queue, sender: sender, log: log}
}

// Run consumes until ctx is cancelled and then returns ctx.Err().  Broker
// failures are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("notification consumer: dial failed", zap.Duration("retry_in", backoff), zap.Error(err))
			if werr := wait(ctx, backoff); werr != nil {
				return werr
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("notification consumer: loop ended, reconnecting", zap.Error(err))
		if werr := wait(ctx, 2*time.Second); werr != nil {
			return werr
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("notification consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.Error("notification consumer: handle message failed", zap.Error(err))
				// reject without requeue to avoid a tight redelivery loop
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if len(ev.Applications) == 0 {
		return errors.New("notification without applications")
	}
	return c.sender.Send(ctx, ev)
}
