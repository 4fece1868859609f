package events

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

type outcome int

const (
	ack outcome = iota
	requeue
	drop
)

// Consumer feeds events from the notifications queue to a handler.
type Consumer struct {
	conn    *amqp.Connection
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(conn *amqp.Connection, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{conn: conn, handler: handler, logger: logger}
}

// Start declares the queue and consumes in a goroutine until ctx is done.
// The returned channel is closed when the goroutine exits.
func (c *Consumer) Start(ctx context.Context) (<-chan struct{}, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareOrdersExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", ordersExchange, err)
	}
	if _, err := ch.QueueDeclare(notificationsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", notificationsQueue, err)
	}
	if err := ch.QueueBind(notificationsQueue, notificationBinding, ordersExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind %s: %w", notificationsQueue, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		notificationsQueue,
		"storefront-notifier",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("stopping notifications consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("notifications channel closed")
					return
				}
				c.settle(msg, c.process(ctx, msg.Body, msg.Redelivered))
			}
		}
	}()

	return done, nil
}

func (c *Consumer) settle(msg amqp.Delivery, result outcome) {
	var err error
	switch result {
	case ack:
		err = msg.Ack(false)
	case requeue:
		err = msg.Nack(false, true)
	case drop:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("settle message failed", slog.Any("error", err))
	}
}

// process handles one message body. Undecodable messages are dropped; handler
// failures are requeued once and dropped on redelivery.
func (c *Consumer) process(ctx context.Context, body []byte, redelivered bool) outcome {
	ev, err := decodeEvent(body)
	if err != nil {
		c.logger.Error("drop undecodable event", slog.Any("error", err))
		return drop
	}

	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("event handler failed",
			slog.String("event_type", ev.Type),
			slog.String("order_id", ev.OrderID),
			slog.Bool("redelivered", redelivered),
			slog.Any("error", err),
		)
		if redelivered {
			return drop
		}
		return requeue
	}
	return ack
}
