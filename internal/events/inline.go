package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrPublisherClosed = errors.New("publisher closed")

// InlinePublisher hands events to a local handler on a single background worker.
type InlinePublisher struct {
	handler Handler
	logger  *slog.Logger
	queue   chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewInlinePublisher(handler Handler, logger *slog.Logger, buffer int) *InlinePublisher {
	if buffer <= 0 {
		buffer = 64
	}
	p := &InlinePublisher{
		handler: handler,
		logger:  logger,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues ev, waiting for room until ctx is done.
func (p *InlinePublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (p *InlinePublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *InlinePublisher) run() {
	defer close(p.done)

	for ev := range p.queue {
		if err := p.handler(context.Background(), ev); err != nil {
			p.logger.Error("event handler failed",
				slog.String("event_type", ev.Type),
				slog.String("order_id", ev.OrderID),
				slog.Any("error", err),
			)
		}
	}
}
