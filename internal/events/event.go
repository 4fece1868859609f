// Package events carries order lifecycle events to the notification side,
// either through RabbitMQ or an in-process worker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/models"
)

const (
	OrderPlaced         = "order.placed"
	OrderPaid           = "order.paid"
	OrderPaymentFailed  = "order.payment_failed"
	OrderStatusChanged  = "order.status_changed"
	ordersExchange      = "storefront.orders"
	notificationsQueue  = "storefront.notifications"
	notificationBinding = "order.#"
)

// Event is a snapshot of an order at the moment something happened to it.
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OrderID    string       `json:"orderId"`
	OccurredAt time.Time    `json:"occurredAt"`
	Order      models.Order `json:"order"`
}

func New(eventType string, order *models.Order) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    order.ID.Hex(),
		OccurredAt: time.Now().UTC(),
		Order:      *order,
	}
}

// Handler reacts to a delivered event.
type Handler func(ctx context.Context, ev Event) error

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func decodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" || ev.OrderID == "" {
		return Event{}, fmt.Errorf("decode event: missing type or orderId")
	}
	return ev, nil
}
