// Package notifications turns order events into customer emails.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storefront/internal/email"
	"storefront/internal/events"
	"storefront/internal/logging"
	"storefront/internal/models"
)

var templateFor = map[string]string{
	events.OrderPlaced:        email.TemplateOrderConfirmation,
	events.OrderPaid:          email.TemplatePaymentReceipt,
	events.OrderPaymentFailed: email.TemplatePaymentFailed,
	events.OrderStatusChanged: email.TemplateStatusUpdate,
}

type Notifier struct {
	provider  email.Provider
	renderer  *email.Renderer
	storeName string
	logger    *slog.Logger
}

func NewNotifier(provider email.Provider, storeName string, logger *slog.Logger) (*Notifier, error) {
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Notifier{
		provider:  provider,
		renderer:  renderer,
		storeName: storeName,
		logger:    logger,
	}, nil
}

// Handle is an events.Handler. Orders without a contact email are skipped.
func (n *Notifier) Handle(ctx context.Context, ev events.Event) error {
	logger := logging.FromContext(ctx, n.logger).With(
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("order_id", ev.OrderID),
	)

	name, ok := templateFor[ev.Type]
	if !ok {
		logger.Debug("no notification for event")
		return nil
	}
	if strings.TrimSpace(ev.Order.ShippingAddress.Email) == "" {
		logger.Debug("order has no contact email")
		return nil
	}

	msg, err := n.renderer.Render(name, n.orderInfo(&ev.Order))
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	if err := n.provider.Send(ctx, msg); err != nil {
		return err
	}

	logger.Info("notification sent", slog.String("template", name))
	return nil
}

func (n *Notifier) orderInfo(o *models.Order) *email.OrderInfo {
	info := &email.OrderInfo{
		StoreName:     n.storeName,
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.ShippingAddress.FullName,
		CustomerEmail: o.ShippingAddress.Email,
		Currency:      o.Currency,
		ItemsPrice:    o.ItemsPrice,
		DeliveryFee:   o.DeliveryFee,
		Total:         o.TotalPrice,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		Receipt:       o.Payment.Receipt,
		Address:       formatAddress(o.ShippingAddress),
		PlacedAt:      o.CreatedAt,
	}
	for _, item := range o.Items {
		info.Items = append(info.Items, email.OrderItem{Name: item.Name, Quantity: item.Quantity, Price: item.Price})
	}
	if last := len(o.StatusHistory) - 1; last >= 0 {
		info.Note = o.StatusHistory[last].Note
	}
	return info
}

func formatAddress(a models.ShippingAddress) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Address, a.Location, a.SubCounty, a.County} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
