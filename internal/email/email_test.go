package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/logging"
)

func sampleOrder() *OrderInfo {
	return &OrderInfo{
		StoreName:     "Duka Online",
		OrderNumber:   "ORD-20260301-ABCDEF",
		CustomerName:  "Achieng",
		CustomerEmail: "achieng@example.com",
		Currency:      "KES",
		Items: []OrderItem{
			{Name: "Maize Flour 2kg", Quantity: 2, Price: 250},
		},
		ItemsPrice:    500,
		DeliveryFee:   200,
		Total:         700,
		PaymentMethod: "cod",
		PaymentStatus: "pending",
		OrderStatus:   "processing",
		Address:       "3rd Parklands Ave, Parklands, Westlands, Nairobi",
		PlacedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderOrderConfirmation(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(TemplateOrderConfirmation, sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, "achieng@example.com", msg.To)
	assert.Equal(t, "Order ORD-20260301-ABCDEF received - Duka Online", msg.Subject)
	assert.Contains(t, msg.Text, "2 x Maize Flour 2kg @ KES 250.00 = KES 500.00")
	assert.Contains(t, msg.Text, "Total: KES 700.00")
	assert.Contains(t, msg.Text, "Placed on: March 1, 2026")
	assert.Contains(t, msg.Text, "Please have KES 700.00 ready")
}

func TestRenderStatusUpdate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	info := sampleOrder()
	info.OrderStatus = "shipped"
	info.PaymentMethod = "mpesa"
	info.PaymentStatus = "awaiting_payment"
	info.Note = "Rider is on the way"

	msg, err := r.Render(TemplateStatusUpdate, info)
	require.NoError(t, err)
	assert.Equal(t, "Order ORD-20260301-ABCDEF is now shipped", msg.Subject)
	assert.Contains(t, msg.Text, "Rider is on the way")
	assert.Contains(t, msg.Text, "M-Pesa (awaiting payment)")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render("welcome", sampleOrder())
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Provider: "none"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LogProvider{}, p)

	p, err = NewProvider(Config{Provider: "resend", ResendAPIKey: "re_test", From: "shop@example.com"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &ResendProvider{}, p)

	_, err = NewProvider(Config{Provider: "postmark"}, logging.Discard())
	assert.Error(t, err)
}

func TestLogProviderRejectsEmptyMessage(t *testing.T) {
	p := NewLogProvider(logging.Discard())
	assert.ErrorIs(t, p.Send(t.Context(), &Message{To: "a@example.com"}), ErrEmptyMessage)
	assert.NoError(t, p.Send(t.Context(), &Message{To: "a@example.com", Subject: "hi", Text: "body"}))
}

func TestSMTPProviderSend(t *testing.T) {
	p := NewSMTPProvider("smtp.example.com", 587, "user", "pass", "Duka Online <shop@example.com>")
	p.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody string
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, string(msg)
		assert.NotNil(t, a)
		return nil
	}

	err := p.Send(t.Context(), &Message{
		To:      "Achieng <achieng@example.com>",
		Subject: "Order received",
		Text:    "line one\nline two",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "shop@example.com", gotFrom)
	assert.Equal(t, []string{"achieng@example.com"}, gotTo)
	assert.Contains(t, gotBody, "Subject: Order received\r\n")
	assert.True(t, strings.HasSuffix(gotBody, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPProviderHonoursCancelledContext(t *testing.T) {
	p := NewSMTPProvider("smtp.example.com", 25, "", "", "shop@example.com")
	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := p.Send(ctx, &Message{To: "a@example.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, context.Canceled)
}
