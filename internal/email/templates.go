package email

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplatePaymentReceipt    = "payment_receipt"
	TemplatePaymentFailed     = "payment_failed"
	TemplateStatusUpdate      = "status_update"
)

// OrderInfo is the data every order template renders from.
type OrderInfo struct {
	StoreName     string
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	Currency      string
	Items         []OrderItem
	ItemsPrice    float64
	DeliveryFee   float64
	Total         float64
	PaymentMethod string
	PaymentStatus string
	OrderStatus   string
	Receipt       string
	Address       string
	Note          string
	PlacedAt      time.Time
}

type OrderItem struct {
	Name     string
	Quantity int
	Price    float64
}

type emailTemplate struct {
	Subject string
	Text    string
}

var builtinTemplates = map[string]emailTemplate{
	TemplateOrderConfirmation: {
		Subject: "Order {{.OrderNumber}} received - {{.StoreName}}",
		Text:    orderConfirmationText,
	},
	TemplatePaymentReceipt: {
		Subject: "Payment received for order {{.OrderNumber}}",
		Text:    paymentReceiptText,
	},
	TemplatePaymentFailed: {
		Subject: "Payment for order {{.OrderNumber}} did not go through",
		Text:    paymentFailedText,
	},
	TemplateStatusUpdate: {
		Subject: "Order {{.OrderNumber}} is now {{status .OrderStatus}}",
		Text:    statusUpdateText,
	},
}

type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"money": func(currency string, amount float64) string {
			return fmt.Sprintf("%s %.2f", currency, amount)
		},
		"lineTotal": func(item OrderItem) float64 {
			return item.Price * float64(item.Quantity)
		},
		"formatDate": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
		"status": func(s string) string {
			return strings.ReplaceAll(s, "_", " ")
		},
		"method": paymentMethodLabel,
	}

	tmpl := template.New("email").Funcs(funcMap)
	for key, t := range builtinTemplates {
		if _, err := tmpl.New(key + "_subject").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", key, err)
		}
		if _, err := tmpl.New(key + "_text").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
	}
	return &Renderer{templates: tmpl}, nil
}

func (r *Renderer) Render(name string, data *OrderInfo) (*Message, error) {
	if _, ok := builtinTemplates[name]; !ok {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	var subject, text bytes.Buffer
	if err := r.templates.ExecuteTemplate(&subject, name+"_subject", data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.templates.ExecuteTemplate(&text, name+"_text", data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	return &Message{
		To:      data.CustomerEmail,
		Subject: strings.TrimSpace(subject.String()),
		Text:    text.String(),
	}, nil
}

func paymentMethodLabel(method string) string {
	switch method {
	case "cod":
		return "Cash on delivery"
	case "mpesa":
		return "M-Pesa"
	case "paypal":
		return "PayPal"
	default:
		return method
	}
}

const orderConfirmationText = `Hi {{.CustomerName}},

Thank you for shopping with {{.StoreName}}. We have received your order.

Order number: {{.OrderNumber}}
Placed on: {{formatDate .PlacedAt}}
Payment: {{method .PaymentMethod}}

Items:
{{range .Items}}  {{.Quantity}} x {{.Name}} @ {{money $.Currency .Price}} = {{money $.Currency (lineTotal .)}}
{{end}}
Subtotal: {{money .Currency .ItemsPrice}}
Delivery: {{money .Currency .DeliveryFee}}
Total: {{money .Currency .Total}}

Delivering to:
{{.Address}}
{{if eq .PaymentMethod "cod"}}
Please have {{money .Currency .Total}} ready when your order arrives.
{{else if eq .PaymentStatus "failed"}}
We could not start your payment. You can retry it from your order page.
{{else}}
We will let you know as soon as your payment is confirmed.
{{end}}
{{.StoreName}}
`

const paymentReceiptText = `Hi {{.CustomerName}},

We have received your payment of {{money .Currency .Total}} for order {{.OrderNumber}}.
{{if .Receipt}}
Payment reference: {{.Receipt}}
{{end}}
Payment method: {{method .PaymentMethod}}

We are preparing your order and will update you when it ships.

{{.StoreName}}
`

const paymentFailedText = `Hi {{.CustomerName}},

Your {{method .PaymentMethod}} payment for order {{.OrderNumber}} was not completed.
{{if .Note}}
Reason: {{.Note}}
{{end}}
Your order is still reserved. You can retry the payment from your order page.

{{.StoreName}}
`

const statusUpdateText = `Hi {{.CustomerName}},

Your order {{.OrderNumber}} is now {{status .OrderStatus}}.
{{if .Note}}
{{.Note}}
{{end}}
Total: {{money .Currency .Total}}
Payment: {{method .PaymentMethod}} ({{status .PaymentStatus}})

{{.StoreName}}
`
