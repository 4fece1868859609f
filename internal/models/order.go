package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PaymentMethodCOD    = "cod"
	PaymentMethodMpesa  = "mpesa"
	PaymentMethodPayPal = "paypal"
)

const (
	PaymentStatusPending         = "pending"
	PaymentStatusAwaitingPayment = "awaiting_payment"
	PaymentStatusPaid            = "paid"
	PaymentStatusFailed          = "failed"
	PaymentStatusRefunded        = "refunded"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// OrderItem is a priced product line, snapshotted at checkout.
type OrderItem struct {
	ProductID primitive.ObjectID `bson:"productId" json:"productId"`
	Name      string             `bson:"name" json:"name"`
	Image     string             `bson:"image,omitempty" json:"image,omitempty"`
	Price     float64            `bson:"price" json:"price"`
	Quantity  int                `bson:"quantity" json:"quantity"`
}

type ShippingAddress struct {
	FullName  string `bson:"fullName" json:"fullName"`
	Phone     string `bson:"phone" json:"phone"`
	Email     string `bson:"email,omitempty" json:"email,omitempty"`
	County    string `bson:"county" json:"county"`
	SubCounty string `bson:"subCounty" json:"subCounty"`
	Location  string `bson:"location" json:"location"`
	Address   string `bson:"address" json:"address"`
	Notes     string `bson:"notes,omitempty" json:"notes,omitempty"`
}

// PaymentInfo records what the payment provider told us about an order.
// Reference is the current M-Pesa CheckoutRequestID or PayPal order id, and
// References holds every one issued. Provider identifiers are never sent to clients.
type PaymentInfo struct {
	Provider          string   `bson:"provider" json:"provider"`
	Reference         string   `bson:"reference,omitempty" json:"-"`
	References        []string `bson:"references,omitempty" json:"-"`
	MerchantRequestID string   `bson:"merchantRequestId,omitempty" json:"-"`
	Receipt           string   `bson:"receipt,omitempty" json:"receipt,omitempty"`
	Phone             string   `bson:"phone,omitempty" json:"phone,omitempty"`
	PayerEmail        string   `bson:"payerEmail,omitempty" json:"payerEmail,omitempty"`
	AmountPaid        float64  `bson:"amountPaid,omitempty" json:"amountPaid,omitempty"`
	ResultCode        *int     `bson:"resultCode,omitempty" json:"resultCode,omitempty"`
	ResultDesc        string   `bson:"resultDesc,omitempty" json:"resultDesc,omitempty"`
	Attempts          int      `bson:"attempts" json:"attempts"`
}

type StatusEntry struct {
	Status string    `bson:"status" json:"status"`
	Note   string    `bson:"note,omitempty" json:"note,omitempty"`
	At     time.Time `bson:"at" json:"at"`
}

// Order defines the persisted order document.
type Order struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	OrderNumber     string              `bson:"orderNumber" json:"orderNumber"`
	UserID          *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	Items           []OrderItem         `bson:"items" json:"items"`
	ShippingAddress ShippingAddress     `bson:"shippingAddress" json:"shippingAddress"`
	ItemsPrice      float64             `bson:"itemsPrice" json:"itemsPrice"`
	DeliveryFee     float64             `bson:"deliveryFee" json:"deliveryFee"`
	TotalPrice      float64             `bson:"totalPrice" json:"totalPrice"`
	Currency        string              `bson:"currency" json:"currency"`
	PaymentMethod   string              `bson:"paymentMethod" json:"paymentMethod"`
	PaymentStatus   string              `bson:"paymentStatus" json:"paymentStatus"`
	OrderStatus     string              `bson:"orderStatus" json:"orderStatus"`
	Payment         PaymentInfo         `bson:"payment" json:"payment"`
	StatusHistory   []StatusEntry       `bson:"statusHistory" json:"statusHistory"`
	PaidAt          *time.Time          `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	DeliveredAt     *time.Time          `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// Recalculate derives ItemsPrice and TotalPrice from the items and delivery fee.
func (o *Order) Recalculate() {
	items := 0.0
	for _, item := range o.Items {
		items += item.Price * float64(item.Quantity)
	}
	o.ItemsPrice = RoundMoney(items)
	o.TotalPrice = RoundMoney(o.ItemsPrice + o.DeliveryFee)
}

// IsPaid reports whether the order has been settled.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

func (o *Order) BelongsTo(userID primitive.ObjectID) bool {
	return o.UserID != nil && *o.UserID == userID
}
