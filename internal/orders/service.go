package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/cache"
	"storefront/internal/events"
	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/payments/mpesa"
	"storefront/internal/payments/paypal"
	"storefront/internal/store"
	"storefront/internal/validation"
)

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrForbidden                = errors.New("order belongs to another customer")
	ErrPaymentMethodUnavailable = errors.New("payment method is not available")
	ErrWrongPaymentMethod       = errors.New("order uses a different payment method")
	ErrNotCancellable           = errors.New("order can no longer be cancelled")
	ErrPaymentNotRetryable      = errors.New("payment cannot be retried for this order")
	ErrTooManyAttempts          = errors.New("too many payment attempts")
	ErrCaptureMismatch          = errors.New("paypal order does not match this order")
	ErrCaptureIncomplete        = errors.New("paypal payment was not completed")
	ErrPaymentGateway           = errors.New("payment provider request failed")

	// ErrInvalidStatusTransition is returned when an order is not in a state the change can start from.
	ErrInvalidStatusTransition = store.ErrInvalidStatusTransition
)

const (
	DefaultMaxMpesaAttempts = 5
	callbackReplayTTL       = 72 * time.Hour
)

type Repository interface {
	PlaceOrder(ctx context.Context, order *models.Order, lines []store.OrderLine) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	List(ctx context.Context, f store.OrderFilter, page, limit int64) ([]models.Order, int64, error)
	ChangePaymentStatus(ctx context.Context, id primitive.ObjectID, change store.PaymentChange) (*models.Order, error)
	ChangeOrderStatus(ctx context.Context, id primitive.ObjectID, change store.StatusChange) (*models.Order, error)
	Cancel(ctx context.Context, id primitive.ObjectID, change store.StatusChange) (*models.Order, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Stats(ctx context.Context) (*store.OrderStats, error)
}

type FeeResolver interface {
	ResolveFee(ctx context.Context, county, subCounty, location string) (float64, error)
}

type MpesaGateway interface {
	STKPush(ctx context.Context, in mpesa.STKPushInput) (*mpesa.STKPushResult, error)
}

type PayPalGateway interface {
	CreateOrder(ctx context.Context, in paypal.CreateOrderInput) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error)
}

type Options struct {
	Currency           string
	PayPalCurrency     string
	PayPalExchangeRate float64
	MaxMpesaAttempts   int
}

// Deps wires a Service. Mpesa and PayPal may be nil when the method is disabled.
type Deps struct {
	Repo      Repository
	Fees      FeeResolver
	Mpesa     MpesaGateway
	PayPal    PayPalGateway
	Cache     cache.Provider
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Service struct {
	repo      Repository
	fees      FeeResolver
	mpesa     MpesaGateway
	paypal    PayPalGateway
	cache     cache.Provider
	publisher events.Publisher
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "KES"
	}
	if opts.PayPalCurrency == "" {
		opts.PayPalCurrency = "USD"
	}
	if opts.PayPalExchangeRate <= 0 {
		opts.PayPalExchangeRate = 1
	}
	if opts.MaxMpesaAttempts <= 0 {
		opts.MaxMpesaAttempts = DefaultMaxMpesaAttempts
	}
	return &Service{
		repo:      deps.Repo,
		fees:      deps.Fees,
		mpesa:     deps.Mpesa,
		paypal:    deps.PayPal,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Viewer identifies who is asking for an order. Guests identify themselves by phone.
type Viewer struct {
	UserID  *primitive.ObjectID
	IsAdmin bool
	Phone   string
}

type ItemInput struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type PlaceOrderInput struct {
	UserID          *primitive.ObjectID
	Items           []ItemInput
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	// MpesaPhone overrides the shipping phone for the STK push.
	MpesaPhone string
}

type PlaceOrderResult struct {
	Order *models.Order `json:"order"`
	// ApproveURL is where a PayPal buyer must be sent to approve the payment.
	ApproveURL      string `json:"approveUrl,omitempty"`
	CustomerMessage string `json:"customerMessage,omitempty"`
	// PaymentError is set when the order was saved but the payment request failed.
	PaymentError string `json:"paymentError,omitempty"`
}

// MethodEnabled reports whether checkout currently accepts method.
func (s *Service) MethodEnabled(method string) bool {
	switch method {
	case models.PaymentMethodCOD:
		return true
	case models.PaymentMethodMpesa:
		return s.mpesa != nil
	case models.PaymentMethodPayPal:
		return s.paypal != nil
	default:
		return false
	}
}

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	logger := logging.FromContext(ctx, s.logger)

	lines, address, mpesaPhone, err := s.validatePlaceOrder(in)
	if err != nil {
		return nil, err
	}
	if !s.MethodEnabled(in.PaymentMethod) {
		return nil, ErrPaymentMethodUnavailable
	}

	fee, err := s.fees.ResolveFee(ctx, address.County, address.SubCounty, address.Location)
	if err != nil {
		return nil, err
	}

	now := s.now()
	number, err := NewOrderNumber(now)
	if err != nil {
		return nil, fmt.Errorf("order number: %w", err)
	}

	orderStatus := models.OrderStatusPending
	if in.PaymentMethod == models.PaymentMethodCOD {
		orderStatus = models.OrderStatusProcessing
	}

	order := &models.Order{
		OrderNumber:     number,
		UserID:          in.UserID,
		ShippingAddress: address,
		DeliveryFee:     fee,
		Currency:        s.opts.Currency,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     orderStatus,
		Payment:         models.PaymentInfo{Provider: in.PaymentMethod},
		StatusHistory: []models.StatusEntry{
			{Status: orderStatus, Note: "order placed", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.PlaceOrder(ctx, order, lines); err != nil {
		return nil, err
	}

	logger = logger.With(slog.String("order_id", order.ID.Hex()), slog.String("order_number", order.OrderNumber))
	logger.Info("order placed",
		slog.String("payment_method", order.PaymentMethod),
		slog.Float64("total", order.TotalPrice),
	)

	result := &PlaceOrderResult{Order: order}

	switch in.PaymentMethod {
	case models.PaymentMethodMpesa:
		updated, push, err := s.requestMpesa(ctx, order, mpesaPhone, []string{models.PaymentStatusPending})
		if err != nil && updated == nil {
			return nil, err
		}
		result.Order = updated
		if err != nil {
			logger.Warn("stk push failed", slog.Any("error", err))
			result.PaymentError = "M-Pesa request failed, please retry the payment"
		} else {
			result.CustomerMessage = push.CustomerMessage
		}

	case models.PaymentMethodPayPal:
		updated, approveURL, err := s.requestPayPal(ctx, order)
		if err != nil && updated == nil {
			return nil, err
		}
		result.Order = updated
		if err != nil {
			logger.Warn("paypal order creation failed", slog.Any("error", err))
			result.PaymentError = "PayPal is unavailable, please try again later"
		}
		result.ApproveURL = approveURL
	}

	s.publish(ctx, events.OrderPlaced, result.Order)
	return result, nil
}

func (s *Service) validatePlaceOrder(in PlaceOrderInput) ([]store.OrderLine, models.ShippingAddress, string, error) {
	var v validation.Collector

	v.Check(len(in.Items) > 0, "at least one item is required")
	lines := make([]store.OrderLine, 0, len(in.Items))
	for i, item := range in.Items {
		id, err := primitive.ObjectIDFromHex(strings.TrimSpace(item.ProductID))
		v.Check(err == nil, "items[%d].productId is invalid", i)
		v.Check(item.Quantity > 0, "items[%d].quantity must be greater than zero", i)
		if err == nil && item.Quantity > 0 {
			lines = append(lines, store.OrderLine{ProductID: id, Quantity: item.Quantity})
		}
	}

	a := in.ShippingAddress
	address := models.ShippingAddress{
		FullName:  strings.TrimSpace(a.FullName),
		Email:     strings.ToLower(strings.TrimSpace(a.Email)),
		County:    strings.TrimSpace(a.County),
		SubCounty: strings.TrimSpace(a.SubCounty),
		Location:  strings.TrimSpace(a.Location),
		Address:   strings.TrimSpace(a.Address),
		Notes:     strings.TrimSpace(a.Notes),
	}
	v.Check(address.FullName != "", "shippingAddress.fullName is required")
	v.Check(address.County != "", "shippingAddress.county is required")
	v.Check(address.SubCounty != "", "shippingAddress.subCounty is required")
	v.Check(address.Location != "", "shippingAddress.location is required")
	v.Check(address.Address != "", "shippingAddress.address is required")
	v.Check(address.Email == "" || strings.Contains(address.Email, "@"), "shippingAddress.email is invalid")

	phone, err := NormalizePhone(a.Phone)
	v.Check(err == nil, "shippingAddress.phone is invalid")
	address.Phone = phone

	mpesaPhone := phone
	if strings.TrimSpace(in.MpesaPhone) != "" {
		normalized, err := NormalizePhone(in.MpesaPhone)
		v.Check(err == nil, "mpesaPhone is invalid")
		mpesaPhone = normalized
	}

	switch in.PaymentMethod {
	case models.PaymentMethodCOD, models.PaymentMethodMpesa, models.PaymentMethodPayPal:
	default:
		v.Check(false, "paymentMethod must be one of cod, mpesa, paypal")
	}

	return lines, address, mpesaPhone, v.Err()
}

// requestMpesa sends an STK push and records the outcome on the order. On a push
// failure it returns the order marked failed together with the push error.
func (s *Service) requestMpesa(ctx context.Context, order *models.Order, phone string, from []string) (*models.Order, *mpesa.STKPushResult, error) {
	push, pushErr := s.mpesa.STKPush(ctx, mpesa.STKPushInput{
		Phone:            phone,
		Amount:           order.TotalPrice,
		AccountReference: order.OrderNumber,
		Description:      "Order payment",
	})

	now := s.now()
	if pushErr != nil {
		updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, store.PaymentChange{
			From:              from,
			To:                models.PaymentStatusFailed,
			Phone:             phone,
			ResultDesc:        pushErr.Error(),
			IncrementAttempts: true,
			Note:              "stk push failed",
			At:                now,
		})
		if err != nil {
			return nil, nil, err
		}
		return updated, nil, fmt.Errorf("%w: %v", ErrPaymentGateway, pushErr)
	}

	updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, store.PaymentChange{
		From:              from,
		To:                models.PaymentStatusAwaitingPayment,
		Reference:         push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Phone:             phone,
		IncrementAttempts: true,
		Note:              "stk push sent",
		At:                now,
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, push, nil
}

func (s *Service) requestPayPal(ctx context.Context, order *models.Order) (*models.Order, string, error) {
	created, createErr := s.paypal.CreateOrder(ctx, paypal.CreateOrderInput{
		ReferenceID: order.OrderNumber,
		CustomID:    order.ID.Hex(),
		Amount:      paypal.ConvertAmount(order.TotalPrice, s.opts.PayPalExchangeRate),
		Currency:    s.opts.PayPalCurrency,
	})

	now := s.now()
	if createErr != nil {
		updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, store.PaymentChange{
			From:              []string{models.PaymentStatusPending},
			To:                models.PaymentStatusFailed,
			ResultDesc:        createErr.Error(),
			IncrementAttempts: true,
			Note:              "paypal order creation failed",
			At:                now,
		})
		if err != nil {
			return nil, "", err
		}
		return updated, "", fmt.Errorf("%w: %v", ErrPaymentGateway, createErr)
	}

	updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, store.PaymentChange{
		From:              []string{models.PaymentStatusPending},
		To:                models.PaymentStatusAwaitingPayment,
		Reference:         created.ID,
		IncrementAttempts: true,
		Note:              "paypal order created",
		At:                now,
	})
	if err != nil {
		return nil, "", err
	}
	return updated, created.ApproveURL, nil
}

// HandleMpesaCallback reconciles an STK push outcome. Replays, unknown references
// and stale transitions are acknowledged without change; only store failures error.
func (s *Service) HandleMpesaCallback(ctx context.Context, cb *mpesa.CallbackResult) error {
	logger := logging.FromContext(ctx, s.logger).With(slog.String("checkout_request_id", cb.CheckoutRequestID))

	key := cache.WebhookKey("mpesa", cb.CheckoutRequestID)
	claimed, err := s.cache.SetIfAbsent(ctx, key, "1", callbackReplayTTL)
	if err != nil {
		logger.Warn("callback replay check failed", slog.Any("error", err))
		claimed = true
	}
	if !claimed {
		logger.Info("duplicate mpesa callback ignored")
		return nil
	}

	release := func() {
		if err := s.cache.Delete(ctx, key); err != nil {
			logger.Warn("callback replay marker not released", slog.Any("error", err))
		}
	}

	order, err := s.repo.GetByPaymentReference(ctx, cb.CheckoutRequestID)
	if errors.Is(err, store.ErrNotFound) {
		release()
		logger.Warn("mpesa callback for unknown reference")
		return nil
	}
	if err != nil {
		release()
		return err
	}
	logger = logger.With(slog.String("order_id", order.ID.Hex()))

	code := cb.ResultCode
	change := store.PaymentChange{
		ResultCode: &code,
		ResultDesc: cb.ResultDesc,
		At:         s.now(),
	}
	eventType := events.OrderPaid
	paid := cb.Succeeded()
	underpaid := paid && cb.Amount < math.Ceil(order.TotalPrice)
	switch {
	case underpaid:
		// A superseded push may still carry the payment, so any issued reference counts.
		change.KnownReference = cb.CheckoutRequestID
		change.From = []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed}
		change.To = models.PaymentStatusFailed
		change.Receipt = cb.Receipt
		change.AmountPaid = cb.Amount
		change.Phone = cb.Phone
		change.Note = fmt.Sprintf("mpesa receipt %s paid %.2f of %.2f", cb.Receipt, cb.Amount, order.TotalPrice)
		eventType = events.OrderPaymentFailed
		logger.Warn("mpesa amount below order total",
			slog.Float64("paid", cb.Amount),
			slog.Float64("total", order.TotalPrice),
		)
	case paid:
		change.KnownReference = cb.CheckoutRequestID
		change.From = []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed}
		change.To = models.PaymentStatusPaid
		change.Receipt = cb.Receipt
		change.AmountPaid = cb.Amount
		change.Phone = cb.Phone
		change.Note = "mpesa receipt " + cb.Receipt
	default:
		// Only the push the customer is currently answering may fail the order.
		change.ExpectedReference = cb.CheckoutRequestID
		change.From = []string{models.PaymentStatusAwaitingPayment}
		change.To = models.PaymentStatusFailed
		change.Note = cb.ResultDesc
		eventType = events.OrderPaymentFailed
	}

	updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, change)
	if errors.Is(err, ErrInvalidStatusTransition) {
		logger.Info("mpesa callback does not apply to current payment state",
			slog.String("payment_status", order.PaymentStatus),
			slog.Int("result_code", cb.ResultCode),
		)
		return nil
	}
	if err != nil {
		release()
		return err
	}

	if paid && !underpaid {
		updated = s.advanceAfterPayment(ctx, updated)
	}

	logger.Info("mpesa payment reconciled", slog.String("payment_status", updated.PaymentStatus))
	s.publish(ctx, eventType, updated)
	return nil
}

// CapturePayPal captures the approved PayPal order for orderID. Capturing an
// already paid order returns it unchanged.
func (s *Service) CapturePayPal(ctx context.Context, orderID primitive.ObjectID, viewer Viewer, paypalOrderID string) (*models.Order, error) {
	if s.paypal == nil {
		return nil, ErrPaymentMethodUnavailable
	}
	logger := logging.FromContext(ctx, s.logger).With(slog.String("order_id", orderID.Hex()))

	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodPayPal {
		return nil, ErrWrongPaymentMethod
	}
	if order.IsPaid() {
		return order, nil
	}
	if paypalOrderID = strings.TrimSpace(paypalOrderID); paypalOrderID != "" && paypalOrderID != order.Payment.Reference {
		return nil, ErrCaptureMismatch
	}
	if order.Payment.Reference == "" {
		return nil, ErrPaymentNotRetryable
	}

	capture, err := s.paypal.CaptureOrder(ctx, order.Payment.Reference)
	if err != nil {
		logger.Warn("paypal capture failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if capture.OrderID != order.Payment.Reference || (capture.CustomID != "" && capture.CustomID != order.ID.Hex()) {
		return nil, ErrCaptureMismatch
	}
	if capture.Status != paypal.StatusCompleted {
		return nil, ErrCaptureIncomplete
	}

	updated, err := s.repo.ChangePaymentStatus(ctx, order.ID, store.PaymentChange{
		From:              []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed},
		To:                models.PaymentStatusPaid,
		ExpectedReference: order.Payment.Reference,
		Receipt:           capture.CaptureID,
		PayerEmail:        capture.PayerEmail,
		AmountPaid:        capture.Amount,
		Note:              "paypal capture " + capture.CaptureID,
		At:                s.now(),
	})
	if errors.Is(err, ErrInvalidStatusTransition) {
		current, getErr := s.getOrder(ctx, orderID)
		if getErr == nil && current.IsPaid() {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	updated = s.advanceAfterPayment(ctx, updated)
	logger.Info("paypal payment captured", slog.String("capture_id", capture.CaptureID))
	s.publish(ctx, events.OrderPaid, updated)
	return updated, nil
}

// RetryMpesa sends a fresh STK push for an unpaid M-Pesa order.
func (s *Service) RetryMpesa(ctx context.Context, orderID primitive.ObjectID, viewer Viewer, phone string) (*PlaceOrderResult, error) {
	if s.mpesa == nil {
		return nil, ErrPaymentMethodUnavailable
	}

	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodMpesa {
		return nil, ErrWrongPaymentMethod
	}
	if order.OrderStatus == models.OrderStatusCancelled ||
		(order.PaymentStatus != models.PaymentStatusFailed && order.PaymentStatus != models.PaymentStatusAwaitingPayment) {
		return nil, ErrPaymentNotRetryable
	}
	if order.Payment.Attempts >= s.opts.MaxMpesaAttempts {
		return nil, ErrTooManyAttempts
	}

	target := order.Payment.Phone
	if target == "" {
		target = order.ShippingAddress.Phone
	}
	if strings.TrimSpace(phone) != "" {
		normalized, err := NormalizePhone(phone)
		if err != nil {
			return nil, validation.New("phone is invalid")
		}
		target = normalized
	}

	from := []string{models.PaymentStatusFailed, models.PaymentStatusAwaitingPayment}
	updated, push, err := s.requestMpesa(ctx, order, target, from)
	if err != nil {
		if updated != nil {
			s.publish(ctx, events.OrderPaymentFailed, updated)
		}
		return nil, err
	}

	logging.FromContext(ctx, s.logger).Info("stk push retried",
		slog.String("order_id", order.ID.Hex()),
		slog.Int("attempts", updated.Payment.Attempts),
	)
	return &PlaceOrderResult{Order: updated, CustomerMessage: push.CustomerMessage}, nil
}

// GetOrder returns the order if viewer may see it.
func (s *Service) GetOrder(ctx context.Context, id primitive.ObjectID, viewer Viewer) (*models.Order, error) {
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(order, viewer) {
		return nil, ErrForbidden
	}
	return order, nil
}

func canView(order *models.Order, viewer Viewer) bool {
	if viewer.IsAdmin {
		return true
	}
	if viewer.UserID != nil && order.BelongsTo(*viewer.UserID) {
		return true
	}
	if order.UserID == nil && viewer.Phone != "" {
		phone, err := NormalizePhone(viewer.Phone)
		return err == nil && phone == order.ShippingAddress.Phone
	}
	return false
}

func (s *Service) ListMine(ctx context.Context, userID primitive.ObjectID, page, limit int64) ([]models.Order, int64, error) {
	return s.repo.List(ctx, store.OrderFilter{UserID: &userID}, page, limit)
}

func (s *Service) ListAll(ctx context.Context, f store.OrderFilter, page, limit int64) ([]models.Order, int64, error) {
	return s.repo.List(ctx, f, page, limit)
}

// CancelByCustomer cancels an unpaid order that has not shipped and restocks its items.
func (s *Service) CancelByCustomer(ctx context.Context, id primitive.ObjectID, viewer Viewer, reason string) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, id, viewer); err != nil {
		return nil, err
	}

	note := strings.TrimSpace(reason)
	if note == "" {
		note = "cancelled by customer"
	}

	updated, err := s.repo.Cancel(ctx, id, store.StatusChange{
		From:        []string{models.OrderStatusPending, models.OrderStatusProcessing},
		PaymentFrom: []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed},
		Note:        note,
		At:          s.now(),
	})
	if errors.Is(err, ErrInvalidStatusTransition) {
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx, s.logger).Info("order cancelled by customer", slog.String("order_id", id.Hex()))
	s.publish(ctx, events.OrderStatusChanged, updated)
	return updated, nil
}

var orderTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
}

// allowedFrom lists the order statuses that may move to target.
func allowedFrom(target string) []string {
	var from []string
	for _, status := range []string{models.OrderStatusPending, models.OrderStatusProcessing, models.OrderStatusShipped} {
		for _, next := range orderTransitions[status] {
			if next == target {
				from = append(from, status)
			}
		}
	}
	return from
}

// UpdateStatus applies an admin order status change. Delivering a cash order
// settles it; cancelling restocks and refunds a paid order.
func (s *Service) UpdateStatus(ctx context.Context, id primitive.ObjectID, target, note string) (*models.Order, error) {
	from := allowedFrom(target)
	if len(from) == 0 {
		return nil, validation.New("orderStatus must be one of processing, shipped, delivered, cancelled")
	}

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	change := store.StatusChange{
		From: from,
		To:   target,
		Note: strings.TrimSpace(note),
		At:   s.now(),
	}

	settled := false
	var updated *models.Order
	switch {
	case target == models.OrderStatusCancelled:
		if order.IsPaid() {
			change.PaymentFrom = []string{models.PaymentStatusPaid}
			change.PaymentStatus = models.PaymentStatusRefunded
		} else {
			change.PaymentFrom = []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed}
		}
		updated, err = s.repo.Cancel(ctx, id, change)

	case target == models.OrderStatusDelivered && order.PaymentMethod == models.PaymentMethodCOD && order.PaymentStatus == models.PaymentStatusPending:
		change.PaymentFrom = []string{models.PaymentStatusPending}
		change.PaymentStatus = models.PaymentStatusPaid
		settled = true
		updated, err = s.repo.ChangeOrderStatus(ctx, id, change)

	default:
		updated, err = s.repo.ChangeOrderStatus(ctx, id, change)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx, s.logger).Info("order status updated",
		slog.String("order_id", id.Hex()),
		slog.String("from", order.OrderStatus),
		slog.String("to", target),
	)
	s.publish(ctx, events.OrderStatusChanged, updated)
	if settled {
		s.publish(ctx, events.OrderPaid, updated)
	}
	return updated, nil
}

// UpdatePayment applies an admin payment status change: mark an unpaid order
// paid, or refund a paid one.
func (s *Service) UpdatePayment(ctx context.Context, id primitive.ObjectID, target, note string) (*models.Order, error) {
	change := store.PaymentChange{
		To:   target,
		Note: strings.TrimSpace(note),
		At:   s.now(),
	}
	switch target {
	case models.PaymentStatusPaid:
		change.From = []string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment, models.PaymentStatusFailed}
	case models.PaymentStatusRefunded:
		change.From = []string{models.PaymentStatusPaid}
	default:
		return nil, validation.New("paymentStatus must be one of paid, refunded")
	}
	if change.Note == "" {
		change.Note = "updated by admin"
	}

	updated, err := s.repo.ChangePaymentStatus(ctx, id, change)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if target == models.PaymentStatusPaid {
		updated = s.advanceAfterPayment(ctx, updated)
		s.publish(ctx, events.OrderPaid, updated)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id primitive.ObjectID) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err == nil {
		logging.FromContext(ctx, s.logger).Info("order deleted", slog.String("order_id", id.Hex()))
	}
	return err
}

func (s *Service) Stats(ctx context.Context) (*store.OrderStats, error) {
	return s.repo.Stats(ctx)
}

// advanceAfterPayment moves a pending order to processing once it is paid.
func (s *Service) advanceAfterPayment(ctx context.Context, order *models.Order) *models.Order {
	if order.OrderStatus != models.OrderStatusPending {
		if order.OrderStatus == models.OrderStatusCancelled {
			logging.FromContext(ctx, s.logger).Warn("payment received for cancelled order", slog.String("order_id", order.ID.Hex()))
		}
		return order
	}

	updated, err := s.repo.ChangeOrderStatus(ctx, order.ID, store.StatusChange{
		From: []string{models.OrderStatusPending},
		To:   models.OrderStatusProcessing,
		Note: "payment received",
		At:   s.now(),
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidStatusTransition) {
			logging.FromContext(ctx, s.logger).Error("advance paid order failed",
				slog.String("order_id", order.ID.Hex()),
				slog.Any("error", err),
			)
		}
		return order
	}
	return updated
}

func (s *Service) getOrder(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *Service) publish(ctx context.Context, eventType string, order *models.Order) {
	if s.publisher == nil || order == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, order)); err != nil {
		logging.FromContext(ctx, s.logger).Error("publish event failed",
			slog.String("event_type", eventType),
			slog.String("order_id", order.ID.Hex()),
			slog.Any("error", err),
		)
	}
}
