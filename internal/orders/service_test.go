package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type harness struct {
	svc       *Service
	repo      *fakeRepo
	mpesa     *fakeMpesa
	paypal    *fakePayPal
	publisher *recordingPublisher
	product   primitive.ObjectID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	memory, err := cache.NewMemoryProvider(64)
	require.NoError(t, err)

	h := &harness{
		repo:      newFakeRepo(),
		mpesa:     &fakeMpesa{},
		paypal:    &fakePayPal{},
		publisher: &recordingPublisher{},
	}
	h.product = h.repo.addProduct("Maize Flour 2kg", 250, 10)
	h.svc = NewService(Deps{
		Repo:      h.repo,
		Fees:      fakeFees{"Nairobi/Westlands/Parklands": 200},
		Mpesa:     h.mpesa,
		PayPal:    h.paypal,
		Cache:     memory,
		Publisher: h.publisher,
		Logger:    logging.Discard(),
	}, Options{PayPalExchangeRate: 130})
	h.svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return h
}

func (h *harness) input(method string, quantity int) PlaceOrderInput {
	return PlaceOrderInput{
		Items: []ItemInput{{ProductID: h.product.Hex(), Quantity: quantity}},
		ShippingAddress: models.ShippingAddress{
			FullName:  "Achieng Otieno",
			Phone:     "0712 345 678",
			County:    "Nairobi",
			SubCounty: "Westlands",
			Location:  "Parklands",
			Address:   "3rd Parklands Ave",
		},
		PaymentMethod: method,
	}
}

func TestPlaceOrderCashOnDelivery(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 2))
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, models.OrderStatusProcessing, o.OrderStatus)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, 500.0, o.ItemsPrice)
	assert.Equal(t, 200.0, o.DeliveryFee)
	assert.Equal(t, 700.0, o.TotalPrice)
	assert.Equal(t, "254712345678", o.ShippingAddress.Phone)
	assert.Regexp(t, `^ORD-20260301-[A-Z2-7]{6}$`, o.OrderNumber)
	assert.Equal(t, 8, h.repo.products[h.product].stock)
	assert.Empty(t, h.mpesa.pushes)
	assert.Equal(t, []string{events.OrderPlaced}, h.publisher.types())
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t)

	in := h.input("bitcoin", 0)
	in.ShippingAddress.Phone = "12"
	in.ShippingAddress.FullName = " "

	_, err := h.svc.PlaceOrder(t.Context(), in)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "items[0].quantity must be greater than zero")
	assert.Contains(t, verr.Details, "shippingAddress.phone is invalid")
	assert.Contains(t, verr.Details, "shippingAddress.fullName is required")
	assert.Contains(t, verr.Details, "paymentMethod must be one of cod, mpesa, paypal")
}

func TestPlaceOrderOutOfStock(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 11))
	var stockErr store.OutOfStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 10, h.repo.products[h.product].stock)
	assert.Empty(t, h.publisher.types())
}

func TestPlaceOrderDisabledMethod(t *testing.T) {
	h := newHarness(t)
	h.svc.mpesa = nil

	_, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodMpesa, 1))
	assert.ErrorIs(t, err, ErrPaymentMethodUnavailable)
	assert.False(t, h.svc.MethodEnabled(models.PaymentMethodMpesa))
	assert.True(t, h.svc.MethodEnabled(models.PaymentMethodCOD))
}

func TestPlaceOrderMpesaSendsPush(t *testing.T) {
	h := newHarness(t)

	in := h.input(models.PaymentMethodMpesa, 1)
	in.MpesaPhone = "+254 722 000 111"
	res, err := h.svc.PlaceOrder(t.Context(), in)
	require.NoError(t, err)

	require.Len(t, h.mpesa.pushes, 1)
	push := h.mpesa.pushes[0]
	assert.Equal(t, "254722000111", push.Phone)
	assert.Equal(t, 450.0, push.Amount)
	assert.Equal(t, res.Order.OrderNumber, push.AccountReference)

	assert.Equal(t, models.OrderStatusPending, res.Order.OrderStatus)
	assert.Equal(t, models.PaymentStatusAwaitingPayment, res.Order.PaymentStatus)
	assert.NotEmpty(t, res.Order.Payment.Reference)
	assert.Equal(t, 1, res.Order.Payment.Attempts)
	assert.NotEmpty(t, res.CustomerMessage)
	assert.Empty(t, res.PaymentError)
}

func TestPlaceOrderMpesaPushFailureKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.mpesa.err = errors.New("daraja unavailable")

	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodMpesa, 1))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.Order.PaymentStatus)
	assert.NotEmpty(t, res.PaymentError)
	assert.Equal(t, 9, h.repo.products[h.product].stock)
}

func placeMpesa(t *testing.T, h *harness) *models.Order {
	t.Helper()
	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodMpesa, 1))
	require.NoError(t, err)
	return res.Order
}

func TestMpesaCallbackSuccess(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)

	cb := &mpesa.CallbackResult{
		CheckoutRequestID: order.Payment.Reference,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Amount:            450,
		Receipt:           "NLJ7RT61SV",
		Phone:             "254712345678",
	}
	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), cb))

	got := h.repo.orders[order.ID]
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, got.OrderStatus)
	assert.Equal(t, "NLJ7RT61SV", got.Payment.Receipt)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, []string{events.OrderPlaced, events.OrderPaid}, h.publisher.types())

	// replay is acknowledged without a second event
	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), cb))
	assert.Equal(t, []string{events.OrderPlaced, events.OrderPaid}, h.publisher.types())
}

func TestMpesaCallbackFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)

	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), &mpesa.CallbackResult{
		CheckoutRequestID: order.Payment.Reference,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}))
	got := h.repo.orders[order.ID]
	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
	assert.Equal(t, 9, h.repo.products[h.product].stock)

	res, err := h.svc.RetryMpesa(t.Context(), order.ID, Viewer{IsAdmin: true}, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusAwaitingPayment, res.Order.PaymentStatus)
	assert.Equal(t, 2, res.Order.Payment.Attempts)
	assert.NotEqual(t, order.Payment.Reference, res.Order.Payment.Reference)
	assert.Len(t, h.mpesa.pushes, 2)
}

func TestMpesaCallbackUnknownReference(t *testing.T) {
	h := newHarness(t)
	err := h.svc.HandleMpesaCallback(t.Context(), &mpesa.CallbackResult{CheckoutRequestID: "ws_CO_missing"})
	assert.NoError(t, err)

	// the replay marker is released so a later delivery is processed
	claimed, err := h.svc.cache.SetIfAbsent(t.Context(), cache.WebhookKey("mpesa", "ws_CO_missing"), "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMpesaCallbackUnderpaid(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)

	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), &mpesa.CallbackResult{
		CheckoutRequestID: order.Payment.Reference,
		ResultCode:        0,
		Amount:            1,
		Receipt:           "NLJ7RT61SW",
	}))

	got := h.repo.orders[order.ID]
	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, got.OrderStatus)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, 1.0, got.Payment.AmountPaid)
	assert.Equal(t, []string{events.OrderPlaced, events.OrderPaymentFailed}, h.publisher.types())
}

func TestMpesaCallbackOnSupersededReference(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)
	first := order.Payment.Reference

	res, err := h.svc.RetryMpesa(t.Context(), order.ID, Viewer{Phone: "0712345678"}, "")
	require.NoError(t, err)
	require.NotEqual(t, first, res.Order.Payment.Reference)

	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), &mpesa.CallbackResult{
		CheckoutRequestID: first,
		ResultCode:        0,
		Amount:            450,
		Receipt:           "NLJ7RT61SX",
		Phone:             "254712345678",
	}))

	got := h.repo.orders[order.ID]
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, got.OrderStatus)
	assert.Equal(t, "NLJ7RT61SX", got.Payment.Receipt)
	assert.Equal(t, []string{first, res.Order.Payment.Reference}, got.Payment.References)
}

func TestMpesaCallbackStaleFailureIgnored(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)
	first := order.Payment.Reference

	_, err := h.svc.RetryMpesa(t.Context(), order.ID, Viewer{IsAdmin: true}, "")
	require.NoError(t, err)

	require.NoError(t, h.svc.HandleMpesaCallback(t.Context(), &mpesa.CallbackResult{
		CheckoutRequestID: first,
		ResultCode:        1037,
		ResultDesc:        "DS timeout user cannot be reached",
	}))
	assert.Equal(t, models.PaymentStatusAwaitingPayment, h.repo.orders[order.ID].PaymentStatus)
	assert.Equal(t, []string{events.OrderPlaced}, h.publisher.types())
}

func TestRetryMpesaLimits(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)
	h.repo.orders[order.ID].Payment.Attempts = DefaultMaxMpesaAttempts

	_, err := h.svc.RetryMpesa(t.Context(), order.ID, Viewer{IsAdmin: true}, "")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	h.repo.orders[order.ID].PaymentStatus = models.PaymentStatusPaid
	_, err = h.svc.RetryMpesa(t.Context(), order.ID, Viewer{IsAdmin: true}, "")
	assert.ErrorIs(t, err, ErrPaymentNotRetryable)

	_, err = h.svc.RetryMpesa(t.Context(), order.ID, Viewer{Phone: "0799999999"}, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPayPalCheckoutAndCapture(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodPayPal, 2))
	require.NoError(t, err)
	assert.Contains(t, res.ApproveURL, "PP-ORDER-1")
	require.Len(t, h.paypal.created, 1)
	assert.Equal(t, 5.38, h.paypal.created[0].Amount)
	assert.Equal(t, "USD", h.paypal.created[0].Currency)

	order := res.Order
	buyer := Viewer{Phone: "0712345678"}
	_, err = h.svc.CapturePayPal(t.Context(), order.ID, buyer, "PP-OTHER")
	assert.ErrorIs(t, err, ErrCaptureMismatch)

	h.paypal.capture = &paypal.Capture{
		OrderID:    "PP-ORDER-1",
		Status:     paypal.StatusCompleted,
		CaptureID:  "CAP-9",
		PayerEmail: "buyer@example.com",
		Amount:     5.38,
		CustomID:   order.ID.Hex(),
	}
	stranger := primitive.NewObjectID()
	_, err = h.svc.CapturePayPal(t.Context(), order.ID, Viewer{UserID: &stranger}, "PP-ORDER-1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.svc.CapturePayPal(t.Context(), order.ID, Viewer{Phone: "0799999999"}, "PP-ORDER-1")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, h.paypal.captured)

	paid, err := h.svc.CapturePayPal(t.Context(), order.ID, buyer, "PP-ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, paid.OrderStatus)

	again, err := h.svc.CapturePayPal(t.Context(), order.ID, Viewer{IsAdmin: true}, "")
	require.NoError(t, err)
	assert.True(t, again.IsPaid())
	assert.Len(t, h.paypal.captured, 1)
}

func TestCapturePayPalIncomplete(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodPayPal, 1))
	require.NoError(t, err)

	h.paypal.capture = &paypal.Capture{OrderID: "PP-ORDER-1", Status: "PENDING"}
	_, err = h.svc.CapturePayPal(t.Context(), res.Order.ID, Viewer{IsAdmin: true}, "")
	assert.ErrorIs(t, err, ErrCaptureIncomplete)
}

func TestPlaceOrderPayPalCreateFailureKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.paypal.createErr = errors.New("paypal: 503 service unavailable")

	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodPayPal, 1))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, models.PaymentStatusFailed, res.Order.PaymentStatus)
	assert.Equal(t, "PayPal is unavailable, please try again later", res.PaymentError)
	assert.Empty(t, res.ApproveURL)
	assert.Equal(t, 1, res.Order.Payment.Attempts)
	assert.Equal(t, 9, h.repo.products[h.product].stock)

	stored := h.repo.orders[res.Order.ID]
	require.NotNil(t, stored)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, []string{events.OrderPlaced}, h.publisher.types())
}

func TestGetOrderVisibility(t *testing.T) {
	h := newHarness(t)
	owner := primitive.NewObjectID()

	in := h.input(models.PaymentMethodCOD, 1)
	in.UserID = &owner
	owned, err := h.svc.PlaceOrder(t.Context(), in)
	require.NoError(t, err)
	guest, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 1))
	require.NoError(t, err)

	_, err = h.svc.GetOrder(t.Context(), owned.Order.ID, Viewer{UserID: &owner})
	assert.NoError(t, err)
	stranger := primitive.NewObjectID()
	_, err = h.svc.GetOrder(t.Context(), owned.Order.ID, Viewer{UserID: &stranger})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.svc.GetOrder(t.Context(), owned.Order.ID, Viewer{Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.GetOrder(t.Context(), guest.Order.ID, Viewer{Phone: "+254712345678"})
	assert.NoError(t, err)
	_, err = h.svc.GetOrder(t.Context(), primitive.NewObjectID(), Viewer{IsAdmin: true})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelByCustomerRestocks(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 3))
	require.NoError(t, err)
	assert.Equal(t, 7, h.repo.products[h.product].stock)

	viewer := Viewer{Phone: "0712345678"}
	cancelled, err := h.svc.CancelByCustomer(t.Context(), res.Order.ID, viewer, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, 10, h.repo.products[h.product].stock)

	_, err = h.svc.CancelByCustomer(t.Context(), res.Order.ID, viewer, "")
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestUpdateStatusTransitions(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 1))
	require.NoError(t, err)
	id := res.Order.ID

	_, err = h.svc.UpdateStatus(t.Context(), id, models.OrderStatusDelivered, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = h.svc.UpdateStatus(t.Context(), id, "lost", "")
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)

	shipped, err := h.svc.UpdateStatus(t.Context(), id, models.OrderStatusShipped, "rider assigned")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.OrderStatus)

	delivered, err := h.svc.UpdateStatus(t.Context(), id, models.OrderStatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, delivered.PaymentStatus)
	assert.Contains(t, h.publisher.types(), events.OrderPaid)

	_, err = h.svc.UpdateStatus(t.Context(), id, models.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestAdminCancelPaidOrderRefunds(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)
	_, err := h.svc.UpdatePayment(t.Context(), order.ID, models.PaymentStatusPaid, "")
	require.NoError(t, err)

	cancelled, err := h.svc.UpdateStatus(t.Context(), order.ID, models.OrderStatusCancelled, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 10, h.repo.products[h.product].stock)
}

func TestUpdatePaymentRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	order := placeMpesa(t, h)

	_, err := h.svc.UpdatePayment(t.Context(), order.ID, models.PaymentStatusAwaitingPayment, "")
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)

	_, err = h.svc.UpdatePayment(t.Context(), order.ID, models.PaymentStatusRefunded, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestDeleteOrder(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.PlaceOrder(t.Context(), h.input(models.PaymentMethodCOD, 1))
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(t.Context(), res.Order.ID))
	assert.ErrorIs(t, h.svc.Delete(t.Context(), res.Order.ID), ErrOrderNotFound)
}
