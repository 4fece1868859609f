package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/delivery"
	"storefront/internal/logging"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/payments/mpesa"
	"storefront/internal/store"
)

type createOrderRequest struct {
	Items           []orders.ItemInput     `json:"items" binding:"required,min=1,dive"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod" binding:"required"`
	MpesaPhone      string                 `json:"mpesaPhone"`
}

type capturePayPalRequest struct {
	PayPalOrderID string `json:"paypalOrderId"`
}

type retryMpesaRequest struct {
	Phone string `json:"phone"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func respondOrderError(c *gin.Context, route string, err error) {
	var (
		stockErr   store.OutOfStockError
		missingErr store.ProductNotFoundError
	)
	switch {
	case isValidationError(err):
		respondValidationError(c, err)
	case errors.As(err, &stockErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":     "insufficient stock",
			"productId": stockErr.ProductID.Hex(),
			"name":      stockErr.Name,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.As(err, &missingErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "product not available",
			"productId": missingErr.ProductID.Hex(),
		})
	case errors.Is(err, delivery.ErrUnknownLocation):
		respondWithError(c, http.StatusBadRequest, route, err.Error())
	case errors.Is(err, orders.ErrPaymentMethodUnavailable):
		respondWithError(c, http.StatusBadRequest, route, "payment method is not available")
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrForbidden):
		respondWithError(c, http.StatusNotFound, route, "order not found")
	case errors.Is(err, orders.ErrWrongPaymentMethod), errors.Is(err, orders.ErrCaptureMismatch):
		respondWithError(c, http.StatusBadRequest, route, err.Error())
	case errors.Is(err, orders.ErrNotCancellable),
		errors.Is(err, orders.ErrPaymentNotRetryable),
		errors.Is(err, orders.ErrInvalidStatusTransition):
		respondWithError(c, http.StatusConflict, route, err.Error())
	case errors.Is(err, orders.ErrTooManyAttempts):
		respondWithError(c, http.StatusTooManyRequests, route, err.Error())
	case errors.Is(err, orders.ErrCaptureIncomplete):
		respondWithError(c, http.StatusPaymentRequired, route, err.Error())
	case errors.Is(err, orders.ErrPaymentGateway):
		logging.FromContext(c.Request.Context(), nil).Warn("payment provider error", slog.Any("error", err))
		respondWithError(c, http.StatusBadGateway, route, "payment provider is unavailable, please retry")
	default:
		respondInternal(c, route, err)
	}
}

// viewerFrom identifies the caller: a signed-in user, or a guest proving
// ownership with the order's phone number.
func viewerFrom(c *gin.Context) orders.Viewer {
	viewer := orders.Viewer{Phone: strings.TrimSpace(c.Query("phone"))}
	if id, ok := middleware.CurrentUserID(c); ok {
		viewer.UserID = &id
		viewer.IsAdmin = middleware.IsAdmin(c)
	}
	return viewer
}

/*
POST /orders
Guests and signed-in customers. The order is stored even when the payment
request fails; the response then carries paymentError.
*/
func CreateOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route)

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		in := orders.PlaceOrderInput{
			Items:           req.Items,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
			MpesaPhone:      req.MpesaPhone,
		}
		if id, ok := middleware.CurrentUserID(c); ok {
			in.UserID = &id
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		result, err := svc.PlaceOrder(ctx, in)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func GetOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		order, err := svc.GetOrder(ctx, id, viewerFrom(c))
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func GetMyOrders(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/mine"
		defer handlePanic(c, route)

		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
			return
		}
		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid pagination params")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		list, total, err := svc.ListMine(ctx, userID, page, limit)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginated(list, page, limit, total))
	}
}

func CancelOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/cancel"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		var req cancelOrderRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondValidationError(c, err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		order, err := svc.CancelByCustomer(ctx, id, viewerFrom(c), req.Reason)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// CapturePayPal is called by the storefront after the buyer approves on PayPal.
func CapturePayPal(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/paypal/capture"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		var req capturePayPalRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondValidationError(c, err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		order, err := svc.CapturePayPal(ctx, id, viewerFrom(c), req.PayPalOrderID)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func RetryMpesa(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/mpesa/retry"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		var req retryMpesaRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondValidationError(c, err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		result, err := svc.RetryMpesa(ctx, id, viewerFrom(c), req.Phone)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

/*
POST /payments/mpesa/callback
Safaricom retries anything but a 2xx, so only store failures answer 500.
*/
func MpesaCallback(svc OrderService, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/mpesa/callback"
		defer handlePanic(c, route)

		logger := logging.FromContext(c.Request.Context(), nil)

		token := c.Query(mpesa.CallbackTokenParam)
		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn("mpesa callback with bad token", slog.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
			return
		}

		cb, err := mpesa.ParseCallback(c.Request.Body)
		if err != nil {
			logger.Warn("malformed mpesa callback", slog.Any("error", err))
			c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.HandleMpesaCallback(ctx, cb); err != nil {
			logger.Error("mpesa callback not processed",
				slog.String("checkout_request_id", cb.CheckoutRequestID),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "Temporary failure"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
}
