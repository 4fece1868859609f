package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/handlers"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

// Services is everything the router hands requests to.
type Services struct {
	Auth     handlers.AuthService
	Catalog  handlers.CatalogService
	Delivery handlers.DeliveryService
	Orders   handlers.OrderService
	Account  handlers.AccountService
	DB       handlers.Pinger
	Tokens   middleware.TokenParser
}

func (s Services) validate() error {
	switch {
	case s.Auth == nil:
		return errors.New("auth service is required")
	case s.Catalog == nil:
		return errors.New("catalog service is required")
	case s.Delivery == nil:
		return errors.New("delivery service is required")
	case s.Orders == nil:
		return errors.New("order service is required")
	case s.Account == nil:
		return errors.New("account service is required")
	case s.DB == nil:
		return errors.New("database pinger is required")
	case s.Tokens == nil:
		return errors.New("token parser is required")
	}
	return nil
}

type Options struct {
	Port        string
	CORSOrigins []string
	// MpesaCallbackSecret must accompany every M-Pesa callback. Empty rejects them all.
	MpesaCallbackSecret string
}

type Server struct {
	logger     *slog.Logger
	port       string
	httpServer *http.Server
}

func New(svcs Services, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := svcs.validate(); err != nil {
		return nil, err
	}
	if opts.Port == "" {
		opts.Port = "8080"
	}

	s := &Server{logger: logger, port: opts.Port}
	s.httpServer = &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           NewRouter(svcs, opts, logger),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Run blocks until the listener fails or Close is called.
func (s *Server) Run() error {
	s.logger.Info("server starting", slog.String("port", s.port))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// NewRouter builds the gin engine with every public, customer and admin route.
func NewRouter(svcs Services, opts Options, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(opts.CORSOrigins))

	requireUser := middleware.RequireAuth(svcs.Tokens)
	optionalUser := middleware.OptionalAuth(svcs.Tokens)

	r.GET("/healthz", handlers.Healthz(svcs.DB))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", handlers.Register(svcs.Auth))
		authGroup.POST("/login", handlers.Login(svcs.Auth))
		authGroup.POST("/refresh", handlers.Refresh(svcs.Auth))
		authGroup.POST("/logout", handlers.Logout(svcs.Auth))
		authGroup.GET("/me", requireUser, handlers.GetMe(svcs.Auth))
		authGroup.PUT("/me", requireUser, handlers.UpdateMe(svcs.Auth))
	}

	r.GET("/products", handlers.GetProducts(svcs.Catalog))
	r.GET("/products/:id", handlers.GetProduct(svcs.Catalog))
	r.GET("/categories", handlers.GetCategories(svcs.Catalog))

	deliveryGroup := r.Group("/delivery")
	{
		deliveryGroup.GET("/counties", handlers.GetCounties(svcs.Delivery))
		deliveryGroup.GET("/counties/:county/sub-counties", handlers.GetSubCounties(svcs.Delivery))
		deliveryGroup.GET("/locations", handlers.GetLocations(svcs.Delivery))
		deliveryGroup.GET("/fee", handlers.GetDeliveryFee(svcs.Delivery))
	}

	orderGroup := r.Group("/orders")
	{
		orderGroup.POST("", optionalUser, handlers.CreateOrder(svcs.Orders))
		orderGroup.GET("/mine", requireUser, handlers.GetMyOrders(svcs.Orders))
		orderGroup.GET("/:id", optionalUser, handlers.GetOrder(svcs.Orders))
		orderGroup.POST("/:id/cancel", optionalUser, handlers.CancelOrder(svcs.Orders))
		orderGroup.POST("/:id/paypal/capture", optionalUser, handlers.CapturePayPal(svcs.Orders))
		orderGroup.POST("/:id/mpesa/retry", optionalUser, handlers.RetryMpesa(svcs.Orders))
	}

	r.POST("/payments/mpesa/callback", handlers.MpesaCallback(svcs.Orders, opts.MpesaCallbackSecret))

	user := r.Group("/user")
	user.Use(requireUser)
	{
		user.GET("/wishlist", handlers.GetWishlist(svcs.Account))
		user.POST("/wishlist", handlers.AddToWishlist(svcs.Account))
		user.DELETE("/wishlist/:productId", handlers.RemoveFromWishlist(svcs.Account))

		user.GET("/addresses", handlers.GetUserAddresses(svcs.Account))
		user.POST("/addresses", handlers.CreateUserAddress(svcs.Account))
		user.PUT("/addresses/:id", handlers.UpdateUserAddress(svcs.Account))
		user.DELETE("/addresses/:id", handlers.DeleteUserAddress(svcs.Account))
	}

	admin := r.Group("/admin/api")
	admin.Use(requireUser, middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/me", handlers.GetMe(svcs.Auth))

		admin.GET("/products", handlers.GetAllProducts(svcs.Catalog))
		admin.GET("/products/:id", handlers.GetProductAdmin(svcs.Catalog))
		admin.POST("/products", handlers.CreateProduct(svcs.Catalog))
		admin.PUT("/products/:id", handlers.UpdateProduct(svcs.Catalog))
		admin.DELETE("/products/:id", handlers.DeleteProduct(svcs.Catalog))

		admin.GET("/categories", handlers.GetAllCategories(svcs.Catalog))
		admin.POST("/categories", handlers.CreateCategory(svcs.Catalog))
		admin.PUT("/categories/:id", handlers.UpdateCategory(svcs.Catalog))
		admin.DELETE("/categories/:id", handlers.DeleteCategory(svcs.Catalog))

		admin.GET("/delivery-locations", handlers.GetAllDeliveryLocations(svcs.Delivery))
		admin.POST("/delivery-locations", handlers.CreateDeliveryLocation(svcs.Delivery))
		admin.PUT("/delivery-locations/:id", handlers.UpdateDeliveryLocation(svcs.Delivery))
		admin.DELETE("/delivery-locations/:id", handlers.DeleteDeliveryLocation(svcs.Delivery))

		admin.GET("/orders", handlers.GetAllOrders(svcs.Orders))
		admin.GET("/orders/:id", handlers.GetOrder(svcs.Orders))
		admin.PUT("/orders/:id/status", handlers.UpdateOrderStatus(svcs.Orders))
		admin.PUT("/orders/:id/payment", handlers.UpdatePaymentStatus(svcs.Orders))
		admin.DELETE("/orders/:id", handlers.DeleteOrder(svcs.Orders))

		admin.GET("/stats", handlers.GetOrderStats(svcs.Orders))
	}

	return r
}
