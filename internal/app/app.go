// Package app wires configuration, storage, gateways and services into a runnable storefront.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/account"
	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/delivery"
	"storefront/internal/email"
	"storefront/internal/events"
	"storefront/internal/notifications"
	"storefront/internal/orders"
	"storefront/internal/payments/mpesa"
	"storefront/internal/payments/paypal"
	"storefront/internal/server"
	"storefront/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	cacheSize       = 4096
)

// Database is an open MongoDB connection and the storefront database on it.
type Database struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// OpenDatabase connects, pings and ensures indexes.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Database, error) {
	client, err := database.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.DBName)
	logger.Info("mongodb connected", slog.String("database", db.Name()))

	if err := database.EnsureIndexes(ctx, db, logger); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &Database{Client: client, DB: db}, nil
}

func (d *Database) Close(ctx context.Context) error {
	return d.Client.Disconnect(ctx)
}

// NewCache builds the configured cache provider.
func NewCache(cfg *config.Config) (cache.Provider, error) {
	return cache.NewProvider(cache.Config{
		Provider: cfg.CacheProvider,
		RedisURL: cfg.RedisURL,
		Size:     cacheSize,
	})
}

// NewAuthService builds the account service used by the API and the create-admin command.
func NewAuthService(cfg *config.Config, db *mongo.Database, logger *slog.Logger) (*auth.Service, *auth.TokenIssuer) {
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL())
	svc := auth.NewService(
		store.NewUserStore(db),
		store.NewRefreshTokenStore(db),
		issuer,
		cfg.RefreshTTL(),
		logger,
	)
	return svc, issuer
}

// App owns every long-lived resource of a running API process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *Database
	cache     cache.Provider
	amqpConn  *amqp.Connection
	publisher events.Publisher
	notifier  *notifications.Notifier
	server    *server.Server
}

// New wires the storefront. Resources acquired before a failure are released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if a.db, err = OpenDatabase(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if a.cache, err = NewCache(cfg); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	logger.Info("cache ready", slog.String("provider", cfg.CacheProvider))

	mailer, err := email.NewProvider(email.Config{
		Provider:     cfg.EmailProvider,
		From:         cfg.EmailFrom,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUsername: cfg.SMTPUsername,
		SMTPPassword: cfg.SMTPPassword,
		ResendAPIKey: cfg.ResendAPIKey,
	}, logger)
	if err != nil {
		return nil, err
	}
	if a.notifier, err = notifications.NewNotifier(mailer, cfg.StoreName, logger); err != nil {
		return nil, err
	}

	if err := a.openEvents(); err != nil {
		return nil, err
	}

	db := a.db.DB
	authSvc, issuer := NewAuthService(cfg, db, logger)
	products := store.NewProductStore(db)
	catalogSvc := catalog.NewService(products, store.NewCategoryStore(db), logger)
	deliverySvc := delivery.NewService(store.NewDeliveryStore(db), a.cache, logger)
	accountSvc := account.NewService(store.NewUserStore(db), products, logger)

	deps := orders.Deps{
		Repo:      store.NewOrderStore(db),
		Fees:      deliverySvc,
		Cache:     a.cache,
		Publisher: a.publisher,
		Logger:    logger,
	}
	if cfg.MpesaEnabled() {
		callbackURL, err := mpesa.SignedCallbackURL(cfg.MpesaCallbackURL, cfg.MpesaCallbackSecret)
		if err != nil {
			return nil, err
		}
		client, err := mpesa.NewClient(mpesa.Config{
			Environment:    cfg.MpesaEnv,
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			ShortCode:      cfg.MpesaShortCode,
			Passkey:        cfg.MpesaPassKey,
			CallbackURL:    callbackURL,
		})
		if err != nil {
			return nil, err
		}
		deps.Mpesa = client
	}
	if cfg.PayPalEnabled() {
		deps.PayPal = paypal.NewClient(paypal.Config{
			Environment:  cfg.PayPalEnv,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
		})
	}
	logger.Info("payment methods configured",
		slog.Bool("mpesa", deps.Mpesa != nil),
		slog.Bool("paypal", deps.PayPal != nil),
	)

	orderSvc := orders.NewService(deps, orders.Options{
		Currency:           cfg.StoreCurrency,
		PayPalCurrency:     cfg.PayPalCurrency,
		PayPalExchangeRate: cfg.PayPalExchangeRate,
	})

	a.server, err = server.New(server.Services{
		Auth:     authSvc,
		Catalog:  catalogSvc,
		Delivery: deliverySvc,
		Orders:   orderSvc,
		Account:  accountSvc,
		DB:       database.Primary{Client: a.db.Client},
		Tokens:   issuer,
	}, server.Options{
		Port:                cfg.Port,
		CORSOrigins:         cfg.CORSOrigins,
		MpesaCallbackSecret: cfg.MpesaCallbackSecret,
	}, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openEvents publishes to RabbitMQ when configured, otherwise dispatches in process.
func (a *App) openEvents() error {
	if a.cfg.RabbitMQURL == "" {
		a.publisher = events.NewInlinePublisher(a.notifier.Handle, a.logger, 0)
		a.logger.Info("events dispatched in process")
		return nil
	}

	conn, err := events.Dial(a.cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	a.amqpConn = conn

	publisher, err := events.NewAMQPPublisher(conn)
	if err != nil {
		return err
	}
	a.publisher = publisher
	a.logger.Info("events published to rabbitmq")
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	var consumerDone <-chan struct{}
	if a.amqpConn != nil {
		done, err := events.NewConsumer(a.amqpConn, a.notifier.Handle, a.logger).Start(ctx)
		if err != nil {
			return fmt.Errorf("start notifications consumer: %w", err)
		}
		consumerDone = done
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-serverErr:
		if runErr != nil {
			a.logger.Error("server failed", slog.Any("error", runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			a.logger.Warn("notifications consumer did not stop in time")
		}
	}
	a.release(shutdownCtx)
	return runErr
}

// release closes whatever New managed to open, in reverse order.
func (a *App) release(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("event publisher close failed", slog.Any("error", err))
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			a.logger.Warn("rabbitmq close failed", slog.Any("error", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", slog.Any("error", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			a.logger.Warn("mongodb disconnect failed", slog.Any("error", err))
		}
	}
}
