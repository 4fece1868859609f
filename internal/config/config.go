package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            string     `env:"PORT" envDefault:"8080"`
	MongoURI        string     `env:"MONGO_URI,required" validate:"required"`
	DBName          string     `env:"DB_NAME" envDefault:"storefront" validate:"required"`
	JWTSecret       string     `env:"JWT_SECRET,required" validate:"required,min=16"`
	AccessTokenTTL  int        `env:"ACCESS_TOKEN_TTL" envDefault:"20" validate:"min=1"`
	RefreshTokenTTL int        `env:"REFRESH_TOKEN_TTL" envDefault:"7" validate:"min=1"`
	LogLevel        slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat       string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	CORSOrigins     []string   `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisURL      string `env:"REDIS_URL" validate:"required_if=CacheProvider redis"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"none" validate:"oneof=none smtp resend"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"Storefront <no-reply@localhost>"`
	SMTPHost      string `env:"SMTP_HOST" validate:"required_if=EmailProvider smtp"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	ResendAPIKey  string `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`

	StoreName     string `env:"STORE_NAME" envDefault:"Storefront"`
	StoreCurrency string `env:"STORE_CURRENCY" envDefault:"KES" validate:"len=3"`

	MpesaEnv            string `env:"MPESA_ENV" envDefault:"sandbox" validate:"oneof=sandbox production"`
	MpesaConsumerKey    string `env:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string `env:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string `env:"MPESA_SHORTCODE"`
	MpesaPassKey        string `env:"MPESA_PASSKEY"`
	MpesaCallbackURL    string `env:"MPESA_CALLBACK_URL" validate:"omitempty,url"`
	// MpesaCallbackSecret is appended to the callback URL and checked on every callback.
	MpesaCallbackSecret string `env:"MPESA_CALLBACK_SECRET" validate:"omitempty,min=16"`

	PayPalEnv          string  `env:"PAYPAL_ENV" envDefault:"sandbox" validate:"oneof=sandbox live"`
	PayPalClientID     string  `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string  `env:"PAYPAL_CLIENT_SECRET"`
	PayPalCurrency     string  `env:"PAYPAL_CURRENCY" envDefault:"USD" validate:"len=3"`
	PayPalExchangeRate float64 `env:"PAYPAL_EXCHANGE_RATE" envDefault:"1" validate:"gt=0"`
	PayPalReturnURL    string  `env:"PAYPAL_RETURN_URL" validate:"omitempty,url"`
	PayPalCancelURL    string  `env:"PAYPAL_CANCEL_URL" validate:"omitempty,url"`
}

var configValidator = validator.New()

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	mpesa := []string{c.MpesaConsumerKey, c.MpesaConsumerSecret, c.MpesaShortCode, c.MpesaPassKey, c.MpesaCallbackURL, c.MpesaCallbackSecret}
	if anySet(mpesa...) && !allSet(mpesa...) {
		return fmt.Errorf("MPESA_CONSUMER_KEY, MPESA_CONSUMER_SECRET, MPESA_SHORTCODE, MPESA_PASSKEY, MPESA_CALLBACK_URL and MPESA_CALLBACK_SECRET must be set together")
	}

	paypal := []string{c.PayPalClientID, c.PayPalClientSecret, c.PayPalReturnURL, c.PayPalCancelURL}
	if anySet(paypal...) && !allSet(paypal...) {
		return fmt.Errorf("PAYPAL_CLIENT_ID, PAYPAL_CLIENT_SECRET, PAYPAL_RETURN_URL and PAYPAL_CANCEL_URL must be set together")
	}

	return nil
}

func (c *Config) MpesaEnabled() bool {
	return allSet(c.MpesaConsumerKey, c.MpesaConsumerSecret, c.MpesaShortCode, c.MpesaPassKey, c.MpesaCallbackURL, c.MpesaCallbackSecret)
}

func (c *Config) PayPalEnabled() bool {
	return allSet(c.PayPalClientID, c.PayPalClientSecret, c.PayPalReturnURL, c.PayPalCancelURL)
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * 24 * time.Hour
}

func anySet(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func allSet(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}
