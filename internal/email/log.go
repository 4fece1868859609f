package email

import (
	"context"
	"log/slog"

	"storefront/internal/logging"
)

// LogProvider records messages in the log instead of delivering them.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	logging.FromContext(ctx, p.logger).Info("email not sent, no provider configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
