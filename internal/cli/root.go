// Package cli is the storefront command line: the API server and operator tasks.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/config"
	"storefront/internal/logging"
)

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront API for a Kenyan online shop",
		Long: `Storefront serves the catalog, checkout and order REST API.

Running without a subcommand starts the API server.`,
		Version:       version,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newSeedLocationsCommand())
	root.AddCommand(newCreateAdminCommand())
	return root
}

// Execute runs the command line and reports any error on stderr.
func Execute(version string) error {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
