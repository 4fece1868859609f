package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"storefront/internal/app"
	"storefront/internal/delivery"
	"storefront/internal/store"
)

const taskTimeout = 2 * time.Minute

func newSeedLocationsCommand() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed-locations",
		Short: "Load the bundled delivery locations and fees",
		Long: `Upsert every county, sub-county and location from the bundled dataset.

Existing entries are updated in place, so the command can be re-run safely.
With --reset all delivery locations are removed first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(commandContext(cmd), taskTimeout)
			defer cancel()

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			dataset, err := delivery.DefaultDataset()
			if err != nil {
				return err
			}

			db, err := app.OpenDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(context.Background()); err != nil {
					logger.Warn("mongodb disconnect failed", slog.Any("error", err))
				}
			}()

			c, err := app.NewCache(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			svc := delivery.NewService(store.NewDeliveryStore(db.DB), c, logger)
			result, err := svc.Seed(ctx, dataset, reset)
			if err != nil {
				return fmt.Errorf("seed delivery locations: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "delivery locations: %d inserted, %d updated, %d deleted\n",
				result.Inserted, result.Updated, result.Deleted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete every delivery location before seeding")
	return cmd
}
