package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"storefront/internal/app"
	"storefront/internal/auth"
)

func newCreateAdminCommand() *cobra.Command {
	var in auth.RegisterInput

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing user",
		Long: `Create an admin account with the given credentials.

If a user with the email already exists it is promoted to admin and its
password is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(in.Password) < auth.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
			}

			ctx, cancel := context.WithTimeout(commandContext(cmd), taskTimeout)
			defer cancel()

			cfg, logger, err := bootstrap()
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

			svc, _ := app.NewAuthService(cfg, db.DB, logger)
			user, created, err := svc.EnsureAdmin(ctx, in)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}

			verb := "promoted"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s: %s (%s)\n", verb, user.Email, user.ID.Hex())
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "admin email address")
	cmd.Flags().StringVar(&in.Password, "password", "", "admin password")
	cmd.Flags().StringVar(&in.Name, "name", "Administrator", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
