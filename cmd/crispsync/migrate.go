package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/capitalize-ai/crisp-sync/internal/config"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the database schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "schema migrated (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}
