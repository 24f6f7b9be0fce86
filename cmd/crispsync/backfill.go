package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/capitalize-ai/crisp-sync/internal/service"
)

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Pull the full conversation history of one website and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "website-id",
				Sources:  cli.EnvVars("CRISP_WEBSITE_ID"),
				Usage:    "Crisp website to backfill",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			coordinator := service.NewBackfillCoordinator(a.gateway, a.writer, a.cfg.BackfillConcurrency, a.log)
			res, err := coordinator.Run(ctx, cmd.String("website-id"))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
