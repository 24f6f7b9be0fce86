// Package main is the entry point for the Crisp sync service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "crispsync",
		Usage: "Mirror Crisp conversations and messages into a local database",
		Commands: []*cli.Command{
			serveCommand(),
			backfillCommand(),
			migrateCommand(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crispsync: %v\n", err)
		os.Exit(1)
	}
}
