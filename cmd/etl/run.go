package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ETL cycle and exit",
	Long: `run performs a single discover-fetch-reconcile-write cycle against the
configured dataset and prints the run summary as JSON on stdout. Intended for
cron-style scheduling and manual backfills; use "serve" for the long-running
monthly mode.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, metrics, err := bootstrap()
		if err != nil {
			return err
		}

		p, cleanup, err := buildPipeline(cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, runErr := p.Run(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error("encode run summary", "error", err)
		}
		return runErr
	},
}
