package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	httpadapter "github.com/boroughwatch/london-crime-etl/internal/adapter/http"
	"github.com/boroughwatch/london-crime-etl/internal/schedule"
)

var serveNow bool

func init() {
	serveCmd.Flags().BoolVar(&serveNow, "now", false, "run one cycle immediately on startup")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a long-lived service with a monthly schedule",
	Long: `serve starts the HTTP health/metrics endpoints and triggers one ETL
cycle per month on the configured day (SCHEDULE_DAY, clamped for short
months). Pass --now to run a cycle immediately on startup; the last run's
summary is available at /statusz.`,
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

		scheduler := schedule.New(p, cfg.ScheduleDay, clockwork.NewRealClock(), logger)
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, scheduler, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()

		go func() {
			if serveNow {
				scheduler.RunNow(ctx)
			}
			if err := scheduler.Start(ctx); err != nil {
				logger.Error("scheduler error", "error", err)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
