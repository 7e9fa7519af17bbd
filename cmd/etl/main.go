// Command etl maintains a local SQLite database of London crime statistics
// scraped from the London Datastore's recorded crime summary dataset.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/boroughwatch/london-crime-etl/internal/adapter/fetch"
	kafkaadapter "github.com/boroughwatch/london-crime-etl/internal/adapter/kafka"
	"github.com/boroughwatch/london-crime-etl/internal/adapter/render"
	"github.com/boroughwatch/london-crime-etl/internal/adapter/sqlite"
	"github.com/boroughwatch/london-crime-etl/internal/config"
	"github.com/boroughwatch/london-crime-etl/internal/domain"
	"github.com/boroughwatch/london-crime-etl/internal/observability"
	"github.com/boroughwatch/london-crime-etl/internal/pipeline"
	"github.com/boroughwatch/london-crime-etl/internal/portal"
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "London crime statistics ETL",
	Long: `etl discovers the Metropolitan Police crime resources on the London
Datastore, downloads and reconciles them onto a canonical borough/category
schema, and publishes the combined series as a SQLite database.

All configuration is read from environment variables.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(runCmd, serveCmd, validateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads config and builds the logger and metrics every command
// shares.
func bootstrap() (*config.Config, *slog.Logger, *observability.Metrics, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	return cfg, logger, metrics, nil
}

// buildReconciler assembles the alias maps from the built-in defaults plus
// any configured overlay files.
func buildReconciler(cfg *config.Config, logger *slog.Logger) (*domain.Reconciler, error) {
	geography := domain.DefaultGeographyAliases()
	major := domain.DefaultMajorAliases()
	minor := domain.DefaultMinorAliases()
	exclude := domain.DefaultExcludedGeographies()

	if cfg.GeoAliasFile != "" {
		extra, err := domain.LoadGeographyFile(cfg.GeoAliasFile, geography)
		if err != nil {
			return nil, err
		}
		exclude = append(exclude, extra...)
		logger.Info("geography alias overlay loaded", "path", cfg.GeoAliasFile)
	}
	if cfg.CategoryAliasFile != "" {
		if err := domain.LoadCategoryFile(cfg.CategoryAliasFile, major, minor); err != nil {
			return nil, err
		}
		logger.Info("category alias overlay loaded", "path", cfg.CategoryAliasFile)
	}

	return domain.NewReconciler(geography, major, minor, exclude), nil
}

// buildPipeline wires every adapter into a runnable pipeline. The returned
// cleanup releases the Kafka producer when one was configured.
func buildPipeline(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Pipeline, func(), error) {
	reconciler, err := buildReconciler(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	// Rendering is feature-flagged via RENDER_CMD; without it, resources
	// behind rendered-page downloads are skipped rather than failed.
	var renderer domain.Renderer
	if cfg.RenderEnabled {
		r, err := render.New(cfg.RenderCmd, cfg.RenderTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		renderer = r
		metrics.RenderActive.Set(1)
		logger.Info("rendering enabled", "command", cfg.RenderCmd, "timeout", cfg.RenderTimeout)
	} else {
		logger.Info("rendering disabled")
	}

	navigator := portal.New(cfg.DatasetURL, cfg.FetchTimeout, portal.DefaultPatterns(), fallbackByKind(cfg), logger)
	fetcher := fetch.New(cfg.FetchTimeout, cfg.FetchAttempts, renderer, logger, metrics)
	store := sqlite.New(cfg.StorePath, logger)

	cleanup := func() {}
	var notifier pipeline.Notifier
	if cfg.KafkaEnabled {
		n := kafkaadapter.NewNotifier(cfg, logger)
		notifier = n
		cleanup = func() {
			if err := n.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}
		logger.Info("kafka run notifications enabled", "topic", cfg.KafkaTopic)
	}

	opts := pipeline.Options{
		FetchConcurrency:   cfg.FetchConcurrency,
		UnmappedLabelLimit: cfg.UnmappedLabelLimit,
	}
	return pipeline.New(navigator, fetcher, reconciler, store, notifier, opts, logger, metrics), cleanup, nil
}

func fallbackByKind(cfg *config.Config) map[domain.SourceKind]string {
	if len(cfg.FallbackURLs) == 0 {
		return nil
	}
	out := make(map[domain.SourceKind]string, len(cfg.FallbackURLs))
	for kind, u := range cfg.FallbackURLs {
		out[domain.SourceKind(kind)] = u
	}
	return out
}
