package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livinlefevreloca/ghareport/internal/config"
	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/reports"
	"github.com/livinlefevreloca/ghareport/internal/sheets"
	"github.com/livinlefevreloca/ghareport/internal/stats"
	"github.com/livinlefevreloca/ghareport/internal/syncer"
	"github.com/livinlefevreloca/ghareport/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads and validates the configuration named by the global
// flags and builds the logger it describes.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := c.String("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openDatabase connects to the configured database and brings its schema up
// to date unless migrations are skipped.
func openDatabase(ctx context.Context, cfg db.Config, logger *slog.Logger) (*db.DB, error) {
	logger.Info("connecting to database", "driver", cfg.Driver)
	database, err := db.OpenWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.SkipMigrations {
		logger.Info("skipping migrations", "reason", "configured to skip")
		return database, nil
	}
	if err := database.Migrate(ctx, cfg); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return database, nil
}

func parseKinds(names []string) ([]reports.Kind, error) {
	var kinds []reports.Kind
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, err := reports.ParseKind(part)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// reporter holds everything a report synchronization needs.
type reporter struct {
	config  *config.Config
	logger  *slog.Logger
	db      *db.DB
	sink    *sheets.Client
	metrics *telemetry.Metrics
	syncer  *syncer.Syncer
}

func newReporter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*reporter, error) {
	if err := cfg.Sheets.Validate(); err != nil {
		return nil, fmt.Errorf("sheets: %w", err)
	}

	database, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	r := &reporter{config: cfg, logger: logger, db: database}

	opts, err := sheets.ClientOptions(ctx, cfg.Sheets, os.Getenv)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}
	r.sink, err = sheets.New(ctx, cfg.Sheets, logger, opts...)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}

	r.metrics, err = telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}

	r.syncer, err = syncer.NewSyncer(cfg.Syncer, database, r.metrics, logger)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}
	r.syncer.Start()
	return r, nil
}

func (r *reporter) updaters(kinds []reports.Kind) ([]reports.Updater, error) {
	agg, err := stats.NewAggregator(r.db, r.config.Reports.Config)
	if err != nil {
		return nil, err
	}
	return reports.Build(reports.Deps{
		Aggregator: agg,
		Sink:       r.sink,
		Logger:     r.logger,
	}, r.config.Reports, kinds...)
}

// sync updates the given reports, or all of them when kinds is empty.
func (r *reporter) sync(ctx context.Context, kinds []reports.Kind) error {
	updaters, err := r.updaters(kinds)
	if err != nil {
		return err
	}

	r.logger.Info("starting sync", "reports", len(updaters))
	outcomes, err := r.syncer.Run(ctx, updaters)

	var inserted, updated int
	for _, o := range outcomes {
		inserted += o.Result.Inserted
		updated += o.Result.Updated
	}
	r.logger.Info("sync finished",
		"reports", len(outcomes),
		"rows_inserted", inserted,
		"rows_updated", updated,
		"failed", err != nil)
	return err
}

func (r *reporter) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if r.syncer != nil {
		if err := r.syncer.Shutdown(); err != nil {
			r.logger.Error("failed to flush sync audit log", "error", err)
		}
		if stats := r.syncer.GetStats(); stats.DroppedAudits > 0 {
			r.logger.Warn("sync audit records dropped", "count", stats.DroppedAudits)
		}
	}
	if err := r.metrics.Shutdown(ctx); err != nil {
		r.logger.Error("failed to flush metrics", "error", err)
	}
	if r.db != nil {
		r.db.Close()
	}
}
