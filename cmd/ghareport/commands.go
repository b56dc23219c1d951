package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livinlefevreloca/ghareport/internal/collector"
	"github.com/livinlefevreloca/ghareport/internal/config"
	"github.com/livinlefevreloca/ghareport/internal/cron"
	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/junit"
	"github.com/livinlefevreloca/ghareport/internal/reports"
	"github.com/livinlefevreloca/ghareport/tools/migrator"
)

const (
	defaultLookback = 30 * 24 * time.Hour
	collectOverlap  = 7 * 24 * time.Hour
)

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

var reportFlag = &cli.StringSliceFlag{
	Name:    "report",
	Aliases: []string{"r"},
	Usage:   "Report to process, may be repeated (default: all reports)",
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize reports into the spreadsheet once",
		Description: `Aggregates the stored CI history and brings every report tab up to date.
Each report is synchronized independently; one failing report does not stop
the others.

Example:
  ghareport sync --report run-summary --report flaky-tests`,
		Flags:  []cli.Flag{reportFlag},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	kinds, err := parseKinds(c.StringSlice("report"))
	if err != nil {
		return err
	}

	r, err := newReporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	return r.sync(ctx, kinds)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Collect and synchronize on the configured cron schedule",
		Description: `Runs until interrupted. On every tick of schedule.cron, evaluated in the
reports timezone, new workflow runs are collected (when github.repository is
set) and every report is synchronized.`,
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	schedule, err := cron.Parse(cfg.Schedule.Cron)
	if err != nil {
		return err
	}
	loc, err := cfg.Reports.Location()
	if err != nil {
		return err
	}

	r, err := newReporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	tick := func() {
		if cfg.GitHub.Repository != "" {
			if _, err := collect(ctx, cfg, r.db, logger, time.Time{}); err != nil {
				logger.Error("collection failed", "error", err)
			}
		}
		if err := r.sync(ctx, nil); err != nil {
			logger.Error("scheduled sync failed", "error", err)
		}
	}

	logger.Info("ghareport is running", "schedule", schedule.String(), "timezone", loc.String())
	if cfg.Schedule.RunOnStart {
		tick()
	}

	for {
		next := schedule.Next(time.Now().In(loc))
		if next.IsZero() {
			return fmt.Errorf("schedule %q never fires", schedule)
		}
		logger.Info("next sync scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("shutting down gracefully")
			return nil
		case <-timer.C:
		}
		tick()
	}
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Fetch completed workflow runs and jobs from GitHub",
		Description: `Lists completed runs of github.workflow in github.repository and stores
them with their jobs. Authenticates with GITHUB_TOKEN when it is set.

Without --since, collection resumes a week before the newest stored run, or
goes back 30 days on an empty database.

Example:
  ghareport collect --since 2024-01-01`,
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:   "since",
				Usage:  "Collect runs created on or after this date (YYYY-MM-DD)",
				Layout: time.DateOnly,
			},
		},
		Action: runCollect,
	}
}

func runCollect(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.GitHub.Validate(); err != nil {
		return fmt.Errorf("github: %w", err)
	}

	database, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	var since time.Time
	if ts := c.Timestamp("since"); ts != nil {
		since = *ts
	}
	_, err = collect(ctx, cfg, database, logger, since)
	return err
}

// collect stores runs created since the given time. A zero since resumes
// from the newest stored run.
func collect(ctx context.Context, cfg *config.Config, database *db.DB, logger *slog.Logger, since time.Time) (collector.Stats, error) {
	if since.IsZero() {
		latest, err := database.LatestRunStart(ctx)
		if err != nil {
			return collector.Stats{}, fmt.Errorf("find latest run: %w", err)
		}
		since = resumeFrom(latest, time.Now())
	}

	client, err := collector.NewClient(ctx, os.Getenv("GITHUB_TOKEN"), cfg.GitHub.BaseURL)
	if err != nil {
		return collector.Stats{}, err
	}
	col, err := collector.New(client, cfg.GitHub, database, logger)
	if err != nil {
		return collector.Stats{}, err
	}
	return col.Collect(ctx, since)
}

func resumeFrom(latest, now time.Time) time.Time {
	if latest.IsZero() {
		return now.Add(-defaultLookback)
	}
	return latest.Add(-collectOverlap)
}

func importJUnitCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-junit",
		Usage:     "Store test results from JUnit XML reports",
		ArgsUsage: "FILE...",
		Description: `Parses each JUnit XML file and records its test cases as results of the
given job. Re-importing a file replaces the stored results.

Example:
  ghareport import-junit --job-id 123456 results/*.xml`,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "job-id",
				Usage:    "GitHub Actions job the results belong to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "qualify-names",
				Usage: "Prefix test names with their class name",
			},
		},
		Action: runImportJUnit,
	}
}

func runImportJUnit(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	if c.NArg() == 0 {
		return fmt.Errorf("at least one JUnit file is required")
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	database, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	jobID := c.Int64("job-id")
	opts := junit.Options{QualifyNames: c.Bool("qualify-names")}

	var total int
	for _, path := range c.Args().Slice() {
		results, err := junit.ParseFile(path, jobID, opts)
		if err != nil {
			return err
		}
		if err := database.UpsertTestResults(ctx, results); err != nil {
			return fmt.Errorf("store results from %s: %w", path, err)
		}
		logger.Info("imported junit report", "file", path, "job_id", jobID, "results", len(results))
		total += len(results)
	}

	logger.Info("import complete", "files", c.NArg(), "results", total)
	return nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply pending database migrations",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	dbConfig := cfg.Database
	dbConfig.SkipMigrations = false

	database, err := openDatabase(ctx, dbConfig, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := migrator.CurrentVersion(ctx, database.DB)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	logger.Info("database schema ready", "version", version)
	return nil
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Clear the data rows of reports",
		Description: `Clears every row below the header of the named report tabs. The next sync
rebuilds them from the full history.

Example:
  ghareport reset --report run-summary`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "report",
				Aliases:  []string{"r"},
				Usage:    "Report to clear, may be repeated",
				Required: true,
			},
		},
		Action: runReset,
	}
}

func runReset(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	kinds, err := parseKinds(c.StringSlice("report"))
	if err != nil {
		return err
	}

	r, err := newReporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	updaters, err := r.updaters(kinds)
	if err != nil {
		return err
	}
	for _, u := range updaters {
		if err := reports.Reset(ctx, r.sink, u); err != nil {
			return err
		}
		logger.Info("report cleared", "report", u.Kind(), "sheet", u.Sheet())
	}
	return nil
}

func reportsCommand() *cli.Command {
	return &cli.Command{
		Name:   "reports",
		Usage:  "List reports and the sheets they are written to",
		Action: runReports,
	}
}

func runReports(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPORT\tSHEET")
	for _, k := range reports.Kinds() {
		fmt.Fprintf(w, "%s\t%s\n", k, cfg.Reports.SheetFor(k))
	}
	return w.Flush()
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent report synchronizations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "report",
				Aliases: []string{"r"},
				Usage:   "Only show this report",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of synchronizations to show",
				Value: 20,
			},
		},
		Action: runHistory,
	}
}

func runHistory(c *cli.Context) error {
	ctx := c.Context

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	var report string
	if name := c.String("report"); name != "" {
		k, err := reports.ParseKind(name)
		if err != nil {
			return err
		}
		report = string(k)
	}

	database, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListSyncRuns(ctx, report, c.Int("limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tREPORT\tSTATUS\tINSERTED\tUPDATED\tERROR")
	for _, run := range runs {
		var msg string
		if run.Error != nil {
			msg = *run.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			run.StartedAt.Format(time.RFC3339), run.Report, run.Status,
			run.RowsInserted, run.RowsUpdated, msg)
	}
	return w.Flush()
}
