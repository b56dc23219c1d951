// Command ghareport collects GitHub Actions CI history and publishes weekly
// metrics to a Google Sheets spreadsheet.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "ghareport",
		Usage:   "Publish weekly GitHub Actions CI metrics to Google Sheets",
		Version: version,
		Description: `Keeps a CI history database up to date from the GitHub Actions API and
synchronizes weekly reports into a spreadsheet.

Workflow:
  1. Run 'ghareport collect' to fetch completed workflow runs and their jobs
  2. Run 'ghareport import-junit' to load test results for a job
  3. Run 'ghareport sync' (or 'ghareport serve') to update the report tabs`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (TOML)",
				EnvVars: []string{"GHAREPORT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override the configured log format: text, json",
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			serveCommand(),
			collectCommand(),
			importJUnitCommand(),
			migrateCommand(),
			resetCommand(),
			reportsCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
