package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/app"
	"github.com/dvloznov/budget-tracker/internal/config"
	"github.com/dvloznov/budget-tracker/internal/gcs"
	infraBQ "github.com/dvloznov/budget-tracker/internal/infra/bigquery"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/migration"
)

type flags struct {
	envFile         string
	projectID       string
	datasetID       string
	dryRun          bool
	reportURI       string
	bootstrapLedger bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&f.envFile, "env", ".env", "Path to the env file loaded when APP_ENV=local")
	fs.StringVar(&f.projectID, "project", "", "GCP project ID (overrides GCP_PROJECT_ID)")
	fs.StringVar(&f.datasetID, "dataset", "", "BigQuery dataset ID for job_runs (overrides BIGQUERY_DATASET)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Count the transactions that need a backfill without writing")
	fs.StringVar(&f.reportURI, "report-uri", "", "gs:// URI receiving a JSON run report")
	fs.BoolVar(&f.bootstrapLedger, "bootstrap-ledger", false, "Create the BigQuery job_runs table if it doesn't exist")
	if err := fs.Parse(args); err != nil {
		return f, err
	}

	if f.reportURI != "" {
		if _, _, err := gcs.ParseURI(f.reportURI); err != nil {
			return f, fmt.Errorf("-report-uri: %w", err)
		}
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) {
	if f.projectID != "" {
		cfg.GCP.ProjectID = f.projectID
	}
	if f.datasetID != "" {
		cfg.BigQuery.DatasetID = f.datasetID
	}
}

func (f flags) migrationOptions() migration.Options {
	return migration.Options{DryRun: f.dryRun, ReportURI: f.reportURI}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load(f.envFile)
	f.apply(cfg)
	log := logger.Configure(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.Format == "json"})

	ctx := logger.WithContext(context.Background(), log)

	if f.bootstrapLedger {
		if err := bootstrapLedger(ctx, cfg, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure job_runs table")
		}
	}

	a, err := app.New(ctx, cfg, log, app.Options{Migration: f.migrationOptions()})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}
	defer a.Close()

	log.Info().
		Str("project", cfg.GCP.ProjectID).
		Bool("dry_run", f.dryRun).
		Msg("Starting transaction backfill")

	run, err := a.Runner.RunNow(ctx, jobs.JobMigration, jobs.TriggerCLI)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if run.Result != nil && run.Result.Processed == 0 {
		fmt.Println("No transactions need a backfill. Data is up to date.")
		return
	}
	fmt.Printf("Migration completed: %s\n", run.Result.Summary())
}

func bootstrapLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.GCP.ProjectID == "" {
		return fmt.Errorf("bootstrapLedger: -project or GCP_PROJECT_ID is required")
	}

	ledger, err := infraBQ.NewJobRunLedger(ctx, cfg.GCP.ProjectID, cfg.BigQuery.DatasetID)
	if err != nil {
		return err
	}
	defer ledger.Close()

	log.Info().Str("project", cfg.GCP.ProjectID).Str("dataset", cfg.BigQuery.DatasetID).Msg("Ensuring job_runs table")
	return ledger.EnsureTable(ctx)
}
