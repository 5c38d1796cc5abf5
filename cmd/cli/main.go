package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/app"
	"github.com/dvloznov/budget-tracker/internal/config"
	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/i18n"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/notify"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runJob(log)
	case "tokens":
		runTokens(log)
	case "push":
		runPush(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Budget Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run <job>                       Run a job now (transaction-status, recurring-transactions, migration)")
	fmt.Println("  tokens list -user <id>          List a user's device tokens")
	fmt.Println("  tokens cleanup -user <id>       Keep only the most recently used tokens")
	fmt.Println("  tokens remove -user <id> -token <t>")
	fmt.Println("                                  Remove one device token")
	fmt.Println("  push test -user <id>            Send a test notification to a user's devices")
	fmt.Println("  help                            Show this help message")
}

// setup loads configuration and builds the services. The returned context
// carries the logger.
func setup(log zerolog.Logger, envFile string) (context.Context, *app.App) {
	cfg := config.Load(envFile)
	log = log.Level(logger.ParseLevel(cfg.Log.Level))

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}
	return ctx, a
}

func shutdown(ctx context.Context, a *app.App, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Push.Timeout+5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to release services")
	}
}

func runJob(log zerolog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	envFile := fs.String("env", ".env", "Path to the env file")
	if len(os.Args) < 3 {
		log.Fatal().Msg("Error: job name is required")
	}
	fs.Parse(os.Args[3:])

	job, err := jobs.ParseJobType(os.Args[2])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid job")
	}

	ctx, a := setup(log, *envFile)
	defer shutdown(ctx, a, log)

	run, err := a.Runner.RunNow(ctx, job, jobs.TriggerCLI)
	if err != nil {
		log.Error().Err(err).Str("job", string(job)).Msg("Job failed")
		shutdown(ctx, a, log)
		os.Exit(1)
	}

	fmt.Printf("%s completed: %s\n", job, run.Result.Summary())
}

func runTokens(log zerolog.Logger) {
	if len(os.Args) < 3 {
		log.Fatal().Msg("Error: tokens requires list, cleanup or remove")
	}
	action := os.Args[2]

	fs := flag.NewFlagSet("tokens "+action, flag.ExitOnError)
	envFile := fs.String("env", ".env", "Path to the env file")
	userID := fs.String("user", "", "User ID")
	token := fs.String("token", "", "Device token (remove only)")
	maxTokens := fs.Int("max", -1, "Tokens to keep (cleanup only, defaults to MAX_DEVICE_TOKENS)")
	fs.Parse(os.Args[3:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, a := setup(log, *envFile)
	defer shutdown(ctx, a, log)

	switch action {
	case "list":
		tokens, err := a.Registry.Tokens(ctx, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list tokens")
		}
		fmt.Printf("User %s has %d device token(s)\n", *userID, len(tokens))
		for _, t := range tokens {
			fmt.Printf("  %s\n", t)
		}

	case "cleanup":
		limit := *maxTokens
		if limit < 0 {
			limit = a.Config.Tokens.MaxPerUser
		}
		removed, err := a.Registry.Cleanup(ctx, *userID, limit)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to clean up tokens")
		}
		fmt.Printf("Removed %d token(s), keeping at most %d\n", len(removed), limit)

	case "remove":
		if *token == "" {
			log.Fatal().Msg("Error: --token is required")
		}
		if err := a.Registry.Remove(ctx, *userID, *token); err != nil {
			log.Fatal().Err(err).Msg("Failed to remove token")
		}
		fmt.Println("Token removed.")

	default:
		log.Fatal().Str("action", action).Msg("Error: unknown tokens action")
	}
}

func runPush(log zerolog.Logger) {
	if len(os.Args) < 3 || os.Args[2] != "test" {
		log.Fatal().Msg("Error: push supports only 'test'")
	}

	fs := flag.NewFlagSet("push test", flag.ExitOnError)
	envFile := fs.String("env", ".env", "Path to the env file")
	userID := fs.String("user", "", "User ID")
	fs.Parse(os.Args[3:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, a := setup(log, *envFile)
	defer shutdown(ctx, a, log)

	lang := a.Catalog.UserLanguage(ctx, *userID)
	content := notify.Content{
		Title: a.Catalog.Title(i18n.KeyTestNotification, lang),
		Body:  a.Catalog.Message(i18n.KeyTestNotification, lang, nil),
	}
	data := map[string]string{notify.DataType: string(domain.NotificationSystem)}

	id, err := a.Dispatcher.Create(ctx, domain.Notification{
		UserID:   *userID,
		Title:    content.Title,
		Body:     content.Body,
		Type:     domain.NotificationSystem,
		Data:     data,
		Language: lang,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification")
	}

	if !a.Dispatcher.DispatchPush(ctx, *userID, content, data) {
		fmt.Printf("Notification %s stored, but no device received the push.\n", id)
		return
	}
	fmt.Printf("Notification %s delivered.\n", id)
}
