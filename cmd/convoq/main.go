// Package main contains the entrypoint for the Convoq bot scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/convoq/convoq/internal/agentapi"
	"github.com/convoq/convoq/internal/app"
	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/config"
	"github.com/convoq/convoq/internal/dispatch"
	"github.com/convoq/convoq/internal/handler"
	"github.com/convoq/convoq/internal/logger"
	"github.com/convoq/convoq/internal/mention"
	"github.com/convoq/convoq/internal/queue"
	"github.com/convoq/convoq/internal/registry"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// store, backends, queue, dispatcher, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := chatlog.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer chatlog.CloseDB(db)
	store := chatlog.NewSQLiteStore(db, log)

	bots, err := registry.New(botsFromConfig(cfg.Bots), backend.KnownSchema)
	if err != nil {
		log.Error("Invalid bot configuration", "error", err)
		return 1
	}
	log.Info("Bot registry initialized", "bots", len(bots.Snapshot()))

	structuredClient, err := backend.NewStructuredClient(ctx, backend.StructuredConfig{
		APIKey:      cfg.Gemini.APIKey,
		ModelName:   cfg.Gemini.ModelName,
		Temperature: cfg.Gemini.Temperature,
	}, log)
	if err != nil {
		log.Error("Failed to initialize structured backend", "error", err)
		return 1
	}
	textClient := backend.NewTextClient(cfg.Text.Endpoint, cfg.Text.Timeout, log)
	agentClient := agentapi.NewClient(cfg.Agent.Endpoint, cfg.Agent.Timeout, log)

	hDeps := handler.Deps{
		Logger:     log,
		Store:      store,
		Text:       textClient,
		Structured: structuredClient,
		Agent:      agentClient,
		Sessions:   handler.NewSessionTracker(),
	}

	q := queue.New(log)
	dispatcher := dispatch.New(log, q, store, dispatch.Handlers{
		Text:          handler.NewTextStream(hDeps),
		Structured:    handler.NewStructuredStream(hDeps),
		ExternalAgent: handler.NewExternalAgent(hDeps),
	})
	service := dispatch.NewService(log, mention.NewParser(bots), store, q)

	sched, err := app.NewScheduler(log, &cfg.Scheduler, q, store)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.New(log, store, service, dispatcher, sched, bots)

	log.Info("Starting Convoq...")
	runErr := application.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Convoq stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Convoq stopped gracefully.")
	return 0
}

func botsFromConfig(configs []config.BotConfig) []registry.Bot {
	bots := make([]registry.Bot, 0, len(configs))
	for _, c := range configs {
		bots = append(bots, registry.Bot{
			ID:                 c.ID,
			Mention:            c.Mention,
			DisplayName:        c.DisplayName,
			ResponseType:       registry.ResponseType(c.ResponseType),
			ContextMode:        registry.ContextMode(c.ContextMode),
			MaxContextMessages: c.MaxContextMessages,
			SchemaID:           c.SchemaID,
		})
	}
	return bots
}
