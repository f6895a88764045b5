// Package app wires the Convoq components together and manages their
// lifecycle: the shared-log observer feeding the ingest service, the
// dispatcher's processing loop, and the maintenance scheduler.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/dispatch"
	"github.com/convoq/convoq/internal/registry"
)

// ingestBuffer bounds the observer-to-ingest channel; the observer must
// never block inside a store notification.
const ingestBuffer = 256

// App orchestrates the running system.
type App struct {
	logger     *slog.Logger
	store      chatlog.Store
	service    *dispatch.Service
	dispatcher *dispatch.Dispatcher
	scheduler  *Scheduler
	bots       registry.Provider
}

// New creates the application orchestrator.
func New(logger *slog.Logger, store chatlog.Store, service *dispatch.Service, dispatcher *dispatch.Dispatcher, scheduler *Scheduler, bots registry.Provider) *App {
	return &App{
		logger:     logger.With("component", "app"),
		store:      store,
		service:    service,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		bots:       bots,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting Convoq...")

	g, gCtx := errgroup.WithContext(ctx)

	incoming := make(chan *chatlog.Message, ingestBuffer)
	cancelObserve := a.store.Observe(func(ev chatlog.Event) {
		if ev.Kind != chatlog.EventMessageAppended || ev.Message == nil {
			return
		}
		if a.isBotAuthor(ev.Message.Username) {
			return
		}
		select {
		case incoming <- ev.Message:
		default:
			a.logger.Warn("Ingest buffer full, dropping message event", "message_id", ev.Message.ID)
		}
	})
	defer cancelObserve()

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case msg := <-incoming:
				a.service.HandleMessage(gCtx, msg)
			}
		}
	})

	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()

		a.logger.Info("Stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return gCtx.Err()
	})

	err := g.Wait()
	a.logger.Info("Convoq stopped.")
	return err
}

// isBotAuthor reports whether a username belongs to a registered bot, so
// bot-authored log entries never re-trigger mention parsing.
func (a *App) isBotAuthor(username string) bool {
	for _, bot := range a.bots.Snapshot() {
		if strings.EqualFold(bot.DisplayName, username) {
			return true
		}
	}
	return false
}
