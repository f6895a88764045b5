// Package dispatch connects the invocation queue to the response handlers:
// it ingests mention-bearing messages, builds context windows, and runs the
// processing loop that claims pending invocations and executes them
// concurrently.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/queue"
	"github.com/convoq/convoq/internal/registry"
)

// TerminalRetention is how long completed and failed invocations stay in
// the queue before cleanup removes them.
const TerminalRetention = time.Minute

// Handler executes one claimed invocation against its thread.
type Handler interface {
	Handle(ctx context.Context, inv *queue.Invocation, threadID string) error
}

// Handlers routes invocations by the bot's response type.
type Handlers struct {
	Text          Handler
	Structured    Handler
	ExternalAgent Handler
}

// Dispatcher owns the processing loop. It subscribes to the queue and, on
// every pending transition, scans all pending invocations, eagerly creates
// their threads, claims them via the queue's check-and-set, and fans the
// handler calls out concurrently.
type Dispatcher struct {
	logger   *slog.Logger
	queue    *queue.Queue
	store    chatlog.Store
	handlers Handlers
	wake     chan struct{}
}

// New creates a dispatcher and subscribes it to the queue. Pending
// notifications coalesce into the single-slot wake channel, so a burst of
// enqueues triggers one scan that drains them all.
func New(logger *slog.Logger, q *queue.Queue, store chatlog.Store, handlers Handlers) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		logger:   logger.With("component", "dispatcher"),
		queue:    q,
		store:    store,
		handlers: handlers,
		wake:     make(chan struct{}, 1),
	}

	q.Subscribe(func(inv *queue.Invocation) {
		if inv.Status == queue.StatusPending {
			select {
			case d.wake <- struct{}{}:
			default:
			}
		}
	})

	return d
}

// Run executes the processing loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Dispatcher stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-d.wake:
			d.processPending(ctx)
		}
	}
}

// processPending runs one full pass: claim and execute every pending
// invocation concurrently, then clean up aged-out terminal entries. One
// invocation's failure never blocks or aborts the others; handler errors
// are consumed per invocation and recorded on the queue.
func (d *Dispatcher) processPending(ctx context.Context) {
	pending := d.queue.GetPending()
	if len(pending) == 0 {
		d.queue.Cleanup(TerminalRetention)
		return
	}

	d.logger.DebugContext(ctx, "Processing pending invocations", "count", len(pending), "queue_size", d.queue.Len())

	g := new(errgroup.Group)
	for _, inv := range pending {
		g.Go(func() error {
			d.runOne(ctx, inv)
			return nil
		})
	}
	_ = g.Wait()

	d.queue.Cleanup(TerminalRetention)
}

// runOne resolves the invocation's thread, claims it, and executes its
// handler. The thread exists before any handler output: either the
// invocation targets an existing thread or one is created eagerly here.
func (d *Dispatcher) runOne(ctx context.Context, inv *queue.Invocation) {
	log := d.logger.With("invocation_id", inv.ID, "bot_id", inv.Bot.ID)

	threadID := inv.ExistingThreadID
	if threadID == "" {
		created, err := d.store.CreateThread(ctx, inv.TriggerMessageID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to create thread", "error", err)
			d.queue.Fail(inv.ID, err.Error())
			return
		}
		threadID = created
	}

	if !d.queue.StartProcessing(inv.ID, threadID) {
		// Another pass already claimed it.
		log.DebugContext(ctx, "Invocation already claimed, skipping")
		return
	}

	handler := d.route(inv.Bot.ResponseType)
	if handler == nil {
		log.ErrorContext(ctx, "No handler for response type", "response_type", inv.Bot.ResponseType)
		d.queue.Fail(inv.ID, "no handler for response type "+string(inv.Bot.ResponseType))
		return
	}

	if err := handler.Handle(ctx, inv, threadID); err != nil {
		log.ErrorContext(ctx, "Invocation failed", "error", err)
		d.queue.Fail(inv.ID, err.Error())
		return
	}

	d.queue.Complete(inv.ID)
	log.InfoContext(ctx, "Invocation completed", "thread_id", threadID)
}

func (d *Dispatcher) route(rt registry.ResponseType) Handler {
	switch rt {
	case registry.ResponseText:
		return d.handlers.Text
	case registry.ResponseStructured:
		return d.handlers.Structured
	case registry.ResponseExternalAgent:
		return d.handlers.ExternalAgent
	default:
		return nil
	}
}
