// Package queue holds the authoritative lifecycle state for bot invocations:
// enqueue, the atomic pending-to-processing claim, terminal transitions,
// subscriber notification, and age-based cleanup of terminal entries.
package queue

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/registry"
)

// Status is the lifecycle state of an invocation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Invocation is one request to run a specific bot against a trigger message.
// Mutated only by the queue's transition operations.
type Invocation struct {
	ID               string
	Bot              registry.Bot
	Prompt           string
	TriggerMessageID string
	ExistingThreadID string
	ThreadID         string
	ContextMessages  []*chatlog.Message
	Status           Status
	CreatedAt        time.Time
	Error            string
}

func (inv *Invocation) clone() *Invocation {
	cp := *inv
	cp.ContextMessages = append([]*chatlog.Message(nil), inv.ContextMessages...)
	return &cp
}

// EnqueueParams carries everything needed to create a pending invocation.
type EnqueueParams struct {
	Bot              registry.Bot
	Prompt           string
	TriggerMessageID string
	ExistingThreadID string
	ContextMessages  []*chatlog.Message
}

// SubscriberFunc is invoked on every state transition with a snapshot of
// the transitioned invocation.
type SubscriberFunc func(inv *Invocation)

// Queue is an in-memory invocation registry. Safe for concurrent use; the
// StartProcessing check-and-set is the single gate preventing an invocation
// from being processed twice.
type Queue struct {
	mu          sync.Mutex
	invocations map[string]*Invocation
	subscribers []SubscriberFunc
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an empty queue.
func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		invocations: make(map[string]*Invocation),
		logger:      logger.With("component", "invocation_queue"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue creates a pending invocation, assigns its id, and notifies
// subscribers. Constant-time; never blocks on downstream work.
func (q *Queue) Enqueue(params EnqueueParams) string {
	inv := &Invocation{
		ID:               uuid.NewString(),
		Bot:              params.Bot,
		Prompt:           params.Prompt,
		TriggerMessageID: params.TriggerMessageID,
		ExistingThreadID: params.ExistingThreadID,
		ContextMessages:  params.ContextMessages,
		Status:           StatusPending,
		CreatedAt:        q.now(),
	}

	q.mu.Lock()
	q.invocations[inv.ID] = inv
	snapshot := inv.clone()
	subs := append([]SubscriberFunc(nil), q.subscribers...)
	q.mu.Unlock()

	q.logger.Debug("Invocation enqueued", "invocation_id", inv.ID, "bot_id", inv.Bot.ID)
	notify(subs, snapshot)
	return inv.ID
}

// StartProcessing atomically transitions pending -> processing, attaching
// the resolved thread id. Returns false without side effects if the
// invocation is missing or not pending.
func (q *Queue) StartProcessing(id, threadID string) bool {
	q.mu.Lock()
	inv, ok := q.invocations[id]
	if !ok || inv.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	inv.Status = StatusProcessing
	inv.ThreadID = threadID
	snapshot := inv.clone()
	subs := append([]SubscriberFunc(nil), q.subscribers...)
	q.mu.Unlock()

	q.logger.Debug("Invocation processing started", "invocation_id", id, "thread_id", threadID)
	notify(subs, snapshot)
	return true
}

// Complete transitions processing -> completed. No-op for unknown ids or
// invocations not in processing.
func (q *Queue) Complete(id string) {
	q.transition(id, StatusCompleted, "", StatusProcessing)
}

// Fail transitions processing or pending -> failed, recording the error.
func (q *Queue) Fail(id, errMsg string) {
	q.transition(id, StatusFailed, errMsg, StatusProcessing, StatusPending)
}

func (q *Queue) transition(id string, to Status, errMsg string, from ...Status) {
	q.mu.Lock()
	inv, ok := q.invocations[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	allowed := false
	for _, s := range from {
		if inv.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		q.mu.Unlock()
		return
	}
	inv.Status = to
	inv.Error = errMsg
	snapshot := inv.clone()
	subs := append([]SubscriberFunc(nil), q.subscribers...)
	q.mu.Unlock()

	q.logger.Debug("Invocation transitioned", "invocation_id", id, "status", to, "error", errMsg)
	notify(subs, snapshot)
}

// Get returns a snapshot of an invocation, or nil if unknown.
func (q *Queue) Get(id string) *Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if inv, ok := q.invocations[id]; ok {
		return inv.clone()
	}
	return nil
}

// GetPending returns snapshots of all pending invocations, oldest first.
func (q *Queue) GetPending() []*Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []*Invocation{}
	for _, inv := range q.invocations {
		if inv.Status == StatusPending {
			out = append(out, inv.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked invocations, for gauge logging.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.invocations)
}

// Subscribe registers a callback invoked on every state transition.
func (q *Queue) Subscribe(fn SubscriberFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, fn)
}

// Cleanup removes terminal invocations older than maxAge. Pending and
// processing entries survive regardless of age. Returns the removed count.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	cutoff := q.now().Add(-maxAge)

	q.mu.Lock()
	removed := 0
	for id, inv := range q.invocations {
		if inv.Status.Terminal() && inv.CreatedAt.Before(cutoff) {
			delete(q.invocations, id)
			removed++
		}
	}
	q.mu.Unlock()

	if removed > 0 {
		q.logger.Debug("Cleaned up terminal invocations", "removed", removed, "max_age", maxAge)
	}
	return removed
}

func notify(subs []SubscriberFunc, inv *Invocation) {
	for _, fn := range subs {
		fn(inv)
	}
}
