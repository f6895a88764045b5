// Package handler implements the three bot response handlers: plain text
// streaming, structured streaming with stability detection, and external
// agent delegation. Handlers write incremental and final entries into the
// shared log and report success or failure to the dispatcher.
package handler

import (
	"log/slog"
	"sync"

	"github.com/convoq/convoq/internal/agentapi"
	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
)

// Deps provides dependencies shared by all handlers.
type Deps struct {
	Logger     *slog.Logger
	Store      chatlog.Store
	Text       backend.TextStreamer
	Structured backend.StructuredStreamer
	Agent      agentapi.Runner
	Sessions   *SessionTracker
}

// SessionTracker remembers the resumable agent session for each thread so a
// follow-up invocation in the same thread continues the prior session.
type SessionTracker struct {
	mu       sync.Mutex
	byThread map[string]string
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{byThread: make(map[string]string)}
}

// Get returns the session id recorded for a thread, or empty.
func (t *SessionTracker) Get(threadID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byThread[threadID]
}

// Set records the session id for a thread. Empty ids are ignored.
func (t *SessionTracker) Set(threadID, sessionID string) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byThread[threadID] = sessionID
}
