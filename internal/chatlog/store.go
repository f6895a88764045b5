// Package chatlog provides the shared conversation log: threads, messages,
// transactional multi-record writes, and change observation. Two
// implementations are available: a sqlite-backed store for durable logs and
// an in-memory store for tests and embedders.
package chatlog

import "context"

// EventKind tags a change notification.
type EventKind string

const (
	EventMessageAppended EventKind = "message_appended"
	EventMessageUpdated  EventKind = "message_updated"
	EventThreadCreated   EventKind = "thread_created"
	EventThreadUpdated   EventKind = "thread_updated"
)

// Event describes one committed change. Message and Thread are snapshots;
// observers may retain them without racing the store.
type Event struct {
	Kind    EventKind
	Message *Message
	Thread  *Thread
}

// ObserverFunc receives change events after the underlying write commits.
// Observers must not block; long work belongs on the observer's own goroutine.
type ObserverFunc func(Event)

// Store defines the shared log contract. Every multi-record update is
// all-or-nothing: readers never observe a thread without its parent message
// referencing it, or a threaded message missing from its thread's id list.
type Store interface {
	// Ping checks the backing store connection.
	Ping(ctx context.Context) error

	// AppendMessage inserts a standalone message. An empty ID is assigned.
	AppendMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by id. Returns nil, nil if not found.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ReplaceMessageContent rewrites the content of an existing message in
	// place, keeping its identity. Used while a bot stream is in flight.
	ReplaceMessageContent(ctx context.Context, messageID, content string) error

	// CreateThread creates a new thread anchored to the trigger message and
	// links it from the trigger's thread id list in the same transaction.
	CreateThread(ctx context.Context, triggerMessageID string) (string, error)

	// GetThread retrieves a thread by id. Returns nil, nil if not found.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// AppendMessageToThread inserts a message and appends its id to the
	// thread's ordered list in one transaction.
	AppendMessageToThread(ctx context.Context, msg *Message, threadID string) error

	// GetThreadMessages returns the thread's messages in thread order.
	GetThreadMessages(ctx context.Context, threadID string) ([]*Message, error)

	// FindThreadOf returns the thread whose member list contains the given
	// message, or nil, nil when the message is not threaded.
	FindThreadOf(ctx context.Context, messageID string) (*Thread, error)

	// Observe registers a change callback and returns a cancel function.
	Observe(fn ObserverFunc) (cancel func())

	// RunMaintenance performs backing-store maintenance (VACUUM and the like).
	RunMaintenance(ctx context.Context) error
}
