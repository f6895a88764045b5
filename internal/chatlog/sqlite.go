package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// sqliteStore implements Store on top of sqlx/sqlite. All multi-record
// updates run inside a single transaction; observers are notified only
// after the transaction commits.
type sqliteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	hub    observerHub
}

// NewSQLiteStore creates a Store backed by the given sqlx connection pool.
func NewSQLiteStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqliteStore{
		db:     db,
		logger: logger.With("component", "chatlog_store"),
	}
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Observe(fn ObserverFunc) (cancel func()) {
	return s.hub.Observe(fn)
}

// withTx runs fn inside a transaction, rolling back on error. Events
// returned by fn are delivered to observers only after the commit succeeds.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) ([]Event, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	events, err := fn(tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.hub.notify(events...)
	return nil
}

func (s *sqliteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) ([]Event, error) {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return nil, err
		}
		return []Event{{Kind: EventMessageAppended, Message: cloneMessage(msg)}}, nil
	})
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, msg *Message) error {
	threadIDs, err := encodeIDs(msg.ThreadIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO messages (id, username, content, timestamp, thread_ids)
        VALUES (?, ?, ?, ?, ?);
    `, msg.ID, msg.Username, msg.Content, msg.Timestamp, threadIDs)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id cannot be empty")
	}

	var row messageRow
	err := s.db.GetContext(ctx, &row, `
        SELECT id, username, content, timestamp, thread_ids
        FROM messages WHERE id = ?;
    `, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return row.toMessage()
}

func (s *sqliteStore) ReplaceMessageContent(ctx context.Context, messageID, content string) error {
	if messageID == "" {
		return fmt.Errorf("message id cannot be empty")
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) ([]Event, error) {
		res, err := tx.ExecContext(ctx, `
            UPDATE messages SET content = ? WHERE id = ?;
        `, content, messageID)
		if err != nil {
			return nil, fmt.Errorf("failed to replace content of message %s: %w", messageID, err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return nil, fmt.Errorf("message %s not found", messageID)
		}

		msg, err := getMessageTx(ctx, tx, messageID)
		if err != nil {
			return nil, err
		}
		return []Event{{Kind: EventMessageUpdated, Message: msg}}, nil
	})
}

func getMessageTx(ctx context.Context, tx *sqlx.Tx, id string) (*Message, error) {
	var row messageRow
	if err := tx.GetContext(ctx, &row, `
        SELECT id, username, content, timestamp, thread_ids
        FROM messages WHERE id = ?;
    `, id); err != nil {
		return nil, fmt.Errorf("failed to read back message %s: %w", id, err)
	}
	return row.toMessage()
}

func getThreadTx(ctx context.Context, tx *sqlx.Tx, id string) (*Thread, error) {
	var row threadRow
	err := tx.GetContext(ctx, &row, `
        SELECT id, parent_message_id, created_at, message_ids
        FROM threads WHERE id = ?;
    `, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread %s: %w", id, err)
	}
	return row.toThread()
}

// CreateThread inserts the thread and updates the trigger message's thread
// list in the same transaction: a thread never exists without its trigger
// referencing it, and vice versa.
func (s *sqliteStore) CreateThread(ctx context.Context, triggerMessageID string) (string, error) {
	if triggerMessageID == "" {
		return "", fmt.Errorf("trigger message id cannot be empty")
	}

	threadID := uuid.NewString()
	err := s.withTx(ctx, func(tx *sqlx.Tx) ([]Event, error) {
		trigger, err := getMessageTx(ctx, tx, triggerMessageID)
		if err != nil {
			return nil, fmt.Errorf("trigger message %s not found: %w", triggerMessageID, err)
		}

		thread := &Thread{
			ID:              threadID,
			ParentMessageID: triggerMessageID,
			CreatedAt:       time.Now().UTC(),
			MessageIDs:      []string{},
		}
		messageIDs, err := encodeIDs(thread.MessageIDs)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO threads (id, parent_message_id, created_at, message_ids)
            VALUES (?, ?, ?, ?);
        `, thread.ID, thread.ParentMessageID, thread.CreatedAt, messageIDs); err != nil {
			return nil, fmt.Errorf("failed to insert thread: %w", err)
		}

		trigger.ThreadIDs = append(trigger.ThreadIDs, threadID)
		threadIDs, err := encodeIDs(trigger.ThreadIDs)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE messages SET thread_ids = ? WHERE id = ?;
        `, threadIDs, triggerMessageID); err != nil {
			return nil, fmt.Errorf("failed to link thread to trigger message: %w", err)
		}

		return []Event{
			{Kind: EventThreadCreated, Thread: cloneThread(thread)},
			{Kind: EventMessageUpdated, Message: trigger},
		}, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "Thread created", "thread_id", threadID, "trigger_message_id", triggerMessageID)
	return threadID, nil
}

func (s *sqliteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	if id == "" {
		return nil, fmt.Errorf("thread id cannot be empty")
	}

	var row threadRow
	err := s.db.GetContext(ctx, &row, `
        SELECT id, parent_message_id, created_at, message_ids
        FROM threads WHERE id = ?;
    `, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", id, err)
	}
	return row.toThread()
}

// AppendMessageToThread inserts the message and appends its id to the
// thread's ordered list under one transaction, so readers never observe a
// message without its thread membership.
func (s *sqliteStore) AppendMessageToThread(ctx context.Context, msg *Message, threadID string) error {
	if msg == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if threadID == "" {
		return fmt.Errorf("thread id cannot be empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) ([]Event, error) {
		thread, err := getThreadTx(ctx, tx, threadID)
		if err != nil {
			return nil, err
		}
		if thread == nil {
			return nil, fmt.Errorf("thread %s not found", threadID)
		}

		if err := insertMessage(ctx, tx, msg); err != nil {
			return nil, err
		}

		for _, existing := range thread.MessageIDs {
			if existing == msg.ID {
				return nil, fmt.Errorf("message %s already in thread %s", msg.ID, threadID)
			}
		}
		thread.MessageIDs = append(thread.MessageIDs, msg.ID)
		messageIDs, err := encodeIDs(thread.MessageIDs)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE threads SET message_ids = ? WHERE id = ?;
        `, messageIDs, threadID); err != nil {
			return nil, fmt.Errorf("failed to update thread %s membership: %w", threadID, err)
		}

		return []Event{
			{Kind: EventMessageAppended, Message: cloneMessage(msg)},
			{Kind: EventThreadUpdated, Thread: thread},
		}, nil
	})
}

func (s *sqliteStore) GetThreadMessages(ctx context.Context, threadID string) ([]*Message, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	if len(thread.MessageIDs) == 0 {
		return []*Message{}, nil
	}

	query, args, err := sqlx.In(`
        SELECT id, username, content, timestamp, thread_ids
        FROM messages WHERE id IN (?);
    `, thread.MessageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build thread messages query: %w", err)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load thread %s messages: %w", threadID, err)
	}

	byID := make(map[string]*Message, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		byID[msg.ID] = msg
	}

	// Thread order is authoritative, not row order.
	out := make([]*Message, 0, len(thread.MessageIDs))
	for _, id := range thread.MessageIDs {
		if msg, ok := byID[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *sqliteStore) FindThreadOf(ctx context.Context, messageID string) (*Thread, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message id cannot be empty")
	}

	// message_ids is a JSON array of quoted ids, so a substring match on
	// the quoted id is exact.
	var row threadRow
	err := s.db.GetContext(ctx, &row, `
        SELECT id, parent_message_id, created_at, message_ids
        FROM threads WHERE message_ids LIKE ? LIMIT 1;
    `, `%"`+messageID+`"%`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find thread of message %s: %w", messageID, err)
	}
	return row.toThread()
}

func (s *sqliteStore) RunMaintenance(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE;"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}
	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}
