package chatlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one entry in the shared conversation log. A message may be
// mutated in place (by id) while a bot stream is in flight; once the owning
// invocation reaches a terminal state it is treated as immutable.
type Message struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`

	// ThreadIDs lists reply threads anchored to this message.
	ThreadIDs []string `db:"-"`
}

// Thread is a reply container anchored to one parent message, holding an
// ordered list of message ids. The list never contains duplicates and is
// append-only except for delete+reinsert replacement when editing.
type Thread struct {
	ID              string    `db:"id"`
	ParentMessageID string    `db:"parent_message_id"`
	CreatedAt       time.Time `db:"created_at"`

	MessageIDs []string `db:"-"`
}

// messageRow is the sqlite row shape; list columns are JSON-encoded.
type messageRow struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
	ThreadIDs string    `db:"thread_ids"`
}

type threadRow struct {
	ID              string    `db:"id"`
	ParentMessageID string    `db:"parent_message_id"`
	CreatedAt       time.Time `db:"created_at"`
	MessageIDs      string    `db:"message_ids"`
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode id list: %w", err)
	}
	return string(raw), nil
}

func decodeIDs(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode id list: %w", err)
	}
	return ids, nil
}

func (r messageRow) toMessage() (*Message, error) {
	ids, err := decodeIDs(r.ThreadIDs)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        r.ID,
		Username:  r.Username,
		Content:   r.Content,
		Timestamp: r.Timestamp,
		ThreadIDs: ids,
	}, nil
}

func (r threadRow) toThread() (*Thread, error) {
	ids, err := decodeIDs(r.MessageIDs)
	if err != nil {
		return nil, err
	}
	return &Thread{
		ID:              r.ID,
		ParentMessageID: r.ParentMessageID,
		CreatedAt:       r.CreatedAt,
		MessageIDs:      ids,
	}, nil
}

func cloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.ThreadIDs = append([]string(nil), m.ThreadIDs...)
	return &cp
}

func cloneThread(t *Thread) *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.MessageIDs = append([]string(nil), t.MessageIDs...)
	return &cp
}
