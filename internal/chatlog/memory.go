package chatlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore implements Store with mutex-guarded maps. Record replacement
// follows the delete+reinsert discipline so observers always see whole
// records, never field-level interleaving. Used by tests and embedders.
type memoryStore struct {
	mu       sync.Mutex
	messages map[string]*Message
	threads  map[string]*Thread
	hub      observerHub
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		messages: make(map[string]*Message),
		threads:  make(map[string]*Thread),
	}
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Observe(fn ObserverFunc) (cancel func()) {
	return s.hub.Observe(fn)
}

func (s *memoryStore) AppendMessage(_ context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if _, exists := s.messages[msg.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	s.messages[msg.ID] = cloneMessage(msg)
	s.mu.Unlock()

	s.hub.notify(Event{Kind: EventMessageAppended, Message: cloneMessage(msg)})
	return nil
}

func (s *memoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessage(s.messages[id]), nil
}

func (s *memoryStore) ReplaceMessageContent(_ context.Context, messageID, content string) error {
	s.mu.Lock()
	old, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", messageID)
	}

	// Delete then reinsert the full record, matching the CRDT-style
	// replacement the durable store's transaction provides.
	delete(s.messages, messageID)
	updated := cloneMessage(old)
	updated.Content = content
	s.messages[messageID] = updated
	s.mu.Unlock()

	s.hub.notify(Event{Kind: EventMessageUpdated, Message: cloneMessage(updated)})
	return nil
}

func (s *memoryStore) CreateThread(_ context.Context, triggerMessageID string) (string, error) {
	s.mu.Lock()
	trigger, ok := s.messages[triggerMessageID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("trigger message %s not found", triggerMessageID)
	}

	thread := &Thread{
		ID:              uuid.NewString(),
		ParentMessageID: triggerMessageID,
		CreatedAt:       time.Now().UTC(),
		MessageIDs:      []string{},
	}
	s.threads[thread.ID] = thread

	delete(s.messages, triggerMessageID)
	updated := cloneMessage(trigger)
	updated.ThreadIDs = append(updated.ThreadIDs, thread.ID)
	s.messages[triggerMessageID] = updated
	s.mu.Unlock()

	s.hub.notify(
		Event{Kind: EventThreadCreated, Thread: cloneThread(thread)},
		Event{Kind: EventMessageUpdated, Message: cloneMessage(updated)},
	)
	return thread.ID, nil
}

func (s *memoryStore) GetThread(_ context.Context, id string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneThread(s.threads[id]), nil
}

func (s *memoryStore) AppendMessageToThread(_ context.Context, msg *Message, threadID string) error {
	if msg == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("thread %s not found", threadID)
	}
	if _, exists := s.messages[msg.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	for _, existing := range thread.MessageIDs {
		if existing == msg.ID {
			s.mu.Unlock()
			return fmt.Errorf("message %s already in thread %s", msg.ID, threadID)
		}
	}

	s.messages[msg.ID] = cloneMessage(msg)

	delete(s.threads, threadID)
	updated := cloneThread(thread)
	updated.MessageIDs = append(updated.MessageIDs, msg.ID)
	s.threads[threadID] = updated
	s.mu.Unlock()

	s.hub.notify(
		Event{Kind: EventMessageAppended, Message: cloneMessage(msg)},
		Event{Kind: EventThreadUpdated, Thread: cloneThread(updated)},
	)
	return nil
}

func (s *memoryStore) GetThreadMessages(_ context.Context, threadID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}

	out := make([]*Message, 0, len(thread.MessageIDs))
	for _, id := range thread.MessageIDs {
		if msg, ok := s.messages[id]; ok {
			out = append(out, cloneMessage(msg))
		}
	}
	return out, nil
}

func (s *memoryStore) FindThreadOf(_ context.Context, messageID string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, thread := range s.threads {
		for _, id := range thread.MessageIDs {
			if id == messageID {
				return cloneThread(thread), nil
			}
		}
	}
	return nil, nil
}

func (s *memoryStore) RunMaintenance(context.Context) error { return nil }
