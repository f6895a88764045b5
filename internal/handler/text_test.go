package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/handler"
	"github.com/convoq/convoq/internal/queue"
	"github.com/convoq/convoq/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newThread seeds a store with a trigger message and a thread rooted at it.
func newThread(t *testing.T) (chatlog.Store, string) {
	t.Helper()

	store := chatlog.NewMemoryStore()
	trigger := &chatlog.Message{ID: "trigger", Username: "alice", Content: "hi @ai"}
	if err := store.AppendMessage(context.Background(), trigger); err != nil {
		t.Fatalf("failed to seed trigger message: %v", err)
	}
	threadID, err := store.CreateThread(context.Background(), trigger.ID)
	if err != nil {
		t.Fatalf("failed to create thread: %v", err)
	}
	return store, threadID
}

func threadContents(t *testing.T, store chatlog.Store, threadID string) []string {
	t.Helper()

	msgs, err := store.GetThreadMessages(context.Background(), threadID)
	if err != nil {
		t.Fatalf("failed to read thread messages: %v", err)
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

type fakeTextStreamer struct {
	chunks []string
	err    error
}

func (f *fakeTextStreamer) StreamText(_ context.Context, _ backend.TextRequest, onChunk func(chunk string) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

func textInvocation() *queue.Invocation {
	return &queue.Invocation{
		ID:     "inv-1",
		Bot:    registry.Bot{ID: "ai", Mention: "ai", DisplayName: "AI", ResponseType: registry.ResponseText, ContextMode: registry.ContextNone},
		Prompt: "say hello",
	}
}

func TestTextStreamAccumulatesChunks(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)
	h := handler.NewTextStream(handler.Deps{
		Logger: testLogger(),
		Store:  store,
		Text:   &fakeTextStreamer{chunks: []string{"Hel", "lo, ", "world"}},
	})

	if err := h.Handle(context.Background(), textInvocation(), threadID); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	contents := threadContents(t, store, threadID)
	if len(contents) != 1 {
		t.Fatalf("thread has %d messages, want 1", len(contents))
	}
	if contents[0] != "Hello, world" {
		t.Errorf("message content = %q, want %q", contents[0], "Hello, world")
	}
}

func TestTextStreamUpdatesInPlace(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	var mu sync.Mutex
	var updates []string
	store.Observe(func(ev chatlog.Event) {
		if ev.Kind == chatlog.EventMessageUpdated {
			mu.Lock()
			updates = append(updates, ev.Message.Content)
			mu.Unlock()
		}
	})

	h := handler.NewTextStream(handler.Deps{
		Logger: testLogger(),
		Store:  store,
		Text:   &fakeTextStreamer{chunks: []string{"one", " two"}},
	})
	if err := h.Handle(context.Background(), textInvocation(), threadID); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "one two"}
	if len(updates) != len(want) {
		t.Fatalf("got %d content updates, want %d: %v", len(updates), len(want), updates)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("update %d = %q, want %q", i, updates[i], want[i])
		}
	}
}

func TestTextStreamBackendError(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)
	h := handler.NewTextStream(handler.Deps{
		Logger: testLogger(),
		Store:  store,
		Text:   &fakeTextStreamer{chunks: []string{"partial "}, err: errors.New("Bot API error: 500")},
	})

	err := h.Handle(context.Background(), textInvocation(), threadID)
	if err == nil {
		t.Fatal("Handle should propagate the stream error")
	}

	contents := threadContents(t, store, threadID)
	if len(contents) != 1 {
		t.Fatalf("thread has %d messages, want 1", len(contents))
	}
	if contents[0] != "[Error: Bot API error: 500]" {
		t.Errorf("message content = %q, want %q", contents[0], "[Error: Bot API error: 500]")
	}
}
