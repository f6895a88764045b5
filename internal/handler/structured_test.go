package handler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/handler"
	"github.com/convoq/convoq/internal/queue"
	"github.com/convoq/convoq/internal/registry"
)

type fakeStructuredStreamer struct {
	snapshots []map[string]any
	err       error
}

func (f *fakeStructuredStreamer) StreamStructured(_ context.Context, _ backend.StructuredRequest, onSnapshot func(snapshot map[string]any) error) error {
	for _, s := range f.snapshots {
		if err := onSnapshot(s); err != nil {
			return err
		}
	}
	return f.err
}

func structuredInvocation(schemaID string) *queue.Invocation {
	return &queue.Invocation{
		ID: "inv-1",
		Bot: registry.Bot{
			ID: "list", Mention: "list", DisplayName: "List",
			ResponseType: registry.ResponseStructured, ContextMode: registry.ContextNone,
			SchemaID: schemaID,
		},
		Prompt: "make a list",
	}
}

func runStructured(t *testing.T, store chatlog.Store, threadID string, streamer backend.StructuredStreamer, inv *queue.Invocation) error {
	t.Helper()

	h := handler.NewStructuredStream(handler.Deps{
		Logger:     testLogger(),
		Store:      store,
		Structured: streamer,
	})
	return h.Handle(context.Background(), inv, threadID)
}

func TestStructuredCommitsStableElementsInOrder(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	// Each element appears, survives one more observation unchanged, then
	// gets committed. The last element is only ever seen once and is
	// flushed at stream end.
	streamer := &fakeStructuredStreamer{snapshots: []map[string]any{
		{"items": []any{"alpha"}},
		{"items": []any{"alpha", "beta"}},
		{"items": []any{"alpha", "beta", "gamma"}},
	}}

	if err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	contents := threadContents(t, store, threadID)
	want := []string{"alpha", "beta", "gamma"}
	if len(contents) != len(want) {
		t.Fatalf("thread has %d messages, want %d: %v", len(contents), len(want), contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestStructuredEachElementCommittedExactlyOnce(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	var mu sync.Mutex
	appends := map[string]int{}
	store.Observe(func(ev chatlog.Event) {
		if ev.Kind == chatlog.EventMessageAppended {
			mu.Lock()
			appends[ev.Message.Content]++
			mu.Unlock()
		}
	})

	// "alpha" is stable from the second observation onward; repeating it
	// must not produce duplicate commits.
	streamer := &fakeStructuredStreamer{snapshots: []map[string]any{
		{"items": []any{"alpha"}},
		{"items": []any{"alpha"}},
		{"items": []any{"alpha"}},
		{"items": []any{"alpha", "beta"}},
	}}

	if err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if appends["alpha"] != 1 {
		t.Errorf("alpha committed %d times, want 1", appends["alpha"])
	}
	if appends["beta"] != 1 {
		t.Errorf("beta committed %d times, want 1", appends["beta"])
	}
}

func TestStructuredUnstableElementWaitsForStability(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	var mu sync.Mutex
	var committed []string
	store.Observe(func(ev chatlog.Event) {
		if ev.Kind == chatlog.EventMessageAppended {
			mu.Lock()
			committed = append(committed, ev.Message.Content)
			mu.Unlock()
		}
	})

	// The element mutates across the first two observations, so nothing
	// may commit until it repeats verbatim.
	streamer := &fakeStructuredStreamer{snapshots: []map[string]any{
		{"items": []any{"dra"}},
		{"items": []any{"draft"}},
		{"items": []any{"draft"}},
	}}

	if err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(committed) != 1 || committed[0] != "draft" {
		t.Errorf("committed = %v, want exactly [draft]", committed)
	}
}

func TestStructuredCommitStopsAtFirstUnstable(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	// "second" changes between observations two and three, so "third" may
	// not commit before it even though "third" repeats verbatim.
	streamer := &fakeStructuredStreamer{snapshots: []map[string]any{
		{"items": []any{"first", "sec", "third"}},
		{"items": []any{"first", "second", "third"}},
		{"items": []any{"first", "second", "third"}},
	}}

	if err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	contents := threadContents(t, store, threadID)
	want := []string{"first", "second", "third"}
	if len(contents) != len(want) {
		t.Fatalf("thread has %d messages, want %d: %v", len(contents), len(want), contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestStructuredSingletonEvolvesInPlace(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)

	var mu sync.Mutex
	replacements := 0
	store.Observe(func(ev chatlog.Event) {
		if ev.Kind == chatlog.EventMessageUpdated {
			mu.Lock()
			replacements++
			mu.Unlock()
		}
	})

	streamer := &fakeStructuredStreamer{snapshots: []map[string]any{
		{"reasoning": "Thinking"},
		{"reasoning": "Thinking about it"},
		{"reasoning": "Thinking about it", "reply": "Use a heap."},
	}}

	if err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaChatReply)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	contents := threadContents(t, store, threadID)
	want := []string{"Thinking about it", "Use a heap."}
	if len(contents) != len(want) {
		t.Fatalf("thread has %d messages, want %d: %v", len(contents), len(want), contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, contents[i], want[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	// Only the reasoning message ever changed after creation.
	if replacements != 1 {
		t.Errorf("got %d in-place replacements, want 1", replacements)
	}
}

func TestStructuredZeroUpdatesFails(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)
	streamer := &fakeStructuredStreamer{}

	err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems))
	if err == nil {
		t.Fatal("Handle should fail when the stream produced no updates")
	}

	contents := threadContents(t, store, threadID)
	if len(contents) != 1 {
		t.Fatalf("thread has %d messages, want 1 error message", len(contents))
	}
}

func TestStructuredStreamErrorAppendsErrorMessage(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)
	streamer := &fakeStructuredStreamer{
		snapshots: []map[string]any{{"items": []any{"alpha"}}},
		err:       errors.New("model overloaded"),
	}

	err := runStructured(t, store, threadID, streamer, structuredInvocation(backend.SchemaListItems))
	if err == nil {
		t.Fatal("Handle should propagate the stream error")
	}

	contents := threadContents(t, store, threadID)
	if len(contents) == 0 {
		t.Fatal("expected an error message in the thread")
	}
	if got := contents[len(contents)-1]; got != "[Error: model overloaded]" {
		t.Errorf("error message = %q, want %q", got, "[Error: model overloaded]")
	}
}

func TestStructuredUnknownSchema(t *testing.T) {
	t.Parallel()

	store, threadID := newThread(t)
	err := runStructured(t, store, threadID, &fakeStructuredStreamer{}, structuredInvocation("no_such_schema"))
	if err == nil {
		t.Fatal("Handle should reject an unknown schema id")
	}
}
