package chatlog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/convoq/convoq/internal/chatlog"
)

func seedMessage(t *testing.T, store chatlog.Store, id, content string) *chatlog.Message {
	t.Helper()
	msg := &chatlog.Message{ID: id, Username: "alice", Content: content}
	if err := store.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("failed to append message %s: %v", id, err)
	}
	return msg
}

func TestAppendMessageAssignsIDAndRejectsDuplicates(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()

	msg := &chatlog.Message{Username: "alice", Content: "hello"}
	if err := store.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("AppendMessage did not assign an id")
	}
	if msg.Timestamp.IsZero() {
		t.Error("AppendMessage did not assign a timestamp")
	}

	if err := store.AppendMessage(ctx, &chatlog.Message{ID: msg.ID, Username: "bob", Content: "dup"}); err == nil {
		t.Error("duplicate message id should be rejected")
	}
}

func TestCreateThreadLinksTriggerAtomically(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()
	trigger := seedMessage(t, store, "m1", "hello @ai")

	var mu sync.Mutex
	var kinds []chatlog.EventKind
	store.Observe(func(ev chatlog.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	threadID, err := store.CreateThread(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	thread, err := store.GetThread(ctx, threadID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if thread.ParentMessageID != trigger.ID {
		t.Errorf("parent = %q, want %q", thread.ParentMessageID, trigger.ID)
	}
	if len(thread.MessageIDs) != 0 {
		t.Errorf("new thread already has messages: %v", thread.MessageIDs)
	}

	stored, err := store.GetMessage(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(stored.ThreadIDs) != 1 || stored.ThreadIDs[0] != threadID {
		t.Errorf("trigger ThreadIDs = %v, want [%s]", stored.ThreadIDs, threadID)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []chatlog.EventKind{chatlog.EventThreadCreated, chatlog.EventMessageUpdated}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestCreateThreadMissingTrigger(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	if _, err := store.CreateThread(context.Background(), "absent"); err == nil {
		t.Error("CreateThread with unknown trigger should fail")
	}
}

func TestMultipleThreadsPerTrigger(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()
	trigger := seedMessage(t, store, "m1", "hello @ai @code")

	first, err := store.CreateThread(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	second, err := store.CreateThread(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if first == second {
		t.Fatal("both invocations got the same thread")
	}

	stored, err := store.GetMessage(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(stored.ThreadIDs) != 2 {
		t.Errorf("trigger ThreadIDs = %v, want two entries", stored.ThreadIDs)
	}
}

func TestAppendMessageToThreadPreservesOrder(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()
	trigger := seedMessage(t, store, "m1", "hello")
	threadID, err := store.CreateThread(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	for _, content := range []string{"first", "second", "third"} {
		msg := &chatlog.Message{Username: "bot", Content: content}
		if err := store.AppendMessageToThread(ctx, msg, threadID); err != nil {
			t.Fatalf("AppendMessageToThread failed: %v", err)
		}
	}

	msgs, err := store.GetThreadMessages(ctx, threadID)
	if err != nil {
		t.Fatalf("GetThreadMessages failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(msgs) != len(want) {
		t.Fatalf("thread has %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i].Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, want[i])
		}
	}
}

func TestAppendMessageToThreadUnknownThread(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	err := store.AppendMessageToThread(context.Background(), &chatlog.Message{Content: "x"}, "absent")
	if err == nil {
		t.Error("append to unknown thread should fail")
	}
}

func TestReplaceMessageContent(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, store, "m1", "draft")

	var mu sync.Mutex
	updates := 0
	store.Observe(func(ev chatlog.Event) {
		if ev.Kind == chatlog.EventMessageUpdated {
			mu.Lock()
			updates++
			mu.Unlock()
		}
	})

	if err := store.ReplaceMessageContent(ctx, msg.ID, "final"); err != nil {
		t.Fatalf("ReplaceMessageContent failed: %v", err)
	}

	stored, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if stored.Content != "final" {
		t.Errorf("content = %q, want %q", stored.Content, "final")
	}
	if stored.Username != "alice" {
		t.Errorf("username changed during replacement: %q", stored.Username)
	}

	mu.Lock()
	defer mu.Unlock()
	if updates != 1 {
		t.Errorf("got %d update events, want 1", updates)
	}

	if err := store.ReplaceMessageContent(ctx, "absent", "x"); err == nil {
		t.Error("replacing an unknown message should fail")
	}
}

func TestFindThreadOf(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()
	ctx := context.Background()
	trigger := seedMessage(t, store, "m1", "hello")
	threadID, err := store.CreateThread(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	member := &chatlog.Message{Username: "bob", Content: "inside"}
	if err := store.AppendMessageToThread(ctx, member, threadID); err != nil {
		t.Fatalf("AppendMessageToThread failed: %v", err)
	}

	found, err := store.FindThreadOf(ctx, member.ID)
	if err != nil {
		t.Fatalf("FindThreadOf failed: %v", err)
	}
	if found == nil || found.ID != threadID {
		t.Errorf("FindThreadOf = %+v, want thread %s", found, threadID)
	}

	// The trigger anchors the thread but is not a member of it.
	found, err = store.FindThreadOf(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("FindThreadOf failed: %v", err)
	}
	if found != nil {
		t.Errorf("trigger resolved to thread %s, want none", found.ID)
	}
}

func TestObserverCancel(t *testing.T) {
	t.Parallel()

	store := chatlog.NewMemoryStore()

	var mu sync.Mutex
	events := 0
	cancel := store.Observe(func(chatlog.Event) {
		mu.Lock()
		events++
		mu.Unlock()
	})

	seedMessage(t, store, "m1", "one")
	cancel()
	seedMessage(t, store, "m2", "two")

	mu.Lock()
	defer mu.Unlock()
	if events != 1 {
		t.Errorf("got %d events after cancel, want 1", events)
	}
}
