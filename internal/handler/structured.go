package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/queue"
)

// shape describes how one schema's snapshots map onto log messages: which
// top-level field holds the growing array of committable items, which
// top-level fields are singleton evolving messages, and how to render one
// array element as message content.
type shape struct {
	arrayField string
	singletons []string
	render     func(elem any) (string, error)
}

var shapes = map[string]shape{
	backend.SchemaListItems: {
		arrayField: "items",
		render:     renderPlainString,
	},
	backend.SchemaCodeVariants: {
		arrayField: "variants",
		singletons: []string{"reasoning"},
		render:     renderSerialized,
	},
	backend.SchemaCalendarEvents: {
		arrayField: "events",
		render:     renderSerialized,
	},
	backend.SchemaChatReply: {
		singletons: []string{"reasoning", "reply"},
	},
}

func renderPlainString(elem any) (string, error) {
	if s, ok := elem.(string); ok {
		return s, nil
	}
	return renderSerialized(elem)
}

func renderSerialized(elem any) (string, error) {
	raw, err := json.Marshal(elem)
	if err != nil {
		return "", fmt.Errorf("failed to serialize element: %w", err)
	}
	return string(raw), nil
}

// StructuredStream reconciles a stream of growing partial-object snapshots
// into committed, immutable log entries. Array elements are committed only
// once stable (unchanged across two consecutive observations, or the stream
// has ended); singleton fields each occupy one evolving message slot.
type StructuredStream struct {
	deps Deps
}

// NewStructuredStream creates the structured streaming handler.
func NewStructuredStream(deps Deps) *StructuredStream {
	return &StructuredStream{deps: deps}
}

// reconciler holds the per-invocation commit state carried across snapshot
// observations.
type reconciler struct {
	deps     Deps
	shape    shape
	bot      string
	threadID string

	processedCount int
	prevSnapshots  []string          // serialized elements from the previous observation
	singletonIDs   map[string]string // singleton field -> message id
	singletonVals  map[string]string // singleton field -> last written value
	lastElements   []any
	updates        int
}

// Handle runs the structured stream and commits elements as they stabilize.
// Remaining elements are flushed unconditionally at stream end. The handler
// reports failure when the stream errors or produced no updates at all.
func (h *StructuredStream) Handle(ctx context.Context, inv *queue.Invocation, threadID string) error {
	log := h.deps.Logger.With("handler", "structured_stream", "invocation_id", inv.ID)

	sh, ok := shapes[inv.Bot.SchemaID]
	if !ok {
		return fmt.Errorf("unknown schema id %q", inv.Bot.SchemaID)
	}

	rec := &reconciler{
		deps:          h.deps,
		shape:         sh,
		bot:           inv.Bot.DisplayName,
		threadID:      threadID,
		singletonIDs:  make(map[string]string),
		singletonVals: make(map[string]string),
	}

	req := backend.StructuredRequest{
		BotID:           inv.Bot.ID,
		SchemaID:        inv.Bot.SchemaID,
		Prompt:          inv.Prompt,
		ContextMessages: formatContext(inv.ContextMessages),
	}

	streamErr := h.deps.Structured.StreamStructured(ctx, req, func(snapshot map[string]any) error {
		return rec.observe(ctx, snapshot)
	})
	if streamErr != nil {
		log.ErrorContext(ctx, "Structured stream failed", "error", streamErr)
		h.appendError(ctx, inv, threadID, streamErr)
		return streamErr
	}

	if rec.updates == 0 {
		err := fmt.Errorf("structured stream ended without any updates")
		h.appendError(ctx, inv, threadID, err)
		return err
	}

	// Stream finished: every remaining element is stable by definition.
	if err := rec.flush(ctx); err != nil {
		log.ErrorContext(ctx, "Failed to flush remaining elements", "error", err)
		h.appendError(ctx, inv, threadID, err)
		return err
	}

	log.InfoContext(ctx, "Structured stream completed", "committed", rec.processedCount, "updates", rec.updates)
	return nil
}

func (h *StructuredStream) appendError(ctx context.Context, inv *queue.Invocation, threadID string, cause error) {
	msg := &chatlog.Message{
		Username:  inv.Bot.DisplayName,
		Content:   fmt.Sprintf("[Error: %v]", cause),
		Timestamp: time.Now().UTC(),
	}
	if err := h.deps.Store.AppendMessageToThread(ctx, msg, threadID); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to append error message", "invocation_id", inv.ID, "error", err)
	}
}

// observe processes one snapshot, committing newly stable elements.
func (r *reconciler) observe(ctx context.Context, snapshot map[string]any) error {
	r.updates++

	if err := r.updateSingletons(ctx, snapshot); err != nil {
		return err
	}
	if r.shape.arrayField == "" {
		return nil
	}

	elements := arrayElements(snapshot, r.shape.arrayField)
	r.lastElements = elements

	current := make([]string, len(elements))
	for i, elem := range elements {
		serialized, err := json.Marshal(elem)
		if err != nil {
			return fmt.Errorf("failed to serialize element %d: %w", i, err)
		}
		current[i] = string(serialized)
	}

	// Commit in array order; stop at the first unstable element so commits
	// never leave gaps. Stability means the serialized form is unchanged
	// since the previous observation.
	for i := r.processedCount; i < len(elements); i++ {
		stable := i < len(r.prevSnapshots) && r.prevSnapshots[i] == current[i]
		if !stable {
			break
		}
		if err := r.commit(ctx, elements[i]); err != nil {
			return err
		}
	}

	r.prevSnapshots = current
	return nil
}

// flush commits every element not yet committed. Called at stream end.
func (r *reconciler) flush(ctx context.Context) error {
	for i := r.processedCount; i < len(r.lastElements); i++ {
		if err := r.commit(ctx, r.lastElements[i]); err != nil {
			return err
		}
	}
	return nil
}

// commit synthesizes a message from one element, appends it to the thread
// transactionally, and advances the low-water mark.
func (r *reconciler) commit(ctx context.Context, elem any) error {
	content, err := r.shape.render(elem)
	if err != nil {
		return err
	}
	msg := &chatlog.Message{
		Username:  r.bot,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if err := r.deps.Store.AppendMessageToThread(ctx, msg, r.threadID); err != nil {
		return fmt.Errorf("failed to commit element %d: %w", r.processedCount, err)
	}
	r.processedCount++
	return nil
}

// updateSingletons tracks non-array top-level fields: each is one logical
// evolving message, created on first non-empty value and content-replaced
// on change. Not subject to stability detection.
func (r *reconciler) updateSingletons(ctx context.Context, snapshot map[string]any) error {
	for _, field := range r.shape.singletons {
		value, ok := snapshot[field].(string)
		if !ok || value == "" {
			continue
		}
		if r.singletonVals[field] == value {
			continue
		}
		r.singletonVals[field] = value

		if id, exists := r.singletonIDs[field]; exists {
			if err := r.deps.Store.ReplaceMessageContent(ctx, id, value); err != nil {
				return fmt.Errorf("failed to update %s message: %w", field, err)
			}
			continue
		}

		msg := &chatlog.Message{
			Username:  r.bot,
			Content:   value,
			Timestamp: time.Now().UTC(),
		}
		if err := r.deps.Store.AppendMessageToThread(ctx, msg, r.threadID); err != nil {
			return fmt.Errorf("failed to create %s message: %w", field, err)
		}
		r.singletonIDs[field] = msg.ID
	}
	return nil
}

func arrayElements(snapshot map[string]any, field string) []any {
	if raw, ok := snapshot[field].([]any); ok {
		return raw
	}
	return nil
}
