package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/convoq/convoq/internal/backend"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/queue"
)

// TextStream streams a single plain-text reply into one message slot.
type TextStream struct {
	deps Deps
}

// NewTextStream creates the text streaming handler.
func NewTextStream(deps Deps) *TextStream {
	return &TextStream{deps: deps}
}

// Handle creates an empty placeholder message in the thread before the
// first byte arrives, then replaces its content in place as chunks stream
// in. On stream failure the placeholder becomes a fixed error string and
// the error propagates so the dispatcher fails the invocation.
func (h *TextStream) Handle(ctx context.Context, inv *queue.Invocation, threadID string) error {
	log := h.deps.Logger.With("handler", "text_stream", "invocation_id", inv.ID)

	placeholder := &chatlog.Message{
		Username:  inv.Bot.DisplayName,
		Content:   "",
		Timestamp: time.Now().UTC(),
	}
	if err := h.deps.Store.AppendMessageToThread(ctx, placeholder, threadID); err != nil {
		return fmt.Errorf("failed to create placeholder message: %w", err)
	}

	req := backend.TextRequest{
		BotID:   inv.Bot.ID,
		Message: inv.Prompt,
		Context: formatContext(inv.ContextMessages),
	}

	var accumulated strings.Builder
	streamErr := h.deps.Text.StreamText(ctx, req, func(chunk string) error {
		accumulated.WriteString(chunk)
		return h.deps.Store.ReplaceMessageContent(ctx, placeholder.ID, accumulated.String())
	})
	if streamErr != nil {
		log.ErrorContext(ctx, "Text stream failed", "error", streamErr)
		if writeErr := h.deps.Store.ReplaceMessageContent(ctx, placeholder.ID, fmt.Sprintf("[Error: %v]", streamErr)); writeErr != nil {
			log.ErrorContext(ctx, "Failed to write error message", "error", writeErr)
		}
		return streamErr
	}

	log.InfoContext(ctx, "Text stream completed", "length", accumulated.Len())
	return nil
}

func formatContext(messages []*chatlog.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04:05"), m.Username, m.Content))
	}
	return out
}
