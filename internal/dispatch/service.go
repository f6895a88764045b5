package dispatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/mention"
	"github.com/convoq/convoq/internal/queue"
)

// Service is the ingest side of dispatch: it turns newly observed user
// messages into queued invocations, one per distinct mentioned bot.
type Service struct {
	logger *slog.Logger
	parser *mention.Parser
	store  chatlog.Store
	queue  *queue.Queue
}

// NewService creates the ingest service.
func NewService(logger *slog.Logger, parser *mention.Parser, store chatlog.Store, q *queue.Queue) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		logger: logger.With("component", "dispatch_service"),
		parser: parser,
		store:  store,
		queue:  q,
	}
}

// HandleMessage parses mentions in a user message and enqueues one
// invocation per distinct matched bot. Messages without resolvable
// mentions never create an invocation. Returns the number enqueued.
func (s *Service) HandleMessage(ctx context.Context, msg *chatlog.Message) int {
	matches := s.parser.Parse(msg.Content)
	if len(matches) == 0 {
		return 0
	}

	// The trigger may itself live inside a thread; invocations then target
	// that thread instead of creating a new one.
	var (
		existingThreadID string
		threadMessages   []*chatlog.Message
		parent           *chatlog.Message
	)
	thread, err := s.store.FindThreadOf(ctx, msg.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve trigger thread", "message_id", msg.ID, "error", err)
	} else if thread != nil {
		existingThreadID = thread.ID
		threadMessages, err = s.store.GetThreadMessages(ctx, thread.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load thread messages", "thread_id", thread.ID, "error", err)
			threadMessages = nil
		}
		parent, err = s.store.GetMessage(ctx, thread.ParentMessageID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load thread parent", "thread_id", thread.ID, "error", err)
			parent = nil
		}
	}

	enqueued := 0
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if _, dup := seen[match.Bot.ID]; dup {
			continue
		}
		seen[match.Bot.ID] = struct{}{}

		result := BuildContext(msg, threadMessages, parent, match.Bot, matches)
		id := s.queue.Enqueue(queue.EnqueueParams{
			Bot:              match.Bot,
			Prompt:           result.CleanedContent,
			TriggerMessageID: msg.ID,
			ExistingThreadID: existingThreadID,
			ContextMessages:  result.ContextMessages,
		})
		enqueued++
		s.logger.InfoContext(ctx, "Invocation enqueued",
			"invocation_id", id, "bot_id", match.Bot.ID, "trigger_message_id", msg.ID,
			"context_messages", len(result.ContextMessages))
	}
	return enqueued
}
