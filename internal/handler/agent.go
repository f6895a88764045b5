package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoq/convoq/internal/agentapi"
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/queue"
)

const (
	agentThinkingMessage    = "Working on it..."
	agentNoArtifactsMessage = "The agent run completed without producing any artifacts."
)

// ExternalAgent delegates prompt execution to the out-of-process coding
// agent and materializes its artifacts as thread messages.
type ExternalAgent struct {
	deps Deps
}

// NewExternalAgent creates the external agent handler.
func NewExternalAgent(deps Deps) *ExternalAgent {
	return &ExternalAgent{deps: deps}
}

// Handle creates a thinking placeholder, runs the agent (resuming the
// thread's prior session when one exists), replaces the placeholder with
// the completion summary, and appends one message per output artifact. Any
// failure replaces the placeholder with an error string and propagates.
func (h *ExternalAgent) Handle(ctx context.Context, inv *queue.Invocation, threadID string) error {
	log := h.deps.Logger.With("handler", "external_agent", "invocation_id", inv.ID)

	placeholder := &chatlog.Message{
		Username:  inv.Bot.DisplayName,
		Content:   agentThinkingMessage,
		Timestamp: time.Now().UTC(),
	}
	if err := h.deps.Store.AppendMessageToThread(ctx, placeholder, threadID); err != nil {
		return fmt.Errorf("failed to create thinking message: %w", err)
	}

	req := agentapi.Request{
		Prompt:    inv.Prompt,
		SessionID: h.deps.Sessions.Get(threadID),
	}
	if req.SessionID != "" {
		log.DebugContext(ctx, "Resuming agent session", "session_id", req.SessionID)
	}

	result, err := h.deps.Agent.Run(ctx, req)
	if err != nil {
		log.ErrorContext(ctx, "Agent run failed", "error", err)
		if writeErr := h.deps.Store.ReplaceMessageContent(ctx, placeholder.ID, fmt.Sprintf("[Error: %v]", err)); writeErr != nil {
			log.ErrorContext(ctx, "Failed to write error message", "error", writeErr)
		}
		return err
	}

	h.deps.Sessions.Set(threadID, result.SessionID)

	summary := result.Summary
	if summary == "" {
		summary = "Agent run completed."
	}
	if err := h.deps.Store.ReplaceMessageContent(ctx, placeholder.ID, summary); err != nil {
		return fmt.Errorf("failed to write completion summary: %w", err)
	}

	if len(result.Artifacts) == 0 {
		msg := &chatlog.Message{
			Username:  inv.Bot.DisplayName,
			Content:   agentNoArtifactsMessage,
			Timestamp: time.Now().UTC(),
		}
		if err := h.deps.Store.AppendMessageToThread(ctx, msg, threadID); err != nil {
			return fmt.Errorf("failed to write no-artifacts message: %w", err)
		}
		log.InfoContext(ctx, "Agent run completed without artifacts")
		return nil
	}

	for _, artifact := range result.Artifacts {
		content, err := json.Marshal(artifact)
		if err != nil {
			return fmt.Errorf("failed to serialize artifact %q: %w", artifact.Name, err)
		}
		msg := &chatlog.Message{
			Username:  inv.Bot.DisplayName,
			Content:   string(content),
			Timestamp: time.Now().UTC(),
		}
		if err := h.deps.Store.AppendMessageToThread(ctx, msg, threadID); err != nil {
			return fmt.Errorf("failed to append artifact %q: %w", artifact.Name, err)
		}
	}

	log.InfoContext(ctx, "Agent run completed", "artifacts", len(result.Artifacts), "session_id", result.SessionID)
	return nil
}
