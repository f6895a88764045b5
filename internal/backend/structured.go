package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// StructuredRequest is a request against the structured-generation backend.
type StructuredRequest struct {
	BotID           string
	SchemaID        string
	Prompt          string
	ContextMessages []string
}

// StructuredStreamer streams growing partial-object snapshots. onSnapshot
// receives the current best-effort parse of the accumulated output on every
// chunk; the final invocation before return carries the complete object.
type StructuredStreamer interface {
	StreamStructured(ctx context.Context, req StructuredRequest, onSnapshot func(snapshot map[string]any) error) error
}

// StructuredConfig configures the Gemini-backed structured streamer.
type StructuredConfig struct {
	APIKey      string
	ModelName   string
	Temperature float32
}

// StructuredClient streams JSON-mode Gemini output. Each received chunk
// extends the accumulated JSON text, which is completed into a parseable
// snapshot and surfaced to the caller.
type StructuredClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	temperature float32
}

// NewStructuredClient creates a structured backend client.
func NewStructuredClient(ctx context.Context, cfg StructuredConfig, log *slog.Logger) (*StructuredClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("structured backend API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "structured_backend")
	logger.Info("Structured backend client initialized", "model", cfg.ModelName)
	return &StructuredClient{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
	}, nil
}

// StreamStructured runs a JSON-mode generation against the schema resolved
// from req.SchemaID and emits a snapshot per received chunk. An unknown
// schema id fails immediately; a malformed intermediate snapshot is skipped
// rather than aborting the stream.
func (c *StructuredClient) StreamStructured(ctx context.Context, req StructuredRequest, onSnapshot func(snapshot map[string]any) error) error {
	schema, ok := schemas[req.SchemaID]
	if !ok {
		return fmt.Errorf("unknown schema id %q", req.SchemaID)
	}

	var sb strings.Builder
	for _, m := range req.ContextMessages {
		sb.WriteString(m)
		sb.WriteString("\n")
	}
	sb.WriteString(req.Prompt)

	contents := []*genai.Content{genai.NewContentFromText(sb.String(), genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:      &c.temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	var accumulated strings.Builder
	updates := 0

	for chunk, err := range c.genaiClient.Models.GenerateContentStream(ctx, c.modelName, contents, cfg) {
		if err != nil {
			return fmt.Errorf("structured stream failed: %w", err)
		}
		text := chunkText(chunk)
		if text == "" {
			continue
		}
		accumulated.WriteString(text)

		snapshot, parseErr := parseSnapshot(accumulated.String())
		if parseErr != nil {
			// Mid-token growth can defeat completion; the next chunk
			// usually parses.
			c.log.DebugContext(ctx, "Skipping unparseable partial snapshot", "error", parseErr)
			continue
		}
		updates++
		if err := onSnapshot(snapshot); err != nil {
			return err
		}
	}

	if updates == 0 {
		// Force a final parse so the caller sees whatever arrived.
		snapshot, parseErr := parseSnapshot(accumulated.String())
		if parseErr != nil {
			return fmt.Errorf("structured stream produced no parseable output: %w", parseErr)
		}
		return onSnapshot(snapshot)
	}
	return nil
}

func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func parseSnapshot(partial string) (map[string]any, error) {
	completed := CompletePartialJSON(partial)
	if completed == "" {
		return nil, fmt.Errorf("empty snapshot")
	}
	var snapshot map[string]any
	if err := json.Unmarshal([]byte(completed), &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
