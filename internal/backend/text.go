// Package backend implements the generation backends bots stream from:
// a plain-text HTTP streaming endpoint and a structured JSON-mode Gemini
// stream whose partial snapshots grow until the stream closes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TextRequest is the wire request for the text-generation backend.
type TextRequest struct {
	BotID   string   `json:"bot_id"`
	Message string   `json:"message"`
	Context []string `json:"context"`
}

// TextStreamer streams plain-text tokens for a bot reply. onChunk is called
// for each received chunk; returning an error aborts the stream.
type TextStreamer interface {
	StreamText(ctx context.Context, req TextRequest, onChunk func(chunk string) error) error
}

// TextClient is a TextStreamer backed by an HTTP endpoint that streams the
// response body as plain text, terminated by stream close.
type TextClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTextClient creates a text backend client for the given endpoint.
func NewTextClient(endpoint string, timeout time.Duration, logger *slog.Logger) *TextClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "text_backend"),
	}
}

// StreamText issues the request and feeds response body chunks to onChunk
// as they arrive. A non-2xx response is a hard failure.
func (c *TextClient) StreamText(ctx context.Context, req TextRequest, onChunk func(chunk string) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal text request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build text request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("text backend request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "Error closing text backend response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Bot API error: %d", resp.StatusCode)
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := onChunk(string(buf[:n])); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("text stream read failed: %w", readErr)
		}
	}
}
