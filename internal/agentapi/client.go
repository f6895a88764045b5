// Package agentapi is the client for the external coding agent: requests go
// out over HTTP and results come back on a server-sent event stream carrying
// role-tagged message chunks, file-change artifacts, and a resumable session
// id on completion.
package agentapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request describes one agent run. SessionID, when set, resumes a previous
// session instead of starting fresh.
type Request struct {
	Prompt    string   `json:"prompt"`
	ImageRefs []string `json:"image_refs,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Artifact is one file produced by an agent run.
type Artifact struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Result is the outcome of a successful agent run.
type Result struct {
	Summary   string
	Artifacts []Artifact
	SessionID string
}

// Runner executes agent runs and supports cancelling them by request id.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
	Cancel(ctx context.Context, requestID string) error
}

// event is one decoded SSE frame payload.
type event struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Client is an HTTP/SSE Runner implementation.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an agent client for the given endpoint. The timeout
// bounds the whole run including the event stream; zero means no limit.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "agent_client"),
	}
}

// Run issues the request and consumes the event stream until a done or
// error event arrives. Malformed frames are logged and skipped; they never
// abort the rest of the stream.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()

	body, err := json.Marshal(struct {
		RequestID string `json:"request_id"`
		Request
	}{RequestID: requestID, Request: req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "Error closing agent response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent API error: %d", resp.StatusCode)
	}

	log := c.logger.With("request_id", requestID)
	result := &Result{}
	var summary strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	eventName := ""
	var dataLines []string

	flush := func() (done bool, err error) {
		if eventName == "" && len(dataLines) == 0 {
			return false, nil
		}
		name := eventName
		data := strings.Join(dataLines, "\n")
		eventName = ""
		dataLines = nil

		var ev event
		if data != "" {
			if parseErr := json.Unmarshal([]byte(data), &ev); parseErr != nil {
				log.WarnContext(ctx, "Skipping malformed agent event", "event", name, "error", parseErr)
				return false, nil
			}
		}

		switch name {
		case "connected":
			log.DebugContext(ctx, "Agent stream connected")
		case "message":
			if ev.Role == "assistant" {
				summary.WriteString(ev.Content)
			}
		case "file_change":
			result.Artifacts = append(result.Artifacts, Artifact{Name: ev.Name, Content: ev.Content})
		case "done":
			result.SessionID = ev.SessionID
			return true, nil
		case "error":
			msg := ev.Message
			if msg == "" {
				msg = "agent run failed"
			}
			return true, fmt.Errorf("agent error: %s", msg)
		default:
			log.DebugContext(ctx, "Ignoring unknown agent event", "event", name)
		}
		return false, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			done, evErr := flush()
			if evErr != nil {
				return nil, evErr
			}
			if done {
				result.Summary = summary.String()
				return result, nil
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// SSE comment, keepalive.
		default:
			log.DebugContext(ctx, "Ignoring unexpected agent stream line", "line", line)
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, fmt.Errorf("agent stream read failed: %w", scanErr)
	}

	// Stream closed without a done event.
	done, evErr := flush()
	if evErr != nil {
		return nil, evErr
	}
	if done {
		result.Summary = summary.String()
		return result, nil
	}
	return nil, fmt.Errorf("agent stream ended without completion")
}

// Cancel aborts an in-flight run by request id.
func (c *Client) Cancel(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("request id cannot be empty")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/runs/"+requestID, nil)
	if err != nil {
		return fmt.Errorf("failed to build cancel request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("agent cancel request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "Error closing agent cancel response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent API error: %d", resp.StatusCode)
	}
	return nil
}
