package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxEventLine bounds one NDJSON line read from the sidecar.
const maxEventLine = 2 * 1024 * 1024

// UnavailableError reports that the sidecar could not be reached or refused
// the request. Callers may fall back to the local runtime.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return "agent gateway unavailable: " + e.Reason + ": " + e.Err.Error()
	}
	return "agent gateway unavailable: " + e.Reason
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client talks to a sidecar Server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the sidecar at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Streams outlive any fixed client timeout; requests carry contexts.
		http: &http.Client{},
	}
}

// BaseURL returns the sidecar root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, &UnavailableError{Reason: "health check", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Health{}, &UnavailableError{Reason: fmt.Sprintf("health status %d", resp.StatusCode)}
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// ChatStream posts req and calls fn for every event until the stream ends,
// fn fails, or ctx is cancelled.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat-stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnavailableError{Reason: "connect", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := errorBody(data)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &UnavailableError{Reason: fmt.Sprintf("authentication failed (%d): %s", resp.StatusCode, msg)}
		case http.StatusBadRequest:
			return fmt.Errorf("agent gateway rejected request: %s", msg)
		}
		return &UnavailableError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode gateway event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read gateway stream: %w", err)
	}
	return nil
}

// PostToolResult delivers a tool outcome for a pending call of runID.
func (c *Client) PostToolResult(ctx context.Context, runID string, res ToolResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs/"+runID+"/tool-result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post tool result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post tool result: status %d: %s", resp.StatusCode, errorBody(data))
	}
	return nil
}
