// Package linkedin is a minimal LinkedIn REST client for the social tools.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the LinkedIn REST API root.
const DefaultBaseURL = "https://api.linkedin.com"

// ErrNotConfigured is returned when no access token is set.
var ErrNotConfigured = errors.New("linkedin is not configured")

// Client calls the LinkedIn API with a pre-issued access token.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Client. baseURL may be empty for the public API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether an access token is present.
func (c *Client) Configured() bool {
	return c != nil && c.token != ""
}

// PersonURN resolves the authenticated member's URN.
func (c *Client) PersonURN(ctx context.Context) (string, error) {
	var out struct {
		Sub string `json:"sub"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v2/userinfo", nil, http.StatusOK, &out); err != nil {
		return "", err
	}
	if out.Sub == "" {
		return "", errors.New("linkedin userinfo: empty subject")
	}
	return "urn:li:person:" + out.Sub, nil
}

// Post publishes a text post and returns its URN.
func (c *Client) Post(ctx context.Context, text string) (string, error) {
	author, err := c.PersonURN(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve author: %w", err)
	}
	payload := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v2/ugcPosts", payload, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ReadComments returns the raw comments payload of a post.
func (c *Client) ReadComments(ctx context.Context, postURN string) (string, error) {
	return c.do(ctx, http.MethodGet, commentsPath(postURN), nil, http.StatusOK, nil)
}

// Comment comments on a post, or replies to parentURN when it is set.
func (c *Client) Comment(ctx context.Context, postURN, text, parentURN string) (string, error) {
	actor, err := c.PersonURN(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve actor: %w", err)
	}
	payload := map[string]any{
		"actor":   actor,
		"message": map[string]any{"text": text},
	}
	if parentURN != "" {
		payload["parentComment"] = parentURN
	}
	return c.do(ctx, http.MethodPost, commentsPath(postURN), payload, http.StatusCreated, nil)
}

func commentsPath(postURN string) string {
	return "/v2/socialActions/" + url.PathEscape(postURN) + "/comments"
}

func (c *Client) do(ctx context.Context, method, path string, payload any, want int, out any) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("linkedin request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != want {
		return "", apiError(resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}
	return string(data), nil
}

func apiError(status int, body string) error {
	body = strings.TrimSpace(body)
	switch status {
	case http.StatusUnauthorized:
		return errors.New("linkedin authentication failed (401): access token expired or revoked")
	case http.StatusForbidden:
		return errors.New("linkedin authorization failed (403): token missing required scopes")
	case http.StatusTooManyRequests:
		return errors.New("linkedin rate limit reached (429)")
	}
	if body == "" {
		return fmt.Errorf("linkedin API error (status %d)", status)
	}
	return fmt.Errorf("linkedin API error (status %d): %s", status, body)
}
