package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultSearchEndpoint is the Brave web search API.
const DefaultSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

const (
	webTimeout         = 10 * time.Second
	maxFetchBytes      = 256 * 1024
	maxFetchRunes      = 40000
	maxRedirects       = 5
	searchResultCount  = 5
	maxSearchDescChars = 300
)

// WebConfig configures the web tools.
type WebConfig struct {
	SearchEndpoint string
	SearchAPIKey   string
	// AllowPrivateHosts permits plain http and loopback/private targets.
	// Only tests enable it.
	AllowPrivateHosts bool
}

// Web implements web_search and web_fetch.
type Web struct {
	cfg  WebConfig
	http *http.Client
}

// NewWeb creates the web tool client.
func NewWeb(cfg WebConfig) *Web {
	if cfg.SearchEndpoint == "" {
		cfg.SearchEndpoint = DefaultSearchEndpoint
	}
	w := &Web{cfg: cfg}
	w.http = &http.Client{
		Timeout: webTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after too many redirects")
			}
			return w.validateURL(req.URL)
		},
	}
	return w
}

type searchHit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search queries the configured search API.
func (w *Web) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query is required")
	}
	if w.cfg.SearchAPIKey == "" {
		return "", errors.New("web search is not configured")
	}
	u, err := url.Parse(w.cfg.SearchEndpoint)
	if err != nil {
		return "", fmt.Errorf("search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(searchResultCount))
	q.Set("safesearch", "moderate")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.cfg.SearchAPIKey)

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("web search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Web struct {
			Results []searchHit `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 512*1024)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search results: %w", err)
	}

	hits := make([]searchHit, 0, searchResultCount)
	for _, r := range parsed.Web.Results {
		if len(hits) >= searchResultCount {
			break
		}
		r.Title = strings.TrimSpace(r.Title)
		r.URL = strings.TrimSpace(r.URL)
		r.Description = truncateRunes(strings.Join(strings.Fields(r.Description), " "), maxSearchDescChars)
		if r.Title == "" && r.URL == "" {
			continue
		}
		hits = append(hits, r)
	}
	out, err := json.Marshal(map[string]any{"query": query, "count": len(hits), "results": hits})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Fetch downloads rawURL and returns its readable text wrapped in JSON.
func (w *Web) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if err := w.validateURL(u); err != nil {
		return "", err
	}
	if raw, ok := githubBlobToRaw(u); ok {
		u = raw
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "notesd-webfetch/1.0")
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.1")

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("web fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("web fetch read: %w", err)
	}
	truncated := len(body) > maxFetchBytes
	if truncated {
		body = body[:maxFetchBytes]
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	var text string
	switch lower := strings.ToLower(ct); {
	case strings.Contains(lower, "text/html"):
		text = ExtractText(body)
	case strings.HasPrefix(lower, "text/"), strings.Contains(lower, "application/json"):
		text = normalizeText(string(body))
	default:
		return "", fmt.Errorf("unsupported content type: %s", ct)
	}
	if utf8.RuneCountInString(text) > maxFetchRunes {
		text = truncateRunes(text, maxFetchRunes)
		truncated = true
	}

	out, err := json.Marshal(map[string]any{
		"url":          rawURL,
		"final_url":    resp.Request.URL.String(),
		"status":       resp.StatusCode,
		"content_type": ct,
		"truncated":    truncated,
		"content":      text,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (w *Web) validateURL(u *url.URL) error {
	if u.User != nil {
		return errors.New("invalid url: credentials are not allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("invalid url: missing host")
	}
	if w.cfg.AllowPrivateHosts {
		if u.Scheme != "https" && u.Scheme != "http" {
			return errors.New("invalid url: unsupported scheme")
		}
		return nil
	}
	if u.Scheme != "https" {
		return errors.New("invalid url: only https:// is allowed")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return errors.New("host is not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return errors.New("ip is not allowed")
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() {
		return true
	}
	// Carrier-grade NAT 100.64.0.0/10.
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1]&0xC0 == 0x40 {
		return true
	}
	return false
}

// githubBlobToRaw rewrites github.com/<org>/<repo>/blob/<ref>/<path> to the
// raw content host.
func githubBlobToRaw(u *url.URL) (*url.URL, bool) {
	if !strings.EqualFold(u.Hostname(), "github.com") {
		return nil, false
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "blob" {
		return nil, false
	}
	return &url.URL{
		Scheme: "https",
		Host:   "raw.githubusercontent.com",
		Path:   "/" + strings.Join(append(parts[:2:2], parts[3:]...), "/"),
	}, true
}

// ExtractText returns the visible text of an HTML document.
func ExtractText(body []byte) string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return normalizeText(string(body))
	}
	var b strings.Builder
	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				hidden = true
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode && !hidden {
			b.WriteString(n.Data)
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(root, false)
	return normalizeText(b.String())
}

// normalizeText trims every line and collapses runs of blank lines.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
