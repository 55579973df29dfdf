package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	fetchMaxBytes    = 256 * 1024
	braveSearchURL   = "https://api.search.brave.com/res/v1/web/search"
	defaultUserAgent = "tideclaw/0.3"
)

// WebFetchTool fetches a URL and returns its content as readable text.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a WebFetchTool.
func NewWebFetchTool(timeout time.Duration) *WebFetchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebFetchTool{client: &http.Client{Timeout: timeout}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL over HTTP(S) and return its content. HTML pages are reduced to readable text."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The http or https URL to fetch",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Optional limit on returned characters (default 20000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	raw := GetString(params, "url", "")
	if raw == "" {
		return "Error: url is required", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Sprintf("Error: invalid URL %q (http/https only)", raw), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Sprintf("Error: building request: %v", err), nil
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", raw, err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: %s returned status %d", raw, resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return fmt.Sprintf("Error reading response from %s: %v", raw, err), nil
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = htmlToText(text)
	}
	maxChars := GetInt(params, "max_chars", 20000)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars] + "\n[truncated]"
	}
	return text, nil
}

var (
	htmlBlockRe = regexp.MustCompile(`(?is)<(script|style|noscript|head)\b.*?</\s*(script|style|noscript|head)\s*>`)
	htmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

// htmlToText is a rough readability pass: drop non-content blocks, strip
// tags, unescape the common entities, collapse blank runs.
func htmlToText(s string) string {
	s = htmlBlockRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, "\n")
	replacer := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
	s = replacer.Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

// NewWebSearchTool creates a WebSearchTool. An empty apiKey leaves the tool
// registered but answering with a configuration hint.
func NewWebSearchTool(apiKey string, timeout time.Duration) *WebSearchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebSearchTool{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		endpoint: braveSearchURL,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs and snippets for the top results."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (default 5, max 10)",
			},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	if t.apiKey == "" {
		return "Error: web search is not configured. Set tools.web.searchApiKey (a Brave Search API key) to enable it.", nil
	}
	count := GetInt(params, "count", 5)
	if count < 1 {
		count = 1
	}
	if count > 10 {
		count = 10
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Sprintf("Error: building request: %v", err), nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error searching: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: search API returned status %d", resp.StatusCode), nil
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Sprintf("Error decoding search response: %v", err), nil
	}
	if len(parsed.Web.Results) == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for %q:\n", query)
	for i, r := range parsed.Web.Results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
