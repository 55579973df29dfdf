package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebFetchReducesHTMLToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>x</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><h1>Tide Tables</h1><p>High tide at 14:32 &amp; 02:51.</p></body></html>`))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(5 * time.Second)
	out, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Tide Tables") || !strings.Contains(out, "High tide at 14:32 & 02:51.") {
		t.Errorf("readable text missing from output:\n%s", out)
	}
	for _, leak := range []string{"<h1>", "alert(1)", "color:red"} {
		if strings.Contains(out, leak) {
			t.Errorf("output leaks %q", leak)
		}
	}
}

func TestWebFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tool := NewWebFetchTool(5 * time.Second)

	out, _ := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if !strings.Contains(out, "status 404") {
		t.Errorf("404 not reported: %q", out)
	}
	out, _ = tool.Execute(context.Background(), map[string]any{"url": "ftp://example.com/x"})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("non-http scheme must be rejected, got %q", out)
	}
	out, _ = tool.Execute(context.Background(), map[string]any{})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("missing url must be rejected, got %q", out)
	}
}

func TestWebFetchTruncatesAtMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 500)))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(5 * time.Second)
	out, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL, "max_chars": 100})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out, "[truncated]") {
		t.Errorf("truncation marker missing: %q", out[len(out)-20:])
	}
	if len(out) > 120 {
		t.Errorf("output length = %d, want ~100", len(out))
	}
}

func TestWebSearchFormatsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "k" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("q"); got != "tide charts" {
			t.Errorf("query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"NOAA Tides","url":"https://tides.example","description":"Official tide predictions."},
			{"title":"Surfline","url":"https://surf.example","description":""}]}}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool("k", 5*time.Second)
	tool.endpoint = srv.URL
	out, err := tool.Execute(context.Background(), map[string]any{"query": "tide charts"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1. NOAA Tides") || !strings.Contains(out, "https://tides.example") {
		t.Errorf("results missing:\n%s", out)
	}
	if !strings.Contains(out, "Official tide predictions.") {
		t.Error("snippet missing")
	}
}

func TestWebSearchWithoutKeyReturnsHint(t *testing.T) {
	tool := NewWebSearchTool("", 5*time.Second)
	out, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "not configured") {
		t.Errorf("unconfigured search must explain itself, got %q", out)
	}
}
