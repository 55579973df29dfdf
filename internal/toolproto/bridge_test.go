package toolproto

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tideclaw/tideclaw/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	descs   []ToolDescriptor
	result  *CallToolResult
	callErr error
	closed  bool
}

func (f *fakeClient) Initialize(ctx context.Context) error { return nil }

func (f *fakeClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.descs, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestBridgeRegistersDiscoveredTools(t *testing.T) {
	client := &fakeClient{
		descs: []ToolDescriptor{
			{Name: "remote_search", Description: "search", InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []any{"query"},
			}},
		},
	}
	b := &Bridge{clients: []Client{client}}
	b.logger = discardLogger()

	reg := tools.NewRegistry()
	b.RegisterTools(context.Background(), reg)

	tool, ok := reg.Get("remote_search")
	if !ok {
		t.Fatal("discovered tool not registered")
	}
	if tool.Description() != "search" {
		t.Errorf("Description = %q", tool.Description())
	}
	if tool.Parameters()["type"] != "object" {
		t.Errorf("Parameters not forwarded: %v", tool.Parameters())
	}
}

func TestBridgedToolNetworkFailureIsUnavailable(t *testing.T) {
	client := &fakeClient{callErr: errors.New("connection refused")}
	tool := &bridgedTool{client: client, desc: ToolDescriptor{Name: "remote_x"}}

	_, err := tool.Execute(context.Background(), map[string]any{})
	if !errors.Is(err, tools.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestBridgedToolServerErrorFedBackAsText(t *testing.T) {
	client := &fakeClient{callErr: &RPCError{Code: -32602, Message: "bad params"}}
	tool := &bridgedTool{client: client, desc: ToolDescriptor{Name: "remote_x"}}

	out, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("server-side errors must not be transport errors: %v", err)
	}
	if !strings.Contains(out, "bad params") {
		t.Errorf("out = %q", out)
	}
}

func TestBridgedToolResult(t *testing.T) {
	client := &fakeClient{result: &CallToolResult{Content: "42 results"}}
	tool := &bridgedTool{client: client, desc: ToolDescriptor{Name: "remote_x"}}

	out, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "42 results" {
		t.Errorf("out = %q", out)
	}
}

func TestHTTPClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var result any
		switch req.Method {
		case MethodInitialize:
			result = map[string]any{"ok": true}
		case MethodListTools:
			result = ListToolsResult{Tools: []ToolDescriptor{{Name: "echo"}}}
		case MethodCallTool:
			result = CallToolResult{Content: "pong"}
		}
		raw, _ := json.Marshal(result)
		resp := Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: raw}
		// Prepend an id-less progress line to exercise stream scanning.
		w.Write([]byte(`{"jsonrpc":"2.0","method":"progress"}` + "\n"))
		line, _ := json.Marshal(resp)
		w.Write(append(line, '\n'))
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, 0)
	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	descs, err := c.ListTools(ctx)
	if err != nil || len(descs) != 1 || descs[0].Name != "echo" {
		t.Fatalf("ListTools = %v, %v", descs, err)
	}
	result, err := c.CallTool(ctx, "echo", map[string]any{"msg": "ping"})
	if err != nil || result.Content != "pong" {
		t.Fatalf("CallTool = %v, %v", result, err)
	}
}
