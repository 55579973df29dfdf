package toolproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPClient speaks the protocol to a remote streaming endpoint. Each
// request is POSTed as one JSON body; the server answers with one or
// more newline-delimited JSON messages, the last of which is the
// response for the request id.
type HTTPClient struct {
	name     string
	endpoint string
	client   *http.Client
	nextID   atomic.Int64
}

// NewHTTPClient creates a client for the given endpoint URL.
func NewHTTPClient(name, endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the configured server name.
func (c *HTTPClient) Name() string { return c.name }

func (c *HTTPClient) call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tool server %s: %w", c.name, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("tool server %s: status %d", c.name, httpResp.StatusCode)
	}

	// Scan the stream for our response id; servers may interleave
	// progress notifications which carry no id.
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("tool server %s: read stream: %w", c.name, err)
	}
	return fmt.Errorf("tool server %s: stream ended without response", c.name)
}

// Initialize performs the protocol handshake.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	return c.call(ctx, MethodInitialize, map[string]any{"clientName": "tideclaw"}, nil)
}

// ListTools returns the server's tool descriptors.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var result ListToolsResult
	if err := c.call(ctx, MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool on the server.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.call(ctx, MethodCallTool, CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close is a no-op; HTTP connections are pooled by the transport.
func (c *HTTPClient) Close() error { return nil }
