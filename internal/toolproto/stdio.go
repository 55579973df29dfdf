package toolproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// StdioClient speaks the protocol to a subprocess over its standard
// streams, one JSON message per line.
type StdioClient struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *Response
	closed  bool
}

// NewStdioClient starts command with args and attaches to its pipes. The
// subprocess lives until Close.
func NewStdioClient(name, command string, args []string, logger *slog.Logger) (*StdioClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool server %s: %w", name, err)
	}

	c := &StdioClient{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger,
		pending: make(map[int64]chan *Response),
	}
	go c.readLoop(stdout)
	return c, nil
}

// Name returns the configured server name.
func (c *StdioClient) Name() string { return c.name }

func (c *StdioClient) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("tool server sent malformed line", "server", c.name, "error", err)
			continue
		}
		c.dispatch(&resp)
	}
	// Pipe closed: fail everything still in flight.
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *StdioClient) dispatch(resp *Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *StdioClient) call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("tool server %s: connection closed", c.name)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	_, err = c.stdin.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("tool server %s: write: %w", c.name, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("tool server %s: connection closed", c.name)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

// Initialize performs the protocol handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	return c.call(ctx, MethodInitialize, map[string]any{"clientName": "tideclaw"}, nil)
}

// ListTools returns the server's tool descriptors.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var result ListToolsResult
	if err := c.call(ctx, MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool on the server.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.call(ctx, MethodCallTool, CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close closes stdin and waits for the subprocess to exit.
func (c *StdioClient) Close() error {
	c.stdin.Close()
	return c.cmd.Wait()
}
