package toolproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/tools"
)

// bridgedTool adapts one remote tool descriptor to the local Tool
// interface. Network failures surface as tool-unavailable errors so the
// executor classifies them distinctly from ordinary execution failures.
type bridgedTool struct {
	client Client
	desc   ToolDescriptor
}

func (t *bridgedTool) Name() string        { return t.desc.Name }
func (t *bridgedTool) Description() string { return t.desc.Description }
func (t *bridgedTool) Mutating() bool      { return t.desc.Mutating }

func (t *bridgedTool) Parameters() map[string]any {
	if t.desc.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.desc.InputSchema
}

func (t *bridgedTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	result, err := t.client.CallTool(ctx, t.desc.Name, params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// The server handled the call and reported a tool-level error.
			return fmt.Sprintf("Error: %s", rpcErr.Message), nil
		}
		// Anything else is a transport failure.
		return "", fmt.Errorf("%w: %v", tools.ErrUnavailable, err)
	}
	if result.IsError {
		return "Error: " + result.Content, nil
	}
	return result.Content, nil
}

// Bridge discovers remote tools at startup and registers them locally.
type Bridge struct {
	clients []Client
	logger  *slog.Logger
}

// NewBridge connects to each configured tool server. A server that fails
// to start or handshake is logged and skipped; the rest still register.
func NewBridge(ctx context.Context, servers []config.ToolServerConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{logger: logger}
	for _, srv := range servers {
		client, err := connect(srv, logger)
		if err != nil {
			logger.Warn("tool server unavailable", "server", srv.Name, "error", err)
			continue
		}
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = client.Initialize(initCtx)
		cancel()
		if err != nil {
			logger.Warn("tool server handshake failed", "server", srv.Name, "error", err)
			client.Close()
			continue
		}
		b.clients = append(b.clients, client)
	}
	return b
}

func connect(srv config.ToolServerConfig, logger *slog.Logger) (Client, error) {
	switch {
	case srv.URL != "":
		return NewHTTPClient(srv.Name, srv.URL, 0), nil
	case srv.Command != "":
		return NewStdioClient(srv.Name, srv.Command, srv.Args, logger)
	default:
		return nil, fmt.Errorf("tool server %s: neither url nor command configured", srv.Name)
	}
}

// RegisterTools runs discovery once per connected server and registers
// every advertised tool in the registry.
func (b *Bridge) RegisterTools(ctx context.Context, registry *tools.Registry) {
	for _, client := range b.clients {
		listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		descs, err := client.ListTools(listCtx)
		cancel()
		if err != nil {
			b.logger.Warn("tool discovery failed", "error", err)
			continue
		}
		for _, desc := range descs {
			registry.Register(&bridgedTool{client: client, desc: desc})
			b.logger.Info("registered remote tool", "tool", desc.Name)
		}
	}
}

// Close tears down every server connection.
func (b *Bridge) Close() {
	for _, client := range b.clients {
		if err := client.Close(); err != nil {
			b.logger.Debug("tool server close", "error", err)
		}
	}
}
