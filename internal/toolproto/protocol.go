// Package toolproto bridges externally-served tools into the local tool
// registry. Servers speak line-delimited JSON-RPC 2.0 over either a
// subprocess's standard streams or a streaming HTTP endpoint, exposing
// the same discover/invoke operations on both transports.
package toolproto

import (
	"context"
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Protocol methods.
const (
	MethodInitialize = "initialize"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolDescriptor describes one tool offered by a server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Mutating    bool           `json:"mutating,omitempty"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallToolResult is the payload of a tools/call response.
type CallToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Client is one connection to a tool server.
type Client interface {
	// Initialize performs the protocol handshake. Must be called once
	// before any other method.
	Initialize(ctx context.Context) error
	// ListTools returns the server's tool descriptors.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	// CallTool invokes a named tool on the server.
	CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
	// Close tears the connection down.
	Close() error
}

func newRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}
