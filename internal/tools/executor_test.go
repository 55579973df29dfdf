package tools

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeTool records executions and supports configurable behavior.
type fakeTool struct {
	name     string
	schema   map[string]any
	keys     []string
	delay    time.Duration
	result   string
	err      error
	mutating bool

	mu       sync.Mutex
	executed []map[string]any
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }
func (f *fakeTool) Mutating() bool      { return f.mutating }

func (f *fakeTool) Parameters() map[string]any {
	if f.schema != nil {
		return f.schema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (f *fakeTool) ResourceKeys(params map[string]any) []string { return f.keys }

func (f *fakeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	f.executed = append(f.executed, params)
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeTool) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func newTestExecutor(t *testing.T, sandbox *Sandbox, timeout time.Duration, tools ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	return NewExecutor(reg, sandbox, timeout, nil)
}

func TestValidationFailureNeverExecutes(t *testing.T) {
	tool := &fakeTool{
		name: "strict",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}
	e := newTestExecutor(t, nil, 0, tool)

	res := e.Execute(context.Background(), Call{ID: "1", Name: "strict", Arguments: map[string]any{}})
	if res.Kind != KindValidation {
		t.Fatalf("Kind = %q, want validation", res.Kind)
	}
	if tool.execCount() != 0 {
		t.Error("tool executed despite failing validation")
	}
}

func TestSandboxViolationIsFatalPermission(t *testing.T) {
	root := t.TempDir()
	reg := NewRegistry()
	reg.Register(NewReadFileTool())
	e := NewExecutor(reg, NewSandbox(root), 0, nil)

	res := e.Execute(context.Background(), Call{
		ID: "1", Name: "read_file",
		Arguments: map[string]any{"path": "../../etc/passwd"},
	})
	if res.Kind != KindPermission {
		t.Fatalf("Kind = %q, want permission", res.Kind)
	}
	if !res.Fatal {
		t.Error("sandbox violation must be fatal")
	}
}

func TestSandboxedReadResolvesRelativePath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	reg.Register(NewReadFileTool())
	e := NewExecutor(reg, NewSandbox(root), 0, nil)

	res := e.Execute(context.Background(), Call{
		ID: "1", Name: "read_file",
		Arguments: map[string]any{"path": "notes.txt"},
	})
	if res.Failed() {
		t.Fatalf("read failed: %+v", res)
	}
	if res.Content != "hello" {
		t.Errorf("Content = %q, want hello", res.Content)
	}
}

func TestCallTimeout(t *testing.T) {
	tool := &fakeTool{name: "slow", delay: time.Second}
	e := newTestExecutor(t, nil, 20*time.Millisecond, tool)

	res := e.Execute(context.Background(), Call{ID: "1", Name: "slow"})
	if res.Kind != KindTimeout {
		t.Fatalf("Kind = %q, want timeout", res.Kind)
	}
}

func TestUnknownToolUnavailable(t *testing.T) {
	e := newTestExecutor(t, nil, 0)
	res := e.Execute(context.Background(), Call{ID: "1", Name: "nope"})
	if res.Kind != KindUnavailable {
		t.Fatalf("Kind = %q, want unavailable", res.Kind)
	}
}

func TestBatchSameResourceSerializesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	mk := func(name string) *fakeTool {
		return &fakeTool{name: name, keys: []string{"file:shared"}}
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	// Record completion order via the tools' delays: if serialization
	// holds, request order wins even with the first call slowest.
	a.delay = 50 * time.Millisecond
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	wrap := func(f *fakeTool) Tool { return &recordingTool{f, record} }

	e := newTestExecutor(t, nil, 0, wrap(a), wrap(b), wrap(c))
	e.ExecuteBatch(context.Background(), []Call{
		{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v, want [a b c]", order)
	}
}

type recordingTool struct {
	*fakeTool
	record func(name string)
}

func (r *recordingTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	out, err := r.fakeTool.Execute(ctx, params)
	r.record(r.name)
	return out, err
}

func (r *recordingTool) ResourceKeys(params map[string]any) []string {
	return r.fakeTool.ResourceKeys(params)
}

func TestBatchIndependentCallsRunConcurrently(t *testing.T) {
	a := &fakeTool{name: "a", keys: []string{"file:a"}, delay: 60 * time.Millisecond}
	b := &fakeTool{name: "b", keys: []string{"file:b"}, delay: 60 * time.Millisecond}
	e := newTestExecutor(t, nil, 0, a, b)

	start := time.Now()
	results := e.ExecuteBatch(context.Background(), []Call{
		{ID: "1", Name: "a"}, {ID: "2", Name: "b"},
	})
	elapsed := time.Since(start)

	for _, res := range results {
		if res.Failed() {
			t.Fatalf("unexpected failure: %+v", res)
		}
	}
	if elapsed > 110*time.Millisecond {
		t.Errorf("independent calls took %v, expected concurrent execution", elapsed)
	}
}

func TestBatchResultsKeepRequestOrder(t *testing.T) {
	a := &fakeTool{name: "a", result: "ra", delay: 30 * time.Millisecond}
	b := &fakeTool{name: "b", result: "rb"}
	e := newTestExecutor(t, nil, 0, a, b)

	results := e.ExecuteBatch(context.Background(), []Call{
		{ID: "1", Name: "a"}, {ID: "2", Name: "b"},
	})
	if results[0].CallID != "1" || results[1].CallID != "2" {
		t.Errorf("results out of request order: %+v", results)
	}
	if results[0].Content != "ra" || results[1].Content != "rb" {
		t.Errorf("result contents mismatched: %+v", results)
	}
}

func TestMutatingFlagPropagates(t *testing.T) {
	tool := &fakeTool{name: "writer", mutating: true, result: "ok"}
	e := newTestExecutor(t, nil, 0, tool)
	res := e.Execute(context.Background(), Call{ID: "1", Name: "writer"})
	if !res.Mutating {
		t.Error("Mutating flag not set on result")
	}
}
