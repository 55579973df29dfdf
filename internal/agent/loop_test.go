package agent

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/memory"
	"github.com/tideclaw/tideclaw/internal/provider"
	"github.com/tideclaw/tideclaw/internal/session"
	"github.com/tideclaw/tideclaw/internal/tools"
)

// scriptedProvider answers each Chat call from a script function so tests
// can drive exact tool-call sequences.
type scriptedProvider struct {
	mu     sync.Mutex
	calls  int
	reqs   []*provider.ChatRequest
	script func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.script(call, req)
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(i int) *provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[i]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	loop *Loop
	bus  *bus.MessageBus
	cfg  *config.Config
	mem  *memory.Store
}

func newTestEnv(t *testing.T, prov provider.LLMProvider) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.BaseDir = dir
	cfg.Paths.Workspace = filepath.Join(dir, "workspace")
	if err := os.MkdirAll(cfg.Paths.Workspace, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	b := bus.NewMessageBus(bus.Options{})
	t.Cleanup(b.Close)

	registry := tools.NewRegistry()
	sandbox := tools.NewSandbox(cfg.Paths.Workspace)
	exec := tools.NewExecutor(registry, sandbox, 10*time.Second, quietLogger())

	loop, err := NewLoop(Options{
		Config:   cfg,
		Provider: prov,
		Bus:      b,
		Sessions: session.NewManager(cfg.SessionsDir(), 0),
		Memory:   store,
		Executor: exec,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{loop: loop, bus: b, cfg: cfg, mem: store}
}

func inbound(content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel:   "cli",
		SenderID:  "user",
		ChatID:    "t1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestSimpleQuestionCompletesInOneCall(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "4", FinishReason: "stop"}, nil
	}}
	env := newTestEnv(t, prov)

	turn := env.loop.RunTurn(context.Background(), inbound("What is 2+2?"))

	if turn.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done", turn.Outcome, turn.Reason)
	}
	if turn.Output != "4" {
		t.Errorf("output = %q, want 4", turn.Output)
	}
	if len(turn.ToolsUsed) != 0 {
		t.Errorf("tools used = %v, want none", turn.ToolsUsed)
	}
	if prov.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", prov.callCount())
	}

	// The closed turn lands in durable memory.
	turns, err := env.mem.ActiveTurns(context.Background(), "cli:t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].FinalOutput != "4" {
		t.Errorf("memory turns = %+v, want one with output 4", turns)
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		if call == 1 {
			return &provider.ChatResponse{ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "notes.txt"}},
			}}, nil
		}
		return &provider.ChatResponse{Content: "The file says: milk"}, nil
	}}
	env := newTestEnv(t, prov)
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.Workspace, "notes.txt"), []byte("milk"), 0o644); err != nil {
		t.Fatal(err)
	}

	turn := env.loop.RunTurn(context.Background(), inbound("what do my notes say?"))

	if turn.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done", turn.Outcome, turn.Reason)
	}
	if len(turn.ToolsUsed) != 1 || turn.ToolsUsed[0] != "read_file" {
		t.Errorf("tools used = %v, want [read_file]", turn.ToolsUsed)
	}

	// The second request must carry the tool result, correlated by id.
	second := prov.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Fatalf("last message = %+v, want tool result for call_1", last)
	}
	if !strings.Contains(last.Content, "milk") {
		t.Errorf("tool result = %q, want file content", last.Content)
	}
}

func TestAdversarialModelHitsIterationLimit(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{ToolCalls: []provider.ToolCall{
			{ID: "c", Name: "list_dir", Arguments: map[string]any{"path": "."}},
		}}, nil
	}}
	env := newTestEnv(t, prov)
	env.cfg.Agent.MaxToolIterations = 3

	turn := env.loop.RunTurn(context.Background(), inbound("loop forever"))

	if turn.Outcome != OutcomeFailed || turn.Reason != "iteration-limit" {
		t.Fatalf("outcome = %s (%s), want failed iteration-limit", turn.Outcome, turn.Reason)
	}
	if prov.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", prov.callCount())
	}
}

func TestSandboxViolationAbortsTurn(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "../../etc/passwd"}},
		}}, nil
	}}
	env := newTestEnv(t, prov)

	turn := env.loop.RunTurn(context.Background(), inbound("read that file"))

	if turn.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", turn.Outcome)
	}
	if !strings.HasPrefix(turn.Reason, "fatal tool result") {
		t.Errorf("reason = %q, want fatal tool result", turn.Reason)
	}
	if prov.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no model call after fatal result)", prov.callCount())
	}
}

func TestCancellationObservedAtModelSuspension(t *testing.T) {
	started := make(chan struct{})
	prov := &blockingProvider{started: started}
	env := newTestEnv(t, prov)

	done := make(chan *Turn, 1)
	go func() {
		done <- env.loop.RunTurn(context.Background(), inbound("long task"))
	}()

	<-started
	if !env.loop.cancelTurn("cli:t1") {
		t.Fatal("no active turn to cancel")
	}

	select {
	case turn := <-done:
		if turn.Outcome != OutcomeCancelled {
			t.Fatalf("outcome = %s (%s), want cancelled", turn.Outcome, turn.Reason)
		}
		if turn.Output != "Stopped." {
			t.Errorf("output = %q, want Stopped.", turn.Output)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not observe cancellation")
	}
}

// blockingProvider waits for context cancellation, standing in for a slow
// model call.
type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) DefaultModel() string { return "test-model" }

func TestHelpCommandDoesNotCallModel(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		t.Error("model should not be called for /help")
		return &provider.ChatResponse{}, nil
	}}
	env := newTestEnv(t, prov)

	env.loop.HandleMessage(context.Background(), inbound("/help"))

	if prov.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", prov.callCount())
	}
}

func TestNewCommandArchivesAndResets(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "ok"}, nil
	}}
	env := newTestEnv(t, prov)
	ctx := context.Background()

	env.loop.RunTurn(ctx, inbound("remember this"))
	env.loop.HandleMessage(ctx, inbound("/new"))

	turns, err := env.mem.ActiveTurns(ctx, "cli:t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("active turns after /new = %d, want 0 (archived)", len(turns))
	}

	sess := env.loop.sessions.GetOrCreate("cli:t1")
	if sess.Len() != 0 {
		t.Errorf("session length after /new = %d, want 0", sess.Len())
	}
}

func TestEmptyModelOutputReplacedByNotice(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "   "}, nil
	}}
	env := newTestEnv(t, prov)

	turn := env.loop.RunTurn(context.Background(), inbound("hello"))

	if turn.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s, want done", turn.Outcome)
	}
	if turn.Output != emptyResponseNotice {
		t.Errorf("output = %q, want notice", turn.Output)
	}
}

func TestRecentTurnsNotRepeatedInMemorySection(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "noted", FinishReason: "stop"}, nil
	}}
	env := newTestEnv(t, prov)
	ctx := context.Background()

	const marker = "ZEBRA-TICKET-4411"
	env.loop.RunTurn(ctx, inbound("remember "+marker))
	env.loop.RunTurn(ctx, inbound("what was the ticket?"))

	count := 0
	for _, m := range prov.request(1).Messages {
		count += strings.Count(m.Content, marker)
	}
	if count != 1 {
		t.Fatalf("marker appears %d times in second request, want exactly 1", count)
	}
}

func TestMemorySuppliesTurnsOutsideHistoryWindow(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "ack", FinishReason: "stop"}, nil
	}}
	env := newTestEnv(t, prov)
	env.loop.builder = NewContextBuilder(env.cfg.Paths.Workspace, env.loop.executor.Registry(), env.mem,
		2, env.cfg.Agent.ContextBudgetChars)
	ctx := context.Background()

	const marker = "ZEBRA-TICKET-4411"
	env.loop.RunTurn(ctx, inbound("remember "+marker))
	env.loop.RunTurn(ctx, inbound("filler question"))
	env.loop.RunTurn(ctx, inbound("what was the ticket?"))

	// The marker turn fell out of the two-message window; it must arrive
	// through the memory section instead, and only there.
	req := prov.request(2)
	if !strings.Contains(req.Messages[0].Content, marker) {
		t.Error("system prompt memory section does not carry the aged-out turn")
	}
	count := 0
	for _, m := range req.Messages {
		count += strings.Count(m.Content, marker)
	}
	if count != 1 {
		t.Errorf("marker appears %d times, want exactly 1", count)
	}
}

func TestRemoteTaskRunsWithWebOnlyTools(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "delegated answer", FinishReason: "stop"}, nil
	}}
	env := newTestEnv(t, prov)

	out, err := env.loop.RunRemoteTask(context.Background(), "summarize the tide tables")
	if err != nil {
		t.Fatal(err)
	}
	if out != "delegated answer" {
		t.Errorf("out = %q", out)
	}

	req := prov.request(0)
	for _, def := range req.Tools {
		name := def.Function.Name
		if name != "web_fetch" && name != "web_search" {
			t.Errorf("remote task exposes tool %s", name)
		}
	}
	if !strings.Contains(req.Messages[0].Content, "Delegated Task Mode") {
		t.Error("system prompt does not mark delegated task mode")
	}
}

func TestSystemPromptCarriesWorkspaceAndTools(t *testing.T) {
	prov := &scriptedProvider{script: func(call int, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: "hi"}, nil
	}}
	env := newTestEnv(t, prov)

	env.loop.RunTurn(context.Background(), inbound("hi"))

	system := prov.request(0).Messages[0]
	if system.Role != "system" {
		t.Fatalf("first message role = %s, want system", system.Role)
	}
	if !strings.Contains(system.Content, env.cfg.Paths.Workspace) {
		t.Error("system prompt does not mention the workspace")
	}
	for _, name := range []string{"read_file", "exec", "spawn_subagent"} {
		if !strings.Contains(system.Content, name) {
			t.Errorf("system prompt does not list tool %s", name)
		}
	}
}
