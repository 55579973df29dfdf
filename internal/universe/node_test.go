package universe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/provider"
)

type fakeProvider struct {
	reply string
	err   error
}

func (p *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &provider.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *fakeProvider) DefaultModel() string { return "test-model" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNode(t *testing.T, cfg config.UniverseConfig, prov provider.LLMProvider, runAgent AgentRunner) *NodeServer {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	if cfg.RatePerMinute == 0 {
		cfg.RatePerMinute = 100
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	exec := NewTaskExecutor(prov, "test-model", 0.7, cfg, runAgent)
	srv := NewNodeServer(cfg, exec, quietLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestNodeServesEchoTask(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)

	out, err := CallNode(context.Background(), srv.Addr(), "", KindEcho, "hello out there", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello out there" {
		t.Errorf("out = %q", out)
	}
}

func TestNodeServesChatTask(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{reply: "the answer"}, nil)

	out, err := CallNode(context.Background(), srv.Addr(), "", KindChat, "a question", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out != "the answer" {
		t.Errorf("out = %q", out)
	}
}

func TestNodeRejectsUnsupportedKind(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)

	_, err := CallNode(context.Background(), srv.Addr(), "", "shell.exec", "rm -rf /", 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Errorf("err = %v", err)
	}
}

func TestNodeAgentTasksRequireOptIn(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)
	_, err := CallNode(context.Background(), srv.Addr(), "", KindAgent, "do research", 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "does not allow") {
		t.Errorf("err = %v", err)
	}

	ran := false
	srv = testNode(t, config.UniverseConfig{AllowAgentTasks: true}, &fakeProvider{},
		func(ctx context.Context, prompt string) (string, error) {
			ran = true
			return "researched: " + prompt, nil
		})
	out, err := CallNode(context.Background(), srv.Addr(), "", KindAgent, "do research", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ran || out != "researched: do research" {
		t.Errorf("out = %q, ran = %v", out, ran)
	}
}

func TestNodeEnforcesServiceToken(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{ServiceToken: "s3cret"}, &fakeProvider{}, nil)

	if _, err := CallNode(context.Background(), srv.Addr(), "wrong", KindEcho, "x", 5*time.Second); err == nil ||
		!strings.Contains(err.Error(), "invalid service token") {
		t.Errorf("wrong token: err = %v", err)
	}
	out, err := CallNode(context.Background(), srv.Addr(), "s3cret", KindEcho, "x", 5*time.Second)
	if err != nil || out != "x" {
		t.Errorf("right token: out = %q, err = %v", out, err)
	}
}

func TestNodeRateLimitsByRemoteHost(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{RatePerMinute: 1}, &fakeProvider{}, nil)

	if _, err := CallNode(context.Background(), srv.Addr(), "", KindEcho, "one", 5*time.Second); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := CallNode(context.Background(), srv.Addr(), "", KindEcho, "two", 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("second call: err = %v", err)
	}
}

func TestNodeAnswersPing(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ping, _ := NewEnvelope(TypePing, nil)
	data, _ := ping.Encode()
	fmt.Fprintf(conn, "%s\n", data)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no reply: %v", scanner.Err())
	}
	pong, err := ParseEnvelope(scanner.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if pong.Type != TypePong || pong.ID != ping.ID {
		t.Errorf("reply = %+v", pong)
	}
}

func TestNodeRepliesErrorOnGarbageLine(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprintln(conn, "this is not an envelope")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no reply: %v", scanner.Err())
	}
	env, err := ParseEnvelope(scanner.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeError {
		t.Errorf("reply type = %s, want error", env.Type)
	}
}
