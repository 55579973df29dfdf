package universe

import (
	"context"
	"fmt"
	"strings"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/provider"
)

// Task kinds a node can serve.
const (
	KindEcho  = "echo"
	KindChat  = "llm.chat"
	KindAgent = "agent.run"
)

// maxServedTokens caps what a delegated task may spend regardless of the
// configured limit; remote callers don't get to pick.
const maxServedTokens = 2048

// AgentRunner executes a delegated goal with a restricted tool set.
// Wired to the agent loop by the caller; nil disables agent.run.
type AgentRunner func(ctx context.Context, prompt string) (string, error)

// TaskExecutor runs tasks delegated by other nodes. Shared between the
// node server and any future relay transport.
type TaskExecutor struct {
	provider    provider.LLMProvider
	model       string
	maxTokens   int
	temperature float64
	allowAgent  bool
	runAgent    AgentRunner
}

// NewTaskExecutor creates a TaskExecutor serving the configured kinds.
func NewTaskExecutor(prov provider.LLMProvider, model string, temperature float64, cfg config.UniverseConfig, runAgent AgentRunner) *TaskExecutor {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 || maxTokens > maxServedTokens {
		maxTokens = maxServedTokens
	}
	return &TaskExecutor{
		provider:    prov,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		allowAgent:  cfg.AllowAgentTasks && runAgent != nil,
		runAgent:    runAgent,
	}
}

// Kinds returns the task kinds this executor serves.
func (e *TaskExecutor) Kinds() []string {
	kinds := []string{KindEcho, KindChat}
	if e.allowAgent {
		kinds = append(kinds, KindAgent)
	}
	return kinds
}

// Run executes one task and returns its textual result.
func (e *TaskExecutor) Run(ctx context.Context, kind, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("missing prompt")
	}
	switch kind {
	case KindEcho:
		return prompt, nil
	case KindChat:
		return e.runChat(ctx, prompt)
	case KindAgent:
		if !e.allowAgent {
			return "", fmt.Errorf("this node does not allow %s tasks", KindAgent)
		}
		return e.runAgent(ctx, prompt)
	default:
		return "", fmt.Errorf("unsupported kind: %s", kind)
	}
}

func (e *TaskExecutor) runChat(ctx context.Context, prompt string) (string, error) {
	if e.provider == nil {
		return "", fmt.Errorf("no model provider configured")
	}
	resp, err := e.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
