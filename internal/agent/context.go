package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tideclaw/tideclaw/internal/memory"
	"github.com/tideclaw/tideclaw/internal/provider"
	"github.com/tideclaw/tideclaw/internal/session"
	"github.com/tideclaw/tideclaw/internal/tools"
)

// ContextBuilder assembles the message list sent to the model: system
// prompt, long-term memory excerpts, and the recent session window, kept
// under a character budget.
type ContextBuilder struct {
	workspace    string
	registry     *tools.Registry
	memory       *memory.Store
	memoryWindow int
	budgetChars  int
}

// NewContextBuilder creates a ContextBuilder. memory may be nil, in which
// case no long-term excerpts are included.
func NewContextBuilder(workspace string, registry *tools.Registry, store *memory.Store, memoryWindow, budgetChars int) *ContextBuilder {
	if memoryWindow <= 0 {
		memoryWindow = 50
	}
	return &ContextBuilder{
		workspace:    workspace,
		registry:     registry,
		memory:       store,
		memoryWindow: memoryWindow,
		budgetChars:  budgetChars,
	}
}

// BuildSystemPrompt constructs the base system prompt from identity and
// runtime info.
func (b *ContextBuilder) BuildSystemPrompt() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")

	var sb strings.Builder
	sb.WriteString("# tideclaw\n\n")
	sb.WriteString("You are tideclaw, a helpful, efficient personal AI assistant.\n")
	sb.WriteString("You have access to tools for reading and writing files, running shell commands, fetching and searching the web, delegating background tasks to subagents, and scheduling reminders.\n")
	sb.WriteString("When asked to create or change something concrete, do it with tools and report the exact paths you touched. Do not respond with advice-only when an artifact is requested.\n\n")
	fmt.Fprintf(&sb, "## Current Time\n%s\n\n", now)
	fmt.Fprintf(&sb, "## Runtime\n%s %s, Go %s\n\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "## Workspace\n%s\nFile and shell operations are confined to this directory.\n", b.workspace)

	if b.registry != nil {
		names := b.registry.Names()
		if len(names) > 0 {
			fmt.Fprintf(&sb, "\n## Available Tools\n%s\n", strings.Join(names, ", "))
		}
	}
	return sb.String()
}

// BuildMessages produces the provider message list for one turn. The
// session's latest user message must already be appended. Long-term memory
// gets whatever budget remains after the system prompt and the recent
// history window.
func (b *ContextBuilder) BuildMessages(ctx context.Context, sess *session.Session) ([]provider.Message, error) {
	system := b.BuildSystemPrompt()
	history := sess.GetHistory(b.memoryWindow)

	used := len(system)
	for _, m := range history {
		used += len(m.Content)
	}

	if b.memory != nil {
		// Zero budget means unlimited; otherwise memory gets the remainder.
		memBudget := 0
		if b.budgetChars > 0 {
			memBudget = b.budgetChars - used
		}
		if b.budgetChars <= 0 || memBudget > 0 {
			// The history window already carries the newest turns verbatim;
			// exclude them from retrieval so memory supplies only what the
			// window no longer shows. Each completed turn is a user/assistant
			// message pair, and the pending user message is not a turn yet.
			covered := len(history) / 2
			excerpts, err := b.memory.Retrieve(ctx, sess.Key, memBudget, covered)
			if err != nil {
				return nil, fmt.Errorf("memory retrieve: %w", err)
			}
			if len(excerpts) > 0 {
				system += "\n## Long-term Memory\nEarlier context for this conversation, oldest first:\n\n" + renderExcerpts(excerpts)
			}
		}
	}

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	for _, m := range history {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

func renderExcerpts(excerpts []memory.Excerpt) string {
	var sb strings.Builder
	for _, ex := range excerpts {
		sb.WriteString(ex.Content)
		if !strings.HasSuffix(ex.Content, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
