// Package agent implements the turn-based agent loop: context assembly,
// the model/tool cycle, slash commands, and subagent delegation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/memory"
	"github.com/tideclaw/tideclaw/internal/provider"
	"github.com/tideclaw/tideclaw/internal/session"
	"github.com/tideclaw/tideclaw/internal/tools"
)

const emptyResponseNotice = "(the model returned an empty response)"

const helpText = `Commands:
/new   - archive this conversation to memory and start fresh
/stop  - cancel the current in-flight turn
/help  - show this help`

type ctxKey int

const sessionKeyCtx ctxKey = iota

// SessionKeyFromContext returns the session key the current tool call runs
// under, or "" outside a turn.
func SessionKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyCtx).(string)
	return key
}

// Options wires the loop's collaborators.
type Options struct {
	Config       *config.Config
	Provider     provider.LLMProvider
	Bus          *bus.MessageBus
	Sessions     *session.Manager
	Memory       *memory.Store
	Consolidator *memory.Consolidator
	Executor     *tools.Executor
	CronService  tools.CronService
	Delegator    tools.Delegator
	Logger       *slog.Logger
}

// Loop processes inbound messages one turn at a time per session. The bus
// guarantees per-session serial dispatch; the loop guarantees each turn
// terminates in Done, Failed, or Cancelled.
type Loop struct {
	cfg          *config.Config
	provider     provider.LLMProvider
	bus          *bus.MessageBus
	sessions     *session.Manager
	memory       *memory.Store
	consolidator *memory.Consolidator
	executor     *tools.Executor
	logger       *slog.Logger
	builder      *ContextBuilder
	subagents    *Manager

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewLoop creates the loop, registers built-in tools, and constructs the
// subagent manager.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Config == nil || opts.Provider == nil || opts.Bus == nil || opts.Sessions == nil || opts.Executor == nil {
		return nil, fmt.Errorf("agent: config, provider, bus, sessions, and executor are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:          opts.Config,
		provider:     opts.Provider,
		bus:          opts.Bus,
		sessions:     opts.Sessions,
		memory:       opts.Memory,
		consolidator: opts.Consolidator,
		executor:     opts.Executor,
		logger:       logger,
		active:       make(map[string]context.CancelFunc),
	}
	l.builder = NewContextBuilder(
		opts.Config.Paths.Workspace,
		opts.Executor.Registry(),
		opts.Memory,
		opts.Config.Agent.MemoryWindow,
		opts.Config.Agent.ContextBudgetChars,
	)
	l.subagents = NewManager(ManagerOptions{
		MaxConcurrent:  opts.Config.Subagents.MaxConcurrent,
		DefaultTimeout: opts.Config.Subagents.TaskTimeout,
		StatePath:      opts.Config.SubagentStatePath(),
		Run:            l.RunSubagent,
		Publish:        opts.Bus.PublishInbound,
		Logger:         logger,
	})
	l.registerBuiltins(opts.CronService, opts.Delegator)
	return l, nil
}

// Subagents exposes the subagent manager, mainly for the CLI status view.
func (l *Loop) Subagents() *Manager { return l.subagents }

func (l *Loop) registerBuiltins(cron tools.CronService, delegator tools.Delegator) {
	reg := l.executor.Registry()
	reg.Register(tools.NewReadFileTool())
	reg.Register(tools.NewWriteFileTool())
	reg.Register(tools.NewEditFileTool())
	reg.Register(tools.NewAppendFileTool())
	reg.Register(tools.NewListDirTool())
	reg.Register(tools.NewExecTool(l.cfg.Tools.ExecTimeout, l.cfg.Paths.Workspace))
	reg.Register(tools.NewWebFetchTool(l.cfg.Tools.Web.FetchTimeout))
	reg.Register(tools.NewWebSearchTool(l.cfg.Tools.Web.SearchAPIKey, l.cfg.Tools.Web.FetchTimeout))
	reg.Register(tools.NewMessageTool(l.sendDirect, SessionKeyFromContext))
	reg.Register(tools.NewSpawnTool(l.subagents, SessionKeyFromContext))
	reg.Register(tools.NewSubagentStatusTool(l.subagents, SessionKeyFromContext))
	if cron != nil {
		reg.Register(tools.NewCronTool(cron))
	}
	if delegator != nil {
		reg.Register(tools.NewUniverseHelpTool(delegator))
	}
}

// Attach registers the loop as the bus handler and control-message
// interceptor. Call once before the first message is published.
func (l *Loop) Attach() {
	l.bus.SetInterceptor(l.intercept)
	l.bus.SetHandler(l.HandleMessage)
}

// intercept handles /stop without queueing: a busy session cannot dispatch
// the command until the turn it is meant to cancel has finished.
func (l *Loop) intercept(msg *bus.InboundMessage) bool {
	if strings.TrimSpace(msg.Content) != "/stop" {
		return false
	}
	key := msg.SessionKey()
	if l.cancelTurn(key) {
		l.reply(msg, "Stopping the current task.")
	} else {
		l.reply(msg, "Nothing is running.")
	}
	return true
}

func (l *Loop) cancelTurn(sessionKey string) bool {
	l.mu.Lock()
	cancel, ok := l.active[sessionKey]
	l.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// HandleMessage processes one inbound message to completion. Invoked by
// the bus, serially per session key.
func (l *Loop) HandleMessage(ctx context.Context, msg *bus.InboundMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" && len(msg.Media) == 0 {
		return
	}
	if strings.HasPrefix(content, "/") {
		if l.handleCommand(ctx, msg, content) {
			return
		}
	}
	turn := l.RunTurn(ctx, msg)
	l.logger.Info("turn finished",
		"session", turn.SessionKey,
		"outcome", turn.Outcome,
		"reason", turn.Reason,
		"tools", turn.ToolsUsed,
		"duration", turn.EndedAt.Sub(turn.StartedAt).Round(time.Millisecond))
}

// handleCommand returns true when the content was a recognized slash
// command; unknown commands fall through to the model.
func (l *Loop) handleCommand(ctx context.Context, msg *bus.InboundMessage, content string) bool {
	switch content {
	case "/help":
		l.reply(msg, helpText)
		return true
	case "/new":
		key := msg.SessionKey()
		if err := l.archiveSession(ctx, key); err != nil {
			l.logger.Warn("archive on /new failed", "session", key, "error", err)
		}
		sess := l.sessions.GetOrCreate(key)
		sess.Clear()
		if err := l.sessions.Save(sess); err != nil {
			l.logger.Warn("session save failed", "session", key, "error", err)
		}
		l.reply(msg, "Started a new conversation. The previous one is archived to memory.")
		return true
	}
	return false
}

// archiveSession moves all unarchived turns of the session into archived
// state and advances the consolidation cursor past them.
func (l *Loop) archiveSession(ctx context.Context, sessionKey string) error {
	if l.memory == nil {
		return nil
	}
	turns, err := l.memory.ActiveTurns(ctx, sessionKey)
	if err != nil || len(turns) == 0 {
		return err
	}
	first, last := turns[0].ID, turns[len(turns)-1].ID
	if err := l.memory.ArchiveTurns(ctx, sessionKey, first, last); err != nil {
		return err
	}
	return l.memory.SetCursor(ctx, sessionKey, last)
}

// RunTurn drives one turn through the state machine:
// BuildingContext -> AwaitingModel -> (ExecutingTools -> AwaitingModel)* ->
// Done | Failed | Cancelled.
func (l *Loop) RunTurn(ctx context.Context, msg *bus.InboundMessage) *Turn {
	key := msg.SessionKey()
	turn := newTurn(key, msg.Content)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.active[key] = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.active, key)
		l.mu.Unlock()
	}()

	sess := l.sessions.GetOrCreate(key)
	sess.SetState(session.StateBusy)
	defer sess.SetState(session.StateIdle)

	turn.Phase = PhaseBuildingContext
	sess.AddMessage("user", msg.Content)
	messages, err := l.builder.BuildMessages(turnCtx, sess)
	if err != nil {
		turn.Output = "Something went wrong while preparing context. Please try again."
		turn.close(OutcomeFailed, fmt.Sprintf("build context: %v", err))
		l.finishTurn(turnCtx, sess, msg, turn)
		return turn
	}

	l.runModelCycle(turnCtx, turn, messages, l.executor)
	l.finishTurn(turnCtx, sess, msg, turn)
	return turn
}

// runModelCycle alternates provider calls and tool batches until the model
// answers without tool calls, the iteration cap trips, a fatal tool result
// aborts, or the turn is cancelled.
func (l *Loop) runModelCycle(ctx context.Context, turn *Turn, messages []provider.Message, exec *tools.Executor) {
	toolDefs := exec.Registry().Definitions()
	// Tools run to completion even when the turn is cancelled mid-batch;
	// their results are then discarded, not fed back to the model.
	toolCtx := context.WithValue(context.WithoutCancel(ctx), sessionKeyCtx, turn.SessionKey)

	for i := 0; i < l.cfg.Agent.MaxToolIterations; i++ {
		if ctx.Err() != nil {
			turn.Output = "Stopped."
			turn.close(OutcomeCancelled, "stopped before model call")
			return
		}

		turn.Phase = PhaseAwaitingModel
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.cfg.Model.Name,
			MaxTokens:   l.cfg.Model.MaxTokens,
			Temperature: l.cfg.Model.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				turn.Output = "Stopped."
				turn.close(OutcomeCancelled, "stopped during model call")
				return
			}
			turn.Output = "The model request failed. Please try again in a moment."
			turn.close(OutcomeFailed, fmt.Sprintf("provider: %v", err))
			return
		}

		if len(resp.ToolCalls) == 0 {
			turn.Output = resp.Content
			if strings.TrimSpace(turn.Output) == "" {
				turn.Output = emptyResponseNotice
			}
			turn.close(OutcomeDone, "")
			return
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		turn.Phase = PhaseExecutingTools
		calls := make([]tools.Call, len(resp.ToolCalls))
		for ci, tc := range resp.ToolCalls {
			calls[ci] = tools.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		results := exec.ExecuteBatch(toolCtx, calls)

		if ctx.Err() != nil {
			turn.Output = "Stopped."
			turn.close(OutcomeCancelled, "stopped during tool execution")
			return
		}

		for _, res := range results {
			turn.recordTool(res.Name)
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: res.CallID,
			})
			if res.Fatal {
				turn.Output = "A tool call was blocked: " + res.Content
				turn.close(OutcomeFailed, fmt.Sprintf("fatal tool result: %s", res.Name))
				return
			}
		}
	}

	turn.Output = "I hit the tool iteration limit before finishing. Please narrow the request or try again."
	turn.close(OutcomeFailed, "iteration-limit")
}

// finishTurn closes out the session, persists the turn to memory, kicks
// consolidation, and publishes the response.
func (l *Loop) finishTurn(ctx context.Context, sess *session.Session, msg *bus.InboundMessage, turn *Turn) {
	sess.AddMessage("assistant", turn.Output, turn.ToolsUsed...)
	if err := l.sessions.Save(sess); err != nil {
		l.logger.Warn("session save failed", "session", sess.Key, "error", err)
	}

	if l.memory != nil {
		// Persist even if the turn was cancelled: the user said it, and a
		// later consolidation should see it.
		rec := memory.TurnRecord{
			SessionKey:  turn.SessionKey,
			UserInput:   turn.Input,
			FinalOutput: turn.Output,
			ToolsUsed:   turn.ToolsUsed,
			Outcome:     string(turn.Outcome),
		}
		if _, err := l.memory.AppendTurn(context.WithoutCancel(ctx), rec); err != nil {
			l.logger.Warn("memory append failed", "session", sess.Key, "error", err)
		} else if l.consolidator != nil {
			go func(key string) {
				cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer ccancel()
				if err := l.consolidator.Consolidate(cctx, key); err != nil {
					l.logger.Warn("consolidation failed", "session", key, "error", err)
				}
			}(sess.Key)
		}
	}

	// Heartbeats and other internal prompts that produced nothing worth
	// saying stay silent instead of pinging the user.
	if msg.MessageType() == bus.MessageTypeInternal && turn.Output == emptyResponseNotice {
		return
	}
	l.reply(msg, turn.Output)
}

// sendDirect delivers a message outside the request/reply pair, for the
// send_message tool.
func (l *Loop) sendDirect(channel, chatID, content string) {
	l.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
}

func (l *Loop) reply(msg *bus.InboundMessage, content string) {
	if content == "" {
		return
	}
	l.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	})
}
