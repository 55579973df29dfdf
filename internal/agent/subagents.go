package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/provider"
	"github.com/tideclaw/tideclaw/internal/session"
	"github.com/tideclaw/tideclaw/internal/tools"
)

// TaskStatus is a subagent task's lifecycle state.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// SubagentTask is one delegated background run. The sub-session key
// isolates its history from the parent conversation.
type SubagentTask struct {
	ID               string     `json:"id"`
	ParentSessionKey string     `json:"parent_session_key"`
	SessionKey       string     `json:"session_key"`
	Goal             string     `json:"goal"`
	Label            string     `json:"label,omitempty"`
	Status           TaskStatus `json:"status"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`

	timeout time.Duration
	cancel  context.CancelFunc
}

// TurnRunner executes one goal in an isolated sub-session and returns the
// final output.
type TurnRunner func(ctx context.Context, sessionKey, goal string) (string, error)

// ManagerOptions configures a subagent Manager.
type ManagerOptions struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	StatePath      string
	Run            TurnRunner
	Publish        func(*bus.InboundMessage)
	Logger         *slog.Logger
}

// Manager runs subagent tasks with bounded concurrency. Excess spawns
// queue FIFO and start as slots free. It implements tools.Spawner.
type Manager struct {
	maxConcurrent  int
	defaultTimeout time.Duration
	statePath      string
	run            TurnRunner
	publish        func(*bus.InboundMessage)
	logger         *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*SubagentTask
	queue   []string
	running int
}

// NewManager creates a Manager and restores persisted tasks. Runs that
// were in flight when the process died are marked failed.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		maxConcurrent:  opts.MaxConcurrent,
		defaultTimeout: opts.DefaultTimeout,
		statePath:      opts.StatePath,
		run:            opts.Run,
		publish:        opts.Publish,
		logger:         opts.Logger,
		tasks:          make(map[string]*SubagentTask),
	}
	m.restore()
	return m
}

func (m *Manager) restore() {
	if m.statePath == "" {
		return
	}
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return
	}
	var persisted []*SubagentTask
	if err := json.Unmarshal(data, &persisted); err != nil {
		m.logger.Warn("subagent state unreadable, starting empty", "path", m.statePath, "error", err)
		return
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range persisted {
		if task.Status == TaskRunning || task.Status == TaskQueued {
			task.Status = TaskFailed
			task.Error = "runtime restarted before completion"
			task.EndedAt = &now
		}
		m.tasks[task.ID] = task
	}
}

// snapshotLocked persists all tasks. Caller holds m.mu.
func (m *Manager) snapshotLocked() {
	if m.statePath == "" {
		return
	}
	list := make([]*SubagentTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		return
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		m.logger.Warn("subagent snapshot failed", "error", err)
		return
	}
	_ = os.Rename(tmp, m.statePath)
}

// Spawn accepts a task and returns immediately. The result arrives later
// as a synthetic inbound message on the parent session.
func (m *Manager) Spawn(ctx context.Context, req tools.SpawnRequest) (tools.SpawnResult, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return tools.SpawnResult{}, fmt.Errorf("empty goal")
	}
	if strings.HasPrefix(req.ParentSessionKey, "subagent:") {
		return tools.SpawnResult{}, fmt.Errorf("subagents cannot spawn further subagents")
	}

	id := uuid.NewString()
	task := &SubagentTask{
		ID:               id,
		ParentSessionKey: req.ParentSessionKey,
		SessionKey:       "subagent:" + id,
		Goal:             goal,
		Label:            strings.TrimSpace(req.Label),
		Status:           TaskQueued,
		CreatedAt:        time.Now(),
		timeout:          m.defaultTimeout,
	}
	if req.TimeoutSeconds > 0 {
		task.timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	m.mu.Lock()
	m.tasks[id] = task
	status := TaskQueued
	if m.running < m.maxConcurrent {
		m.startLocked(task)
		status = TaskRunning
	} else {
		m.queue = append(m.queue, id)
	}
	m.snapshotLocked()
	m.mu.Unlock()

	return tools.SpawnResult{
		Status:  string(status),
		TaskID:  id,
		Message: fmt.Sprintf("Task %s %s. The result will arrive as a message from subagent:%s.", shortID(id), status, shortID(id)),
	}, nil
}

// startLocked marks the task running and launches its goroutine. Caller
// holds m.mu.
func (m *Manager) startLocked(task *SubagentTask) {
	now := time.Now()
	task.Status = TaskRunning
	task.StartedAt = &now
	runCtx, cancel := context.WithTimeout(context.Background(), task.timeout)
	task.cancel = cancel
	m.running++
	go m.execute(runCtx, cancel, task)
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, task *SubagentTask) {
	defer cancel()
	result, err := m.run(ctx, task.SessionKey, task.Goal)

	now := time.Now()
	m.mu.Lock()
	task.EndedAt = &now
	task.cancel = nil
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		task.Status = TaskCancelled
		task.Error = "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		task.Status = TaskFailed
		task.Error = fmt.Sprintf("timed out after %v", task.timeout)
	case err != nil:
		task.Status = TaskFailed
		task.Error = err.Error()
	default:
		task.Status = TaskCompleted
		task.Result = result
	}
	m.running--
	m.startNextLocked()
	m.snapshotLocked()
	m.mu.Unlock()

	m.announce(task)
}

// startNextLocked starts queued tasks while slots are free. Caller holds
// m.mu.
func (m *Manager) startNextLocked() {
	for m.running < m.maxConcurrent && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		task, ok := m.tasks[id]
		if !ok || task.Status != TaskQueued {
			continue
		}
		m.startLocked(task)
	}
}

// announce posts the terminal outcome back to the parent session as an
// internal inbound message, so the parent turn loop can relay it.
func (m *Manager) announce(task *SubagentTask) {
	if m.publish == nil {
		return
	}
	channel, chatID := splitSessionKey(task.ParentSessionKey)
	label := task.Label
	if label == "" {
		label = shortID(task.ID)
	}
	var content string
	switch task.Status {
	case TaskCompleted:
		content = fmt.Sprintf("Background task %q finished:\n%s", label, task.Result)
	case TaskCancelled:
		content = fmt.Sprintf("Background task %q was cancelled.", label)
	default:
		content = fmt.Sprintf("Background task %q failed: %s", label, task.Error)
	}
	m.publish(&bus.InboundMessage{
		Channel:        channel,
		SenderID:       "subagent:" + task.ID,
		ChatID:         chatID,
		Content:        content,
		IdempotencyKey: "subagent:" + task.ID,
		Metadata: map[string]any{
			bus.MetaKeyMessageType: bus.MessageTypeInternal,
			"subagent_task_id":     task.ID,
		},
		Timestamp: time.Now(),
	})
}

// Cancel stops a running task or removes a queued one.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown task %s", taskID)
	}
	switch task.Status {
	case TaskQueued:
		now := time.Now()
		task.Status = TaskCancelled
		task.Error = "cancelled before start"
		task.EndedAt = &now
		for i, id := range m.queue {
			if id == taskID {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
		m.snapshotLocked()
		m.mu.Unlock()
		m.announce(task)
		return nil
	case TaskRunning:
		cancel := task.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		m.mu.Unlock()
		return fmt.Errorf("task %s already %s", taskID, task.Status)
	}
}

// StatusList renders the parent's tasks, newest first.
func (m *Manager) StatusList(parentSessionKey string) string {
	m.mu.Lock()
	var list []*SubagentTask
	for _, t := range m.tasks {
		if t.ParentSessionKey == parentSessionKey {
			list = append(list, t)
		}
	}
	m.mu.Unlock()

	if len(list) == 0 {
		return "No subagent tasks."
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	var sb strings.Builder
	for _, t := range list {
		label := t.Label
		if label == "" {
			label = truncate(t.Goal, 60)
		}
		fmt.Fprintf(&sb, "- [%s] %s (%s)\n", t.Status, label, shortID(t.ID))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Task returns a copy of the task by id.
func (m *Manager) Task(id string) (SubagentTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return SubagentTask{}, false
	}
	return *t, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func splitSessionKey(key string) (channel, chatID string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, "default"
}

// RunSubagent executes one delegated goal in an isolated sub-session with
// a narrowed tool set: no spawn tools (delegation depth stays at one) and
// no direct messaging, since a subagent reports through its parent.
func (l *Loop) RunSubagent(ctx context.Context, sessionKey, goal string) (string, error) {
	sub := tools.NewRegistry()
	main := l.executor.Registry()
	for _, name := range main.Names() {
		if name == "spawn_subagent" || name == "subagent_status" || name == "send_message" {
			continue
		}
		if t, ok := main.Get(name); ok {
			sub.Register(t)
		}
	}
	exec := l.executor.WithRegistry(sub)

	sess := l.sessions.GetOrCreate(sessionKey)
	sess.SetState(session.StateBusy)
	defer sess.SetState(session.StateIdle)
	sess.AddMessage("user", goal)

	system := l.builder.BuildSystemPrompt() +
		"\n## Subagent Mode\nYou are running as a background subagent. Complete the task below and reply with a concise final report. You cannot message the user directly or spawn further subagents.\n"
	messages := []provider.Message{{Role: "system", Content: system}}
	for _, m := range sess.GetHistory(l.cfg.Agent.MemoryWindow) {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	turn := newTurn(sessionKey, goal)
	l.runModelCycle(ctx, turn, messages, exec)

	sess.AddMessage("assistant", turn.Output, turn.ToolsUsed...)
	if err := l.sessions.Save(sess); err != nil {
		l.logger.Warn("subagent session save failed", "session", sessionKey, "error", err)
	}

	switch turn.Outcome {
	case OutcomeDone:
		return turn.Output, nil
	case OutcomeCancelled:
		return "", context.Canceled
	default:
		return "", fmt.Errorf("%s", turn.Reason)
	}
}

// RunRemoteTask executes a task delegated by a peer node. The tool set is
// web-only and the session is ephemeral: nothing a remote caller sends
// touches local files, the shell, or stored conversations.
func (l *Loop) RunRemoteTask(ctx context.Context, prompt string) (string, error) {
	sub := tools.NewRegistry()
	main := l.executor.Registry()
	for _, name := range []string{"web_fetch", "web_search"} {
		if t, ok := main.Get(name); ok {
			sub.Register(t)
		}
	}
	exec := l.executor.WithRegistry(sub)

	sessionKey := "universe:" + uuid.NewString()
	defer l.sessions.Delete(sessionKey)

	system := l.builder.BuildSystemPrompt() +
		"\n## Delegated Task Mode\nYou are answering a task delegated by a peer agent. Only web tools are available. Reply with a concise, self-contained answer.\n"
	messages := []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}

	turn := newTurn(sessionKey, prompt)
	l.runModelCycle(ctx, turn, messages, exec)

	switch turn.Outcome {
	case OutcomeDone:
		return turn.Output, nil
	case OutcomeCancelled:
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("%s", turn.Reason)
	}
}
