// Package session provides conversation session management.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// State describes whether a session is currently processing a turn.
type State string

const (
	StateIdle State = "idle"
	StateBusy State = "busy"
)

// Message represents a chat message in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Session represents one conversation bound to a channel+chat key.
type Session struct {
	Key       string         `json:"key"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	state State
	mu    sync.RWMutex
}

// NewSession creates a new session with the given key.
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
		state:     StateIdle,
	}
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(role, content string, toolsUsed ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		ToolsUsed: toolsUsed,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// GetHistory returns up to maxMessages of the most recent history.
func (s *Session) GetHistory(maxMessages int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Messages) <= maxMessages {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, maxMessages)
	copy(out, s.Messages[len(s.Messages)-maxMessages:])
	return out
}

// Len returns the number of messages in the session.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Clear removes all messages from the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = []Message{}
	s.UpdatedAt = time.Now()
}

// State returns the session's current processing state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the processing state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.UpdatedAt = time.Now()
}

// GetMetadata returns a metadata value by key.
func (s *Session) GetMetadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Metadata == nil {
		return nil, false
	}
	v, ok := s.Metadata[key]
	return v, ok
}

// SetMetadata sets a metadata value by key.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// Manager manages session caching, persistence, and eviction.
type Manager struct {
	sessionsDir string
	idleTTL     time.Duration
	cache       map[string]*Session
	mu          sync.RWMutex
	now         func() time.Time
}

// NewManager creates a session manager persisting under dir. idleTTL of
// zero disables cache eviction.
func NewManager(dir string, idleTTL time.Duration) *Manager {
	os.MkdirAll(dir, 0o755)
	return &Manager{
		sessionsDir: dir,
		idleTTL:     idleTTL,
		cache:       make(map[string]*Session),
		now:         time.Now,
	}
}

// GetOrCreate returns an existing session or creates a new one. Evicted
// sessions reload transparently from disk.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictIdleLocked()

	if sess, ok := m.cache[key]; ok {
		return sess
	}
	sess := m.load(key)
	if sess == nil {
		sess = NewSession(key)
	}
	m.cache[key] = sess
	return sess
}

// evictIdleLocked drops idle sessions from the cache past the TTL. The
// JSONL file stays; only in-memory state is released.
func (m *Manager) evictIdleLocked() {
	if m.idleTTL <= 0 {
		return
	}
	cutoff := m.now().Add(-m.idleTTL)
	for key, sess := range m.cache {
		if sess.State() == StateIdle && sess.UpdatedAt.Before(cutoff) {
			delete(m.cache, key)
		}
	}
}

// Save persists a session to disk as JSONL with a metadata first line.
func (m *Manager) Save(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.sessionPath(sess.Key)

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer file.Close()

	meta := map[string]any{
		"_type":      "metadata",
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"updated_at": sess.UpdatedAt.Format(time.RFC3339),
		"metadata":   sess.Metadata,
	}
	metaLine, _ := json.Marshal(meta)
	file.WriteString(string(metaLine) + "\n")

	for _, msg := range sess.Messages {
		msgLine, _ := json.Marshal(msg)
		file.WriteString(string(msgLine) + "\n")
	}

	m.cache[sess.Key] = sess
	return nil
}

// Delete removes a session from cache and disk.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return os.Remove(m.sessionPath(key)) == nil
}

// SessionInfo contains metadata about a persisted session.
type SessionInfo struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Path      string
}

// List returns information about all persisted sessions.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []SessionInfo
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return sessions
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(m.sessionsDir, entry.Name())
		key := strings.ReplaceAll(strings.TrimSuffix(entry.Name(), ".jsonl"), "_", ":")
		info := SessionInfo{Key: key, Path: path}

		if data, err := os.ReadFile(path); err == nil {
			firstLine, _, _ := strings.Cut(string(data), "\n")
			var meta map[string]any
			if json.Unmarshal([]byte(firstLine), &meta) == nil {
				if created, ok := meta["created_at"].(string); ok {
					info.CreatedAt, _ = time.Parse(time.RFC3339, created)
				}
				if updated, ok := meta["updated_at"].(string); ok {
					info.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
				}
			}
		}
		sessions = append(sessions, info)
	}
	return sessions
}

func (m *Manager) sessionPath(key string) string {
	safeKey := strings.ReplaceAll(key, ":", "_")
	// Strip path separators and traversal components to prevent injection.
	safeKey = strings.ReplaceAll(safeKey, "/", "_")
	safeKey = strings.ReplaceAll(safeKey, "\\", "_")
	safeKey = strings.ReplaceAll(safeKey, "..", "_")
	return filepath.Join(m.sessionsDir, filepath.Base(safeKey)+".jsonl")
}

func (m *Manager) load(key string) *Session {
	file, err := os.Open(m.sessionPath(key))
	if err != nil {
		return nil
	}
	defer file.Close()

	sess := NewSession(key)
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			break
		}
		var check map[string]any
		if json.Unmarshal(raw, &check) == nil && check["_type"] == "metadata" {
			if created, ok := check["created_at"].(string); ok {
				sess.CreatedAt, _ = time.Parse(time.RFC3339, created)
			}
			if updated, ok := check["updated_at"].(string); ok {
				sess.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
			}
			if meta, ok := check["metadata"].(map[string]any); ok {
				sess.Metadata = meta
			}
			continue
		}
		var msg Message
		if json.Unmarshal(raw, &msg) == nil {
			sess.Messages = append(sess.Messages, msg)
		}
	}
	return sess
}
