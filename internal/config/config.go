// Package config provides configuration types and loading for tideclaw.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Subagents SubagentsConfig `json:"subagents"`
	Bus       BusConfig       `json:"bus"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sessions  SessionsConfig  `json:"sessions"`
	Tools     ToolsConfig     `json:"tools"`
	Universe  UniverseConfig  `json:"universe"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	// BaseDir holds state (sessions, memory db, cron db, subagent snapshots).
	BaseDir string `json:"baseDir" envconfig:"BASE_DIR"`
	// Workspace is the sandbox root for filesystem and shell tools.
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// ModelConfig groups LLM generation settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// AgentConfig groups agent-loop behaviour.
type AgentConfig struct {
	MaxToolIterations  int `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	MemoryWindow       int `json:"memoryWindow" envconfig:"MEMORY_WINDOW"`
	ContextBudgetChars int `json:"contextBudgetChars" envconfig:"CONTEXT_BUDGET_CHARS"`
	// AllowOutsideWorkspace disables the filesystem sandbox. Off by
	// default: tools stay confined to Paths.Workspace.
	AllowOutsideWorkspace bool `json:"allowOutsideWorkspace" envconfig:"ALLOW_OUTSIDE_WORKSPACE"`
}

// ProviderConfig contains settings for the OpenAI-compatible LLM endpoint.
type ProviderConfig struct {
	APIKey     string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase    string        `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"maxRetries" envconfig:"MAX_RETRIES"`
}

// SubagentsConfig bounds background task execution.
type SubagentsConfig struct {
	MaxConcurrent int           `json:"maxConcurrent" envconfig:"SUBAGENT_MAX_CONCURRENT"`
	TaskTimeout   time.Duration `json:"taskTimeout"`
}

// BusConfig controls message routing behaviour.
type BusConfig struct {
	DedupWindow        time.Duration `json:"dedupWindow"`
	OutboundRetries    int           `json:"outboundRetries" envconfig:"OUTBOUND_RETRIES"`
	OutboundRetryBase  time.Duration `json:"outboundRetryBase"`
	QueueWarnThreshold int           `json:"queueWarnThreshold"`
}

// HeartbeatConfig configures the proactive heartbeat.
type HeartbeatConfig struct {
	Enabled  bool          `json:"enabled" envconfig:"HEARTBEAT_ENABLED"`
	Interval time.Duration `json:"interval"`
}

// SchedulerConfig configures cron evaluation.
type SchedulerConfig struct {
	Enabled      bool          `json:"enabled" envconfig:"SCHEDULER_ENABLED"`
	TickInterval time.Duration `json:"tickInterval"`
	// SkipMissedRuns drops runs whose due time fell during downtime instead
	// of firing them once on restart. Off by default: a missed job catches
	// up with a single fire.
	SkipMissedRuns bool            `json:"skipMissedRuns" envconfig:"SCHEDULER_SKIP_MISSED_RUNS"`
	Heartbeat      HeartbeatConfig `json:"heartbeat"`
	// DefaultChannel/DefaultChatID address synthetic messages when a job
	// does not carry its own target.
	DefaultChannel string `json:"defaultChannel" envconfig:"SCHEDULER_DEFAULT_CHANNEL"`
	DefaultChatID  string `json:"defaultChatId" envconfig:"SCHEDULER_DEFAULT_CHAT_ID"`
}

// SessionsConfig controls session retention.
type SessionsConfig struct {
	// IdleTTL evicts sessions from the in-memory cache after this much
	// inactivity. Zero disables eviction. Persisted sessions reload on the
	// next message either way.
	IdleTTL time.Duration `json:"idleTtl"`
}

// ToolServerConfig describes one remote tool endpoint. Exactly one of
// Command (stdio subprocess) or URL (streaming HTTP) must be set.
type ToolServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// WebToolsConfig configures the web fetch/search tools.
type WebToolsConfig struct {
	// SearchAPIKey is a Brave Search API key. Empty leaves web_search
	// registered but unconfigured.
	SearchAPIKey string        `json:"searchApiKey,omitempty" envconfig:"BRAVE_API_KEY"`
	FetchTimeout time.Duration `json:"fetchTimeout"`
}

// ToolsConfig groups tool execution settings.
type ToolsConfig struct {
	ExecTimeout time.Duration      `json:"execTimeout"`
	CallTimeout time.Duration      `json:"callTimeout"`
	Web         WebToolsConfig     `json:"web"`
	Servers     []ToolServerConfig `json:"servers,omitempty"`
}

// UniversePeerConfig describes one peer node this agent may delegate to.
type UniversePeerConfig struct {
	Name         string `json:"name"`
	Endpoint     string `json:"endpoint"`
	ServiceToken string `json:"serviceToken,omitempty"`
	// Capabilities lists the task kinds the peer accepts. Empty means all.
	Capabilities []string `json:"capabilities,omitempty"`
	// PricePoints ranks peers for selection; cheaper wins. Zero means 1.
	PricePoints int `json:"pricePoints,omitempty"`
}

// UniverseConfig configures peer delegation: asking other nodes for help
// and, when listening, executing tasks other nodes send here.
type UniverseConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"UNIVERSE_ENABLED"`
	NodeName string `json:"nodeName,omitempty" envconfig:"UNIVERSE_NODE_NAME"`
	// ListenAddr, when set, serves delegated tasks on this TCP address.
	ListenAddr string `json:"listenAddr,omitempty" envconfig:"UNIVERSE_LISTEN_ADDR"`
	// ServiceToken, when set, is required from callers of this node.
	ServiceToken string `json:"serviceToken,omitempty" envconfig:"UNIVERSE_SERVICE_TOKEN"`
	// AllowAgentTasks permits tool-using agent runs for delegated tasks.
	// Off by default: only echo and plain chat are served.
	AllowAgentTasks bool                 `json:"allowAgentTasks" envconfig:"UNIVERSE_ALLOW_AGENT_TASKS"`
	MaxTokens       int                  `json:"maxTokens"`
	RatePerMinute   int                  `json:"ratePerMinute"`
	CallTimeout     time.Duration        `json:"callTimeout"`
	TaskTimeout     time.Duration        `json:"taskTimeout"`
	Peers           []UniversePeerConfig `json:"peers,omitempty"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".tideclaw")
	cfg := &Config{
		Paths: PathsConfig{
			BaseDir:   base,
			Workspace: filepath.Join(base, "workspace"),
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults. Called after loading.
func (c *Config) Normalize() {
	if c.Paths.BaseDir == "" {
		home, _ := os.UserHomeDir()
		c.Paths.BaseDir = filepath.Join(home, ".tideclaw")
	}
	if c.Paths.Workspace == "" {
		c.Paths.Workspace = filepath.Join(c.Paths.BaseDir, "workspace")
	}
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4.1"
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature <= 0 {
		c.Model.Temperature = 0.7
	}
	if c.Agent.MaxToolIterations <= 0 {
		c.Agent.MaxToolIterations = 20
	}
	if c.Agent.MemoryWindow <= 0 {
		c.Agent.MemoryWindow = 50
	}
	if c.Agent.ContextBudgetChars <= 0 {
		c.Agent.ContextBudgetChars = 24000
	}
	if c.Provider.APIBase == "" {
		c.Provider.APIBase = "https://api.openai.com/v1"
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 120 * time.Second
	}
	if c.Provider.MaxRetries <= 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Subagents.MaxConcurrent <= 0 {
		c.Subagents.MaxConcurrent = 4
	}
	if c.Subagents.TaskTimeout <= 0 {
		c.Subagents.TaskTimeout = 10 * time.Minute
	}
	if c.Bus.DedupWindow <= 0 {
		c.Bus.DedupWindow = 10 * time.Minute
	}
	if c.Bus.OutboundRetries <= 0 {
		c.Bus.OutboundRetries = 5
	}
	if c.Bus.OutboundRetryBase <= 0 {
		c.Bus.OutboundRetryBase = time.Second
	}
	if c.Bus.QueueWarnThreshold <= 0 {
		c.Bus.QueueWarnThreshold = 32
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 30 * time.Second
	}
	if c.Scheduler.Heartbeat.Interval <= 0 {
		c.Scheduler.Heartbeat.Interval = 30 * time.Minute
	}
	if c.Scheduler.DefaultChannel == "" {
		c.Scheduler.DefaultChannel = "cli"
	}
	if c.Scheduler.DefaultChatID == "" {
		c.Scheduler.DefaultChatID = "default"
	}
	if c.Tools.ExecTimeout <= 0 {
		c.Tools.ExecTimeout = 60 * time.Second
	}
	if c.Tools.CallTimeout <= 0 {
		c.Tools.CallTimeout = 120 * time.Second
	}
	if c.Tools.Web.FetchTimeout <= 0 {
		c.Tools.Web.FetchTimeout = 30 * time.Second
	}
	if c.Universe.MaxTokens <= 0 {
		c.Universe.MaxTokens = 1024
	}
	if c.Universe.RatePerMinute <= 0 {
		c.Universe.RatePerMinute = 30
	}
	if c.Universe.CallTimeout <= 0 {
		c.Universe.CallTimeout = 2 * time.Minute
	}
	if c.Universe.TaskTimeout <= 0 {
		c.Universe.TaskTimeout = 5 * time.Minute
	}
}

// SessionsDir returns the session persistence directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.BaseDir, "sessions")
}

// MemoryDBPath returns the memory store database path.
func (c *Config) MemoryDBPath() string {
	return filepath.Join(c.Paths.BaseDir, "memory.db")
}

// CronDBPath returns the cron job store database path.
func (c *Config) CronDBPath() string {
	return filepath.Join(c.Paths.BaseDir, "cron.db")
}

// SubagentStatePath returns the subagent snapshot file path.
func (c *Config) SubagentStatePath() string {
	return filepath.Join(c.Paths.BaseDir, "subagents.json")
}
