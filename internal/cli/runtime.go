package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tideclaw/tideclaw/internal/agent"
	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/memory"
	"github.com/tideclaw/tideclaw/internal/provider"
	"github.com/tideclaw/tideclaw/internal/scheduler"
	"github.com/tideclaw/tideclaw/internal/session"
	"github.com/tideclaw/tideclaw/internal/toolproto"
	"github.com/tideclaw/tideclaw/internal/tools"
	"github.com/tideclaw/tideclaw/internal/universe"
)

// runtime holds the wired components shared by the agent and gateway
// commands.
type runtime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	sessions  *session.Manager
	memory    *memory.Store
	scheduler *scheduler.Scheduler
	bridge    *toolproto.Bridge
	loop      *agent.Loop
	node      *universe.NodeServer
	provider  provider.LLMProvider
	logger    *slog.Logger
}

// runtimeOptions selects optional subsystems.
type runtimeOptions struct {
	withScheduler bool
	withBridge    bool
	withNode      bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runtimeOptions) (*runtime, error) {
	for _, dir := range []string{cfg.Paths.BaseDir, cfg.Paths.Workspace} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (set TIDECLAW_API_KEY or provider.apiKey in the config file)")
	}
	var prov provider.LLMProvider = provider.NewOpenAIProvider(
		cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name, cfg.Provider.Timeout)
	prov = provider.WithRetry(prov, cfg.Provider.MaxRetries, 0)

	msgBus := bus.NewMessageBus(bus.Options{
		DedupWindow:       cfg.Bus.DedupWindow,
		OutboundRetries:   cfg.Bus.OutboundRetries,
		OutboundRetryBase: cfg.Bus.OutboundRetryBase,
	})

	store, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		msgBus.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	consolidator := memory.NewConsolidator(store, prov, cfg.Model.Name, 0, logger)

	sandboxRoot := cfg.Paths.Workspace
	if cfg.Agent.AllowOutsideWorkspace {
		sandboxRoot = ""
	}
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, tools.NewSandbox(sandboxRoot), cfg.Tools.CallTimeout, logger)

	rt := &runtime{
		cfg:      cfg,
		bus:      msgBus,
		sessions: session.NewManager(cfg.SessionsDir(), cfg.Sessions.IdleTTL),
		memory:   store,
		provider: prov,
		logger:   logger,
	}

	var cronService tools.CronService
	if opts.withScheduler {
		schedStore, err := scheduler.NewStore(cfg.CronDBPath())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open cron store: %w", err)
		}
		rt.scheduler = scheduler.New(cfg.Scheduler, schedStore, msgBus, logger)
		cronService = rt.scheduler
	}

	var delegator tools.Delegator
	if cfg.Universe.Enabled && len(cfg.Universe.Peers) > 0 {
		delegator = universe.NewClient(cfg.Universe)
	}

	loop, err := agent.NewLoop(agent.Options{
		Config:       cfg,
		Provider:     prov,
		Bus:          msgBus,
		Sessions:     rt.sessions,
		Memory:       store,
		Consolidator: consolidator,
		Executor:     executor,
		CronService:  cronService,
		Delegator:    delegator,
		Logger:       logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.loop = loop
	loop.Attach()

	if opts.withBridge && len(cfg.Tools.Servers) > 0 {
		rt.bridge = toolproto.NewBridge(ctx, cfg.Tools.Servers, logger)
		rt.bridge.RegisterTools(ctx, registry)
	}

	if opts.withNode && cfg.Universe.Enabled && cfg.Universe.ListenAddr != "" {
		exec := universe.NewTaskExecutor(prov, cfg.Model.Name, cfg.Model.Temperature,
			cfg.Universe, loop.RunRemoteTask)
		rt.node = universe.NewNodeServer(cfg.Universe, exec, logger)
		if err := rt.node.Start(); err != nil {
			rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// Close releases runtime resources in reverse dependency order.
func (r *runtime) Close() {
	if r.node != nil {
		r.node.Close()
	}
	if r.bridge != nil {
		r.bridge.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.scheduler != nil && r.scheduler.Store() != nil {
		r.scheduler.Store().Close()
	}
	if r.memory != nil {
		r.memory.Close()
	}
}
