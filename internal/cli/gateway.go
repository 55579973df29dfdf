package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tideclaw/tideclaw/internal/channels"
	"github.com/tideclaw/tideclaw/internal/config"
)

var gatewayChatID string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the interactive agent gateway (scheduler + remote tools + CLI chat)",
	Run:   runGateway,
}

func init() {
	gatewayCmd.Flags().StringVarP(&gatewayChatID, "chat", "c", "default", "Chat id within the cli channel")
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("tideclaw gateway")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogging()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger, runtimeOptions{withScheduler: true, withBridge: true, withNode: true})
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	if cfg.Scheduler.Enabled && rt.scheduler != nil {
		go func() {
			if err := rt.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("scheduler stopped", "error", err)
			}
		}()
		logger.Info("scheduler running", "tick", cfg.Scheduler.TickInterval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	ch := channels.NewCLIChannel(rt.bus, gatewayChatID, os.Stdin, os.Stdout)
	fmt.Println("Type a message, /help for commands, /quit to exit.")
	if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("cli channel stopped", "error", err)
	}
	_ = ch.Stop()
}
