package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tideclaw/tideclaw/internal/agent"
	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/config"
)

var (
	agentMessage string
	agentChatID  string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Send one message to the agent and print the reply",
	Run:   runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentChatID, "chat", "c", "default", "Chat id within the cli channel")
}

func runAgent(cmd *cobra.Command, args []string) {
	if agentMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging()
	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, logger, runtimeOptions{withBridge: true})
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	turn := rt.loop.RunTurn(ctx, &bus.InboundMessage{
		Channel:   "cli",
		SenderID:  "user",
		ChatID:    agentChatID,
		Content:   agentMessage,
		Timestamp: time.Now(),
	})

	fmt.Printf("\n%s %s\n", color.CyanString("tideclaw>"), turn.Output)
	if turn.Outcome != agent.OutcomeDone {
		fmt.Println(color.YellowString("(turn ended %s: %s)", string(turn.Outcome), turn.Reason))
	}
}
