package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/tools"
	"github.com/tideclaw/tideclaw/internal/universe"
)

var (
	universeKind   string
	universeToNode string
)

var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Delegate tasks to peer agent nodes",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var universePeersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List configured peer nodes",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Universe.Peers) == 0 {
			fmt.Println("No peers configured.")
			return
		}
		for _, p := range cfg.Universe.Peers {
			caps := "all kinds"
			if len(p.Capabilities) > 0 {
				caps = fmt.Sprintf("%v", p.Capabilities)
			}
			fmt.Printf("%s  %s  %s\n", color.CyanString(p.Name), p.Endpoint, caps)
		}
	},
}

var universeCallCmd = &cobra.Command{
	Use:   "call <prompt>",
	Short: "Delegate one task to a peer node and print the result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Universe.Peers) == 0 {
			fmt.Println("No peers configured (set universe.peers in the config file).")
			os.Exit(1)
		}

		client := universe.NewClient(cfg.Universe)
		res, err := client.Delegate(context.Background(), tools.DelegateRequest{
			Kind:   universeKind,
			Prompt: args[0],
			ToNode: universeToNode,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s %s\n", color.CyanString("[%s]", res.Node), res.Output)
	},
}

func init() {
	universeCallCmd.Flags().StringVarP(&universeKind, "kind", "k", universe.KindAgent, "Task kind (agent.run, llm.chat, echo)")
	universeCallCmd.Flags().StringVar(&universeToNode, "to", "", "Call a specific peer by name")
	universeCmd.AddCommand(universePeersCmd)
	universeCmd.AddCommand(universeCallCmd)
}
