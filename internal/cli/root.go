// Package cli implements the tideclaw command-line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/tideclaw/tideclaw/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _   _     _           _\n" +
		" | |_(_) __| | ___  ___| | __ ___      __\n" +
		" | __| |/ _` |/ _ \\/ __| |/ _` \\ \\ /\\ / /\n" +
		" | |_| | (_| |  __/ (__| | (_| |\\ V  V /\n" +
		"  \\__|_|\\__,_|\\___|\\___|_|\\__,_| \\_/\\_/\n"
)

var rootCmd = &cobra.Command{
	Use:   "tideclaw",
	Short: "tideclaw - Personal AI Assistant",
	Long:  color.CyanString(logo) + "\nA lightweight personal AI agent runtime written in Go.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(universeCmd)
}
