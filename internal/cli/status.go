package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tideclaw/tideclaw/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("tideclaw version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("tideclaw status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:    ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:    ✗ Not found (" + configPath + "), using defaults")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:    ✗ Unreadable: %v\n", err)
			return
		}
		if cfg.Provider.APIKey != "" {
			fmt.Println("API Key:   ✓ Configured")
		} else {
			fmt.Println("API Key:   ✗ Missing (set TIDECLAW_API_KEY)")
		}
		fmt.Printf("Model:     %s\n", cfg.Model.Name)
		fmt.Printf("Workspace: %s\n", cfg.Paths.Workspace)

		if _, err := os.Stat(cfg.MemoryDBPath()); err == nil {
			fmt.Println("Memory:    ✓ " + cfg.MemoryDBPath())
		} else {
			fmt.Println("Memory:    (empty, created on first turn)")
		}
		if cfg.Scheduler.Enabled {
			fmt.Printf("Scheduler: enabled, tick %s\n", cfg.Scheduler.TickInterval)
		} else {
			fmt.Println("Scheduler: disabled")
		}
		if n := len(cfg.Tools.Servers); n > 0 {
			fmt.Printf("Tool servers: %d configured\n", n)
		}
	},
}
