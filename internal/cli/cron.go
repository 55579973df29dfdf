package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/scheduler"
)

var (
	cronName     string
	cronSchedule string
	cronChannel  string
	cronChatID   string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add <payload>",
	Short: "Add a job (5-field cron expression or every:<duration>)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withCronStore(func(ctx context.Context, cfg *config.Config, store *scheduler.Store) {
			job := scheduler.CronJob{
				Name:         cronName,
				Payload:      args[0],
				ScheduleExpr: cronSchedule,
				Channel:      cronChannel,
				ChatID:       cronChatID,
				Enabled:      true,
			}
			if job.Channel == "" {
				job.Channel = cfg.Scheduler.DefaultChannel
			}
			if job.ChatID == "" {
				job.ChatID = cfg.Scheduler.DefaultChatID
			}
			id, err := store.Add(ctx, job, time.Now())
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %s\n", color.GreenString(id))
		})
	},
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Run: func(cmd *cobra.Command, args []string) {
		withCronStore(func(ctx context.Context, cfg *config.Config, store *scheduler.Store) {
			jobs, err := store.List(ctx)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return
			}
			for _, job := range jobs {
				state := color.GreenString("enabled")
				if !job.Enabled {
					state = color.YellowString("disabled")
				}
				name := job.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("%s  %s  %-18s next %s  %q\n",
					job.ID, state, job.ScheduleExpr,
					job.NextDue.Local().Format("2006-01-02 15:04"), name)
			}
		})
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withCronStore(func(ctx context.Context, cfg *config.Config, store *scheduler.Store) {
			removed, err := store.Remove(ctx, args[0])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !removed {
				fmt.Println("No such job.")
				os.Exit(1)
			}
			fmt.Println("Removed.")
		})
	},
}

func init() {
	cronAddCmd.Flags().StringVarP(&cronName, "name", "n", "", "Job name")
	cronAddCmd.Flags().StringVarP(&cronSchedule, "schedule", "s", "", "Cron expression (\"0 9 * * *\") or interval (\"every:30m\")")
	cronAddCmd.Flags().StringVar(&cronChannel, "channel", "", "Target channel (defaults to scheduler.defaultChannel)")
	cronAddCmd.Flags().StringVar(&cronChatID, "chat", "", "Target chat id (defaults to scheduler.defaultChatId)")
	cronAddCmd.MarkFlagRequired("schedule")

	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronRemoveCmd)
}

func withCronStore(fn func(ctx context.Context, cfg *config.Config, store *scheduler.Store)) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Paths.BaseDir, 0o755); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	store, err := scheduler.NewStore(cfg.CronDBPath())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	fn(context.Background(), cfg, store)
}
