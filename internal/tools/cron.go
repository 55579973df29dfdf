package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CronJobView is the read model the cron tool renders for the LLM.
type CronJobView struct {
	ID        string
	Name      string
	Schedule  string
	Payload   string
	Enabled   bool
	NextDue   time.Time
	LastFired time.Time
}

// CronService is the scheduler surface the cron tool needs.
type CronService interface {
	AddJob(name, payload, schedule string) (string, error)
	ListJobs() ([]CronJobView, error)
	RemoveJob(id string) (bool, error)
}

// CronTool manages scheduled jobs from within a conversation.
type CronTool struct {
	service CronService
}

// NewCronTool creates a CronTool.
func NewCronTool(service CronService) *CronTool {
	return &CronTool{service: service}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Mutating() bool { return true }

func (t *CronTool) Description() string {
	return "Manage scheduled jobs: add a reminder or recurring task, list jobs, or remove one. Schedules are 5-field cron expressions or fixed intervals like 'every:30m'."
}

func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The operation to perform",
				"enum":        []string{"add", "list", "remove"},
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Human-readable job name (for add)",
			},
			"payload": map[string]any{
				"type":        "string",
				"description": "Message injected into the conversation when the job fires (for add)",
			},
			"schedule": map[string]any{
				"type":        "string",
				"description": "Cron expression ('0 9 * * 1-5') or interval ('every:30m') (for add)",
			},
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job id to remove (for remove)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	switch GetString(params, "action", "") {
	case "add":
		name := GetString(params, "name", "")
		payload := GetString(params, "payload", "")
		schedule := GetString(params, "schedule", "")
		if name == "" || payload == "" || schedule == "" {
			return "Error: add requires name, payload, and schedule", nil
		}
		id, err := t.service.AddJob(name, payload, schedule)
		if err != nil {
			return fmt.Sprintf("Error adding job: %v", err), nil
		}
		return fmt.Sprintf("Added job %s (%s)", id, name), nil

	case "list":
		jobs, err := t.service.ListJobs()
		if err != nil {
			return fmt.Sprintf("Error listing jobs: %v", err), nil
		}
		if len(jobs) == 0 {
			return "No scheduled jobs.", nil
		}
		var b strings.Builder
		for _, job := range jobs {
			state := "enabled"
			if !job.Enabled {
				state = "disabled"
			}
			b.WriteString(fmt.Sprintf("%s  %s  [%s, %s]  next: %s",
				job.ID, job.Name, job.Schedule, state,
				job.NextDue.Format(time.RFC3339)))
			if !job.LastFired.IsZero() {
				b.WriteString("  last: " + job.LastFired.Format(time.RFC3339))
			}
			b.WriteString("\n")
		}
		return b.String(), nil

	case "remove":
		id := GetString(params, "job_id", "")
		if id == "" {
			return "Error: remove requires job_id", nil
		}
		removed, err := t.service.RemoveJob(id)
		if err != nil {
			return fmt.Sprintf("Error removing job: %v", err), nil
		}
		if !removed {
			return fmt.Sprintf("No job with id %s", id), nil
		}
		return fmt.Sprintf("Removed job %s", id), nil

	default:
		return "Error: action must be one of add, list, remove", nil
	}
}
