package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/shannonlabs/shannon/internal/auth"
)

// JobStore is the slice of the scheduler the schedule tool needs.
type JobStore interface {
	AddJob(name, cronExpr, action, channel string) (int64, error)
	RemoveJob(name string) (bool, error)
	JobSummaries() ([]string, error)
}

// ScheduleTool lets the LLM manage cron jobs.
type ScheduleTool struct {
	BaseTool
	jobs JobStore
}

func NewScheduleTool(jobs JobStore) *ScheduleTool {
	return &ScheduleTool{jobs: jobs}
}

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Description() string {
	return "Manage scheduled jobs: add a cron job, remove one by name, or list all jobs."
}

func (t *ScheduleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "remove", "list"},
				"description": "The operation to perform.",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Job name (unique).",
			},
			"cron": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression, e.g. '0 9 * * *'.",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"description": "The instruction to run when the job fires.",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Delivery target as 'platform:channel'.",
			},
		},
		"required": []string{"operation"},
	}
}

func (t *ScheduleTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *ScheduleTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	switch op := argString(args, "operation"); op {
	case "add":
		name := argString(args, "name")
		cron := argString(args, "cron")
		action := argString(args, "action")
		if name == "" || cron == "" || action == "" {
			return Errf("add requires name, cron, and action")
		}
		id, err := t.jobs.AddJob(name, cron, action, argString(args, "channel"))
		if err != nil {
			return Errf("%v", err)
		}
		return Okf("Scheduled job %q (id %d) with cron %q", name, id, cron)

	case "remove":
		name := argString(args, "name")
		if name == "" {
			return Errf("remove requires name")
		}
		removed, err := t.jobs.RemoveJob(name)
		if err != nil {
			return Errf("%v", err)
		}
		if !removed {
			return Errf("no job named %q", name)
		}
		return Okf("Removed job %q", name)

	case "list":
		summaries, err := t.jobs.JobSummaries()
		if err != nil {
			return Errf("%v", err)
		}
		if len(summaries) == 0 {
			return Ok("No scheduled jobs.")
		}
		return Ok(fmt.Sprintf("Scheduled jobs:\n%s", strings.Join(summaries, "\n")))

	default:
		return Errf("unknown operation: %s", op)
	}
}
