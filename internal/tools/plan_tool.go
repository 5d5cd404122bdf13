package tools

import (
	"context"

	"github.com/shannonlabs/shannon/internal/auth"
)

// PlanRunner is the slice of the planner the plan tool needs. The plan
// tool is registered after the planner is built, so the planner's own
// tool set never includes it.
type PlanRunner interface {
	RunPlan(ctx context.Context, goal string, level auth.PermissionLevel) (report string, completed bool, err error)
}

// PlanTool decomposes a goal into steps and executes them.
type PlanTool struct {
	BaseTool
	runner PlanRunner
}

func NewPlanTool(runner PlanRunner) *PlanTool {
	return &PlanTool{runner: runner}
}

func (t *PlanTool) Name() string { return "plan" }

func (t *PlanTool) Description() string {
	return "Create and execute a multi-step plan for a complex goal. " +
		"Decomposes into steps, executes sequentially, reports progress."
}

func (t *PlanTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "The goal to accomplish.",
			},
		},
		"required": []string{"goal"},
	}
}

func (t *PlanTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *PlanTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	goal := argString(args, "goal")
	if goal == "" {
		return Errf("goal is required")
	}
	report, completed, err := t.runner.RunPlan(ctx, goal, auth.LevelOperator)
	if err != nil {
		return Errf("%v", err)
	}
	if !completed {
		return &Result{Success: false, Output: report, Error: "plan did not complete"}
	}
	return Ok(report)
}
