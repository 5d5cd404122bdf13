// Package planner decomposes a goal into steps with an LLM, executes
// them against the tool registry, and adjudicates failures by asking
// the LLM whether to retry, skip or abort. Plans persist in SQLite
// with steps serialized inside the row.
package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY,
    goal TEXT NOT NULL,
    steps_json TEXT NOT NULL,
    status TEXT NOT NULL,
    channel TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

const createPlanPrompt = `Decompose the following goal into 2-8 concrete steps. Each step should be a single action. For steps that use a tool, specify the tool name and a "parameters" object with the tool's arguments. For reasoning/analysis steps, set tool to null.

Available tools: %s

Respond with ONLY a JSON object:
{"steps": [{"description": "...", "tool": "tool_name_or_null", "parameters": {...}}]}

Goal: %s

Context: %s`

const failurePrompt = `Step %d failed with error: %s

Current plan state:
%s

Should we retry this step, skip it, or abort the plan?
Respond with ONLY a JSON object: {"action": "retry" | "skip" | "abort"}`

const (
	// MaxSteps caps how many steps a plan may carry.
	MaxSteps = 8
	// MaxToolInvocations caps tool calls across a whole plan; further
	// tool steps are skipped.
	MaxToolInvocations = 15
)

// planToolName is never offered to the decomposition prompt and never
// executed from a step: a plan running the plan tool would nest plans,
// each with a fresh invocation cap.
const planToolName = "plan"

// Step is one unit of a plan. Tool steps carry the arguments to pass;
// reasoning steps leave Tool empty.
type Step struct {
	ID          int               `json:"id"`
	Description string            `json:"description"`
	Tool        string            `json:"tool,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Status      string            `json:"status"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Plan is a persisted goal decomposition.
type Plan struct {
	ID        string
	Goal      string
	Steps     []*Step
	Status    string // planning, executing, completed, failed
	Channel   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SendFunc posts a progress line on the plan's channel.
type SendFunc func(platform, channel, content string)

// Engine creates, runs and persists plans.
type Engine struct {
	llm      providers.Provider
	registry *tools.Registry
	db       *sql.DB
	send     SendFunc
}

// Open creates the engine and its database at dbPath. send may be nil
// to suppress progress messages.
func Open(dbPath string, llm providers.Provider, registry *tools.Registry, send SendFunc) (*Engine, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("planner: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("planner: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("planner: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("planner: init schema: %w", err)
	}
	return &Engine{llm: llm, registry: registry, db: db, send: send}, nil
}

// Close releases the database.
func (e *Engine) Close() error { return e.db.Close() }

// CreatePlan asks the LLM for a step decomposition of goal and persists
// the result. extra is optional caller-supplied context.
func (e *Engine) CreatePlan(ctx context.Context, goal, channel, extra string) (*Plan, error) {
	names := e.toolNames()
	if extra == "" {
		extra = "No additional context."
	}
	resp, err := e.llm.Complete(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(createPlanPrompt, names, goal, extra)},
		},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: create plan: %w", err)
	}

	now := time.Now().UTC()
	plan := &Plan{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Goal:      goal,
		Steps:     parseSteps(resp.Content),
		Status:    "planning",
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.savePlan(plan); err != nil {
		return nil, err
	}
	slog.Info("plan created", "plan", plan.ID, "steps", len(plan.Steps))
	return plan, nil
}

func (e *Engine) toolNames() string {
	defs := e.registry.Definitions(auth.LevelAdmin)
	if len(defs) == 0 {
		return "none"
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		if d.Name == planToolName {
			continue
		}
		names = append(names, d.Name)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// parseSteps decodes the LLM's step list. Tool steps without a
// parameters object are rejected so a prose description can never be
// executed as a command. Unparseable output collapses to a single
// direct-execution reasoning step.
func parseSteps(content string) []*Step {
	text := stripFences(content)

	var data struct {
		Steps []struct {
			Description string         `json:"description"`
			Tool        string         `json:"tool"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		slog.Warn("plan parse failed", "content", truncate(content, 200))
		return []*Step{{ID: 1, Description: "Execute the goal directly", Status: "pending"}}
	}

	var steps []*Step
	for _, raw := range data.Steps {
		if len(steps) == MaxSteps {
			break
		}
		tool := raw.Tool
		if tool == "null" {
			tool = ""
		}
		if tool == planToolName {
			slog.Warn("rejecting step that invokes the planner")
			continue
		}
		if tool != "" && raw.Parameters == nil {
			slog.Warn("rejecting tool step without parameters", "tool", tool)
			continue
		}
		desc := raw.Description
		if desc == "" {
			desc = fmt.Sprintf("Step %d", len(steps)+1)
		}
		steps = append(steps, &Step{
			ID:          len(steps) + 1,
			Description: desc,
			Tool:        tool,
			Parameters:  raw.Parameters,
			Status:      "pending",
		})
	}
	if len(steps) == 0 {
		return []*Step{{ID: 1, Description: "Execute the goal directly", Status: "pending"}}
	}
	return steps
}

func stripFences(content string) string {
	text := strings.TrimSpace(content)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	start += 3
	rest := text[start:]
	if strings.HasPrefix(rest, "json") {
		start += 4
		rest = text[start:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return text
	}
	return strings.TrimSpace(rest[:end])
}

// ExecutePlan runs the steps in order at the caller's permission level,
// emitting a progress line after each step. The returned plan status is
// "completed" unless an abort adjudication marked it "failed".
func (e *Engine) ExecutePlan(ctx context.Context, plan *Plan, level auth.PermissionLevel) (*Plan, error) {
	plan.Status = "executing"
	invocations := 0

steps:
	for _, step := range plan.Steps {
		// Loaded plans may carry steps the parser never saw.
		if step.Tool == planToolName {
			step.Status = "skipped"
			step.Error = "plans cannot invoke the plan tool"
			e.progress(plan, step)
			continue
		}
		if step.Tool != "" && invocations >= MaxToolInvocations {
			step.Status = "skipped"
			step.Error = "Tool invocation cap reached"
			continue
		}

		step.Status = "running"
		plan.UpdatedAt = time.Now().UTC()
		if err := e.savePlan(plan); err != nil {
			return plan, err
		}

		if step.Tool != "" {
			// Retry at most once per step.
			for attempt := 0; ; attempt++ {
				res := e.registry.Execute(ctx, step.Tool, step.Parameters, level)
				invocations++
				if res.Success {
					step.Status = "done"
					step.Result = res.Output
					break
				}
				step.Status = "failed"
				step.Error = res.Error

				action := e.adjudicate(ctx, plan, step)
				if action == "retry" && attempt == 0 && invocations < MaxToolInvocations {
					slog.Info("retrying step", "plan", plan.ID, "step", step.ID)
					continue
				}
				if action == "abort" {
					plan.Status = "failed"
					e.progress(plan, step)
					break steps
				}
				step.Status = "skipped"
				break
			}
		} else {
			reasoning := fmt.Sprintf("Plan goal: %s\nCurrent step: %s\nPrevious results: %s",
				plan.Goal, step.Description, summarizeResults(plan))
			resp, err := e.llm.Complete(ctx, providers.ChatRequest{
				Messages:    []providers.Message{{Role: "user", Content: reasoning}},
				MaxTokens:   512,
				Temperature: 0.5,
			})
			if err != nil {
				step.Status = "failed"
				step.Error = err.Error()
				if e.adjudicate(ctx, plan, step) == "abort" {
					plan.Status = "failed"
					e.progress(plan, step)
					break steps
				}
				step.Status = "skipped"
			} else {
				step.Status = "done"
				step.Result = resp.Content
			}
		}

		e.progress(plan, step)
	}

	if plan.Status != "failed" {
		plan.Status = "completed"
	}
	plan.UpdatedAt = time.Now().UTC()
	if err := e.savePlan(plan); err != nil {
		return plan, err
	}
	slog.Info("plan finished", "plan", plan.ID, "status", plan.Status)
	return plan, nil
}

// adjudicate asks the LLM how to handle a failed step. Parse failures
// and provider errors default to skip.
func (e *Engine) adjudicate(ctx context.Context, plan *Plan, step *Step) string {
	var state strings.Builder
	for _, s := range plan.Steps {
		fmt.Fprintf(&state, "  %d. [%s] %s\n", s.ID, s.Status, s.Description)
	}
	resp, err := e.llm.Complete(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(failurePrompt, step.ID, step.Error, state.String())},
		},
		MaxTokens:   64,
		Temperature: 0.1,
	})
	if err != nil {
		return "skip"
	}
	var data struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(stripFences(resp.Content))), &data); err != nil {
		return "skip"
	}
	switch data.Action {
	case "retry", "abort":
		return data.Action
	default:
		return "skip"
	}
}

func (e *Engine) progress(plan *Plan, step *Step) {
	if e.send == nil || plan.Channel == "" {
		return
	}
	platform, channel, ok := strings.Cut(plan.Channel, ":")
	if !ok {
		return
	}
	icon := "~"
	switch step.Status {
	case "done":
		icon = "+"
	case "failed":
		icon = "x"
	}
	e.send(platform, channel, fmt.Sprintf("Step %d/%d %s: %s [%s]",
		step.ID, len(plan.Steps), step.Status, step.Description, icon))
}

func summarizeResults(plan *Plan) string {
	var parts []string
	for _, s := range plan.Steps {
		if s.Status == "done" && s.Result != "" {
			parts = append(parts, fmt.Sprintf("Step %d: %s", s.ID, truncate(s.Result, 200)))
		}
	}
	if len(parts) == 0 {
		return "No results yet."
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RunPlan creates and executes a plan for goal, returning a one-line-
// per-step report. Satisfies the plan-runner surface the plan tool
// consumes.
func (e *Engine) RunPlan(ctx context.Context, goal string, level auth.PermissionLevel) (string, bool, error) {
	plan, err := e.CreatePlan(ctx, goal, "", "")
	if err != nil {
		return "", false, err
	}
	plan, err = e.ExecutePlan(ctx, plan, level)
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s (%s): %s\n", plan.ID, plan.Status, plan.Goal)
	for _, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s", s.ID, s.Status, s.Description)
		if s.Result != "" {
			fmt.Fprintf(&b, " -> %s", truncate(s.Result, 200))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), plan.Status == "completed", nil
}

// savePlan upserts the plan row with steps serialized as JSON.
func (e *Engine) savePlan(plan *Plan) error {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("planner: marshal steps: %w", err)
	}
	_, err = e.db.Exec(`
		INSERT INTO plans (id, goal, steps_json, status, channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET steps_json = ?, status = ?, updated_at = ?`,
		plan.ID, plan.Goal, string(stepsJSON), plan.Status, plan.Channel,
		plan.CreatedAt.Format(time.RFC3339Nano), plan.UpdatedAt.Format(time.RFC3339Nano),
		string(stepsJSON), plan.Status, plan.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("planner: save plan: %w", err)
	}
	return nil
}

// LoadPlan fetches a plan by id. Missing plans return (nil, nil).
func (e *Engine) LoadPlan(planID string) (*Plan, error) {
	row := e.db.QueryRow(`
		SELECT id, goal, steps_json, status, channel, created_at, updated_at
		FROM plans WHERE id = ?`, planID)

	var (
		plan      Plan
		stepsJSON string
		created   string
		updated   string
	)
	err := row.Scan(&plan.ID, &plan.Goal, &stepsJSON, &plan.Status, &plan.Channel, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("planner: load plan: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &plan.Steps); err != nil {
		return nil, fmt.Errorf("planner: decode steps: %w", err)
	}
	plan.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	plan.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &plan, nil
}
