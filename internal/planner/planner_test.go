package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
)

// scriptedLLM returns canned responses in order, then repeats the last.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (s *scriptedLLM) Complete(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &providers.ChatResponse{Content: resp, FinishReason: "stop"}, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Complete(ctx, req)
}
func (s *scriptedLLM) CountTokens(text string) int { return len(text) / 4 }
func (s *scriptedLLM) ContextWindow() int          { return 100000 }
func (s *scriptedLLM) Name() string                { return "scripted" }
func (s *scriptedLLM) Close() error                { return nil }

// countingTool fails failCount times, then succeeds.
type countingTool struct {
	tools.BaseTool
	mu        sync.Mutex
	calls     int
	failCount int
}

func (c *countingTool) Name() string        { return "probe" }
func (c *countingTool) Description() string { return "probes things" }
func (c *countingTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (c *countingTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }
func (c *countingTool) Execute(_ context.Context, args map[string]any) *tools.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failCount {
		return tools.Errf("probe offline")
	}
	return tools.Ok(fmt.Sprintf("probe ok (call %d)", c.calls))
}

func openEngine(t *testing.T, llm providers.Provider, tool tools.Tool) *Engine {
	t.Helper()
	reg := tools.NewRegistry()
	if tool != nil {
		reg.Register(tool)
	}
	e, err := Open(filepath.Join(t.TempDir(), "plans.db"), llm, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenEnablesWAL(t *testing.T) {
	e := openEngine(t, &scriptedLLM{responses: []string{"{}"}}, nil)
	var mode string
	if err := e.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		tool    string
	}{
		{
			name:    "plain json",
			content: `{"steps":[{"description":"look","tool":null},{"description":"probe it","tool":"probe","parameters":{"x":"1"}}]}`,
			want:    2,
			tool:    "probe",
		},
		{
			name:    "fenced json",
			content: "```json\n{\"steps\":[{\"description\":\"look\",\"tool\":\"null\"}]}\n```",
			want:    1,
		},
		{
			name:    "garbage collapses to direct execution",
			content: "sure, here is a plan!",
			want:    1,
		},
		{
			name:    "tool step without parameters is rejected",
			content: `{"steps":[{"description":"rm -rf","tool":"shell"},{"description":"think","tool":null}]}`,
			want:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := parseSteps(tt.content)
			if len(steps) != tt.want {
				t.Fatalf("steps = %d, want %d: %+v", len(steps), tt.want, steps)
			}
			if tt.tool != "" && steps[len(steps)-1].Tool != tt.tool {
				t.Errorf("tool = %q, want %q", steps[len(steps)-1].Tool, tt.tool)
			}
			for i, s := range steps {
				if s.ID != i+1 {
					t.Errorf("step %d has id %d", i, s.ID)
				}
			}
		})
	}
}

func TestParseStepsCapsAtMax(t *testing.T) {
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, fmt.Sprintf(`{"description":"step %d","tool":null}`, i))
	}
	steps := parseSteps(`{"steps":[` + strings.Join(items, ",") + `]}`)
	if len(steps) != MaxSteps {
		t.Errorf("steps = %d, want %d", len(steps), MaxSteps)
	}
}

func TestCreateAndLoadPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}}]}`,
	}}
	e := openEngine(t, llm, &countingTool{})

	plan, err := e.CreatePlan(context.Background(), "check the probe", "discord:42", "")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "planning" || len(plan.Steps) != 1 {
		t.Fatalf("plan = %+v", plan)
	}
	if !strings.Contains(llm.prompts[0], "probe") {
		t.Error("tool names not offered to the LLM")
	}

	loaded, err := e.LoadPlan(plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.Goal != "check the probe" || len(loaded.Steps) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}

	missing, err := e.LoadPlan("nope")
	if err != nil || missing != nil {
		t.Errorf("missing plan = %+v, %v", missing, err)
	}
}

func TestExecutePlanSuccess(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}},{"description":"conclude","tool":null}]}`,
		"all systems nominal",
	}}
	tool := &countingTool{}
	e := openEngine(t, llm, tool)

	plan, err := e.CreatePlan(context.Background(), "inspect", "", "")
	if err != nil {
		t.Fatal(err)
	}
	plan, err = e.ExecutePlan(context.Background(), plan, auth.LevelOperator)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "completed" {
		t.Errorf("status = %q", plan.Status)
	}
	if plan.Steps[0].Status != "done" || !strings.Contains(plan.Steps[0].Result, "probe ok") {
		t.Errorf("tool step = %+v", plan.Steps[0])
	}
	if plan.Steps[1].Status != "done" || plan.Steps[1].Result != "all systems nominal" {
		t.Errorf("reasoning step = %+v", plan.Steps[1])
	}
}

func TestExecutePlanRetryThenSuccess(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}}]}`,
		`{"action": "retry"}`,
	}}
	tool := &countingTool{failCount: 1}
	e := openEngine(t, llm, tool)

	plan, _ := e.CreatePlan(context.Background(), "inspect", "", "")
	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelOperator)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "completed" || plan.Steps[0].Status != "done" {
		t.Errorf("plan = %+v step = %+v", plan.Status, plan.Steps[0])
	}
	if tool.calls != 2 {
		t.Errorf("tool calls = %d, want 2", tool.calls)
	}
}

func TestExecutePlanAbort(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}},{"description":"never reached","tool":null}]}`,
		`{"action": "abort"}`,
	}}
	e := openEngine(t, llm, &countingTool{failCount: 99})

	plan, _ := e.CreatePlan(context.Background(), "inspect", "", "")
	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelOperator)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "failed" {
		t.Errorf("status = %q", plan.Status)
	}
	if plan.Steps[1].Status != "pending" {
		t.Errorf("later step ran after abort: %+v", plan.Steps[1])
	}
}

func TestExecutePlanSkipOnAdjudicationGarbage(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}},{"description":"conclude","tool":null}]}`,
		`hmm, tough call`,
		"done thinking",
	}}
	e := openEngine(t, llm, &countingTool{failCount: 99})

	plan, _ := e.CreatePlan(context.Background(), "inspect", "", "")
	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelOperator)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "completed" {
		t.Errorf("status = %q", plan.Status)
	}
	if plan.Steps[0].Status != "skipped" {
		t.Errorf("failed step = %+v, want skipped", plan.Steps[0])
	}
}

func TestExecutePlanPermissionDenied(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}}]}`,
		`{"action": "skip"}`,
	}}
	tool := &countingTool{}
	e := openEngine(t, llm, tool)

	plan, _ := e.CreatePlan(context.Background(), "inspect", "", "")
	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelPublic)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Steps[0].Status != "skipped" {
		t.Errorf("step = %+v", plan.Steps[0])
	}
	if tool.calls != 0 {
		t.Error("tool executed despite permission gate")
	}
}

// recordingRunner stands in for the engine behind the plan tool.
type recordingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRunner) RunPlan(context.Context, string, auth.PermissionLevel) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "nested", true, nil
}

func TestPlanToolNeverReachesPlans(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"recurse","tool":"plan","parameters":{"goal":"nested goal"}},{"description":"probe it","tool":"probe","parameters":{}}]}`,
	}}
	tool := &countingTool{}
	e := openEngine(t, llm, tool)
	runner := &recordingRunner{}
	e.registry.Register(tools.NewPlanTool(runner))

	plan, err := e.CreatePlan(context.Background(), "inspect", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(llm.prompts[0], "Available tools: probe\n") {
		t.Errorf("decomposition prompt offers the plan tool: %q", llm.prompts[0])
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Tool != "probe" {
		t.Fatalf("steps = %+v, want the self-referential step dropped", plan.Steps)
	}

	// A persisted plan naming the tool anyway is skipped, never run.
	stale := &Plan{
		ID:      "stale0000001",
		Goal:    "recurse",
		Status:  "planning",
		Steps:   []*Step{{ID: 1, Description: "recurse", Tool: "plan", Parameters: map[string]any{"goal": "g"}, Status: "pending"}},
		Channel: "",
	}
	stale, err = e.ExecutePlan(context.Background(), stale, auth.LevelAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Steps[0].Status != "skipped" || stale.Steps[0].Error == "" {
		t.Errorf("step = %+v, want skipped with an error", stale.Steps[0])
	}
	if runner.calls != 0 {
		t.Errorf("nested plan ran %d time(s)", runner.calls)
	}
	if tool.calls != 0 {
		t.Errorf("probe ran %d time(s) for the stale plan", tool.calls)
	}
}

func TestRunPlanReport(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"description":"probe it","tool":"probe","parameters":{}}]}`,
	}}
	e := openEngine(t, llm, &countingTool{})

	report, completed, err := e.RunPlan(context.Background(), "inspect", auth.LevelOperator)
	if err != nil {
		t.Fatal(err)
	}
	if !completed {
		t.Error("plan did not complete")
	}
	if !strings.Contains(report, "[done] probe it") || !strings.Contains(report, "probe ok") {
		t.Errorf("report = %q", report)
	}
}
