// Package executor runs the bounded LLM tool-use loop: call the model,
// execute any requested tools, feed results back, repeat until the
// model answers in plain text or the iteration limit is reached.
package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
	"github.com/shannonlabs/shannon/internal/tracing"
)

// MaxIterations bounds the LLM↔tool round trips per turn.
const MaxIterations = 10

// limitWarning is appended when the loop exhausts its iterations.
const limitWarning = "\n\n[warning: tool iteration limit reached]"

// Executor drives the tool-use loop against a provider and registry.
type Executor struct {
	provider providers.Provider
	registry *tools.Registry
	maxIters int
}

// New creates an executor with the default iteration bound.
func New(provider providers.Provider, registry *tools.Registry) *Executor {
	return &Executor{
		provider: provider,
		registry: registry,
		maxIters: MaxIterations,
	}
}

// Request is one turn to execute.
type Request struct {
	System   string
	Messages []providers.Message
	Level    auth.PermissionLevel
}

// Response is the final answer after tool use resolved.
type Response struct {
	Content    string
	Iterations int
	ToolsUsed  []string
	Usage      providers.Usage
}

// Run executes the turn. Tool failures are fed back to the model as
// error results rather than aborting; provider failures abort.
func (e *Executor) Run(ctx context.Context, req Request) (*Response, error) {
	messages := append([]providers.Message(nil), req.Messages...)
	defs := e.registry.Definitions(req.Level)

	resp := &Response{}
	var lastContent string

	for iteration := 1; iteration <= e.maxIters; iteration++ {
		resp.Iterations = iteration
		slog.Debug("executor iteration", "iteration", iteration, "messages", len(messages))

		llmStart := time.Now()
		chat, err := e.provider.Complete(ctx, providers.ChatRequest{
			System:   req.System,
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return nil, err
		}
		var promptTokens, completionTokens int
		if chat.Usage != nil {
			promptTokens = chat.Usage.PromptTokens
			completionTokens = chat.Usage.CompletionTokens
		}
		tracing.EmitLLMSpan(ctx, e.provider.Name(), llmStart, iteration, promptTokens, completionTokens)

		if chat.Usage != nil {
			resp.Usage.PromptTokens += chat.Usage.PromptTokens
			resp.Usage.CompletionTokens += chat.Usage.CompletionTokens
			resp.Usage.TotalTokens += chat.Usage.TotalTokens
		}
		lastContent = chat.Content

		if len(chat.ToolCalls) == 0 {
			resp.Content = chat.Content
			return resp, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   chat.Content,
			ToolCalls: chat.ToolCalls,
		})

		for _, r := range e.executeParallel(ctx, chat.ToolCalls, req.Level) {
			resp.ToolsUsed = append(resp.ToolsUsed, r.tc.Name)
			messages = append(messages, providers.Message{
				Role:       "tool",
				ToolCallID: r.tc.ID,
				Content:    r.result.ForLLM(),
			})
		}
	}

	slog.Warn("tool iteration limit reached", "iterations", e.maxIters)
	resp.Content = lastContent + limitWarning
	return resp, nil
}

type indexedResult struct {
	idx    int
	tc     providers.ToolCall
	result *tools.Result
}

// executeParallel runs all tool calls of one assistant turn
// concurrently and returns results in the original call order.
func (e *Executor) executeParallel(ctx context.Context, calls []providers.ToolCall, level auth.PermissionLevel) []indexedResult {
	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "tool", tc.Name, "args_len", len(argsJSON))
			spanStart := time.Now()
			result := e.registry.Execute(ctx, tc.Name, tc.Arguments, level)
			tracing.EmitToolSpan(ctx, tc.Name, tc.ID, spanStart, !result.Success)
			resultCh <- indexedResult{idx: idx, tc: tc, result: result}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedResult, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	return collected
}
