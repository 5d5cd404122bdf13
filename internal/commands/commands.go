// Package commands dispatches slash commands (/forget, /context,
// /summarize, /jobs, /sudo, /memory, /pause, /resume, /status, /help).
// Each command carries its own permission gate; denials reply with a
// short explanation and never fall through to the LLM.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/contextstore"
	"github.com/shannonlabs/shannon/internal/memory"
	"github.com/shannonlabs/shannon/internal/pause"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
)

// memoryExportTokens bounds the /memory dump.
const memoryExportTokens = 2000

const helpText = "**Commands:** /forget, /context, /summarize, /jobs, /sudo, /memory, /pause, /resume, /status, /help"

// SendFunc delivers a reply on the originating channel.
type SendFunc func(platform, channel, content string)

// Handler routes slash commands to the stores and managers behind them.
type Handler struct {
	auth    *auth.Manager
	context *contextstore.Store
	memory  *memory.Store
	pauser  *pause.Manager
	jobs    tools.JobStore
	llm     providers.Provider
	send    SendFunc
}

// NewHandler wires the dispatcher. memory, pauser and jobs may be nil;
// their commands then report "not configured".
func NewHandler(
	authMgr *auth.Manager,
	ctxStore *contextstore.Store,
	memStore *memory.Store,
	pauser *pause.Manager,
	jobs tools.JobStore,
	llm providers.Provider,
	send SendFunc,
) *Handler {
	return &Handler{
		auth:    authMgr,
		context: ctxStore,
		memory:  memStore,
		pauser:  pauser,
		jobs:    jobs,
		llm:     llm,
		send:    send,
	}
}

// IsCommand reports whether content should be routed here.
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

// Handle dispatches one slash command and replies on the originating
// channel. Unknown commands get a short notice.
func (h *Handler) Handle(ctx context.Context, platform, channel, userID, content string) {
	parts := strings.SplitN(strings.TrimSpace(content), " ", 2)
	command := strings.ToLower(parts[0])
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	slog.Info("command", "command", command, "platform", platform, "user", userID)

	switch command {
	case "/help":
		h.send(platform, channel, helpText)

	case "/forget":
		if !h.auth.Check(platform, userID, auth.LevelOperator) {
			h.send(platform, channel, "Operator access required.")
			return
		}
		count, err := h.context.Forget(platform, channel)
		if err != nil {
			h.send(platform, channel, "Failed to clear context.")
			slog.Error("forget failed", "error", err)
			return
		}
		h.send(platform, channel, fmt.Sprintf("Cleared %d messages from context.", count))

	case "/context":
		count, chars, err := h.context.Stats(platform, channel)
		if err != nil {
			h.send(platform, channel, "Failed to read context stats.")
			slog.Error("context stats failed", "error", err)
			return
		}
		h.send(platform, channel, fmt.Sprintf("Context: %d messages, %d chars", count, chars))

	case "/summarize":
		summary, err := h.context.Summarize(ctx, platform, channel, h.llm)
		if err != nil {
			h.send(platform, channel, "Summarization failed.")
			slog.Error("summarize failed", "error", err)
			return
		}
		if summary == "" {
			h.send(platform, channel, "No context to summarize.")
			return
		}
		h.send(platform, channel, "**Summary:**\n"+summary)

	case "/jobs":
		h.handleJobs(platform, channel, userID)

	case "/sudo":
		h.handleSudo(platform, channel, userID, args)

	case "/memory":
		h.handleMemory(platform, channel, userID, args)

	case "/pause":
		h.handlePause(platform, channel, userID, args)

	case "/resume":
		h.handleResume(platform, channel, userID)

	case "/status":
		h.handleStatus(platform, channel)

	default:
		h.send(platform, channel, "Unknown command: "+command)
	}
}

func (h *Handler) handleJobs(platform, channel, userID string) {
	if !h.auth.Check(platform, userID, auth.LevelTrusted) {
		h.send(platform, channel, "Trusted access required.")
		return
	}
	if h.jobs == nil {
		h.send(platform, channel, "Scheduler not configured.")
		return
	}
	summaries, err := h.jobs.JobSummaries()
	if err != nil {
		h.send(platform, channel, "Failed to list jobs.")
		slog.Error("list jobs failed", "error", err)
		return
	}
	if len(summaries) == 0 {
		h.send(platform, channel, "No scheduled jobs.")
		return
	}
	h.send(platform, channel, strings.Join(summaries, "\n"))
}

func (h *Handler) handleSudo(platform, channel, userID, args string) {
	switch {
	case args == "":
		// Bare /sudo lists pending requests; that view is admin-only.
		if !h.auth.Check(platform, userID, auth.LevelAdmin) {
			h.send(platform, channel, "Admin access required to view sudo requests.")
			return
		}
		pending := h.auth.PendingSudo()
		if len(pending) == 0 {
			h.send(platform, channel, "No pending sudo requests.")
			return
		}
		lines := make([]string, 0, len(pending)+1)
		lines = append(lines, "**Pending sudo requests:**")
		for _, p := range pending {
			lines = append(lines, fmt.Sprintf("`%s` — %s:%s → %s — %s",
				p.ID, p.Platform, p.UserID, p.RequestedLevel, p.Action))
		}
		h.send(platform, channel, strings.Join(lines, "\n"))

	case strings.HasPrefix(args, "approve "):
		requestID := strings.Fields(args)[1]
		if h.auth.ApproveSudo(requestID, platform, userID) {
			h.send(platform, channel, fmt.Sprintf("Sudo request `%s` approved.", requestID))
		} else {
			h.send(platform, channel, "Failed to approve. Check request ID and your permissions.")
		}

	case strings.HasPrefix(args, "deny "):
		requestID := strings.Fields(args)[1]
		if h.auth.DenySudo(requestID) {
			h.send(platform, channel, fmt.Sprintf("Sudo request `%s` denied.", requestID))
		} else {
			h.send(platform, channel, fmt.Sprintf("Request `%s` not found.", requestID))
		}

	default:
		// /sudo <level> [reason] or /sudo <free-form action>.
		requested := auth.LevelOperator
		action := args
		fields := strings.Fields(args)
		if lvl, ok := auth.ParseLevel(fields[0]); ok {
			requested = lvl
			action = strings.TrimSpace(strings.TrimPrefix(args, fields[0]))
			if action == "" {
				action = "elevate to " + lvl.String()
			}
		}
		requestID := h.auth.RequestSudo(platform, userID, action, requested)
		h.send(platform, channel, fmt.Sprintf(
			"Sudo requested (`%s`). An admin must approve with `/sudo approve %s`.",
			requestID, requestID))
	}
}

func (h *Handler) handleMemory(platform, channel, userID, args string) {
	if h.memory == nil {
		h.send(platform, channel, "Memory store not configured.")
		return
	}

	switch {
	case strings.HasPrefix(args, "search "):
		query := strings.TrimSpace(strings.TrimPrefix(args, "search "))
		results, err := h.memory.Search(query)
		if err != nil {
			h.send(platform, channel, "Memory search failed.")
			slog.Error("memory search failed", "error", err)
			return
		}
		if len(results) == 0 {
			h.send(platform, channel, fmt.Sprintf("No memories matching '%s'.", query))
			return
		}
		if len(results) > 20 {
			results = results[:20]
		}
		lines := make([]string, 0, len(results))
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("**%s**: %s (%s)", r.Key, r.Value, r.Category))
		}
		h.send(platform, channel, strings.Join(lines, "\n"))

	case args == "clear":
		if !h.auth.Check(platform, userID, auth.LevelAdmin) {
			h.send(platform, channel, "Admin access required to clear memory.")
			return
		}
		count, err := h.memory.Clear()
		if err != nil {
			h.send(platform, channel, "Failed to clear memory.")
			slog.Error("memory clear failed", "error", err)
			return
		}
		h.send(platform, channel, fmt.Sprintf("Cleared %d memories.", count))

	default:
		export, err := h.memory.ExportContext(memoryExportTokens)
		if err != nil {
			h.send(platform, channel, "Failed to export memory.")
			slog.Error("memory export failed", "error", err)
			return
		}
		if export == "" {
			h.send(platform, channel, "No memories stored.")
			return
		}
		h.send(platform, channel, "**Memories:**\n"+export)
	}
}

func (h *Handler) handlePause(platform, channel, userID, args string) {
	if !h.auth.Check(platform, userID, auth.LevelOperator) {
		h.send(platform, channel, "Operator access required.")
		return
	}
	if h.pauser == nil {
		h.send(platform, channel, "Pause manager not configured.")
		return
	}

	if args != "" {
		d, ok := pause.ParseDuration(args)
		if !ok {
			h.send(platform, channel, fmt.Sprintf("Unrecognized duration '%s'. Try /pause 30m.", args))
			return
		}
		h.pauser.Pause(d)
		h.send(platform, channel, fmt.Sprintf(
			"Paused for %s. I'll still respond if you message me directly.", args))
		return
	}
	h.pauser.Pause(0)
	h.send(platform, channel,
		"Paused indefinitely. Use /resume to resume. I'll still respond to direct messages.")
}

func (h *Handler) handleResume(platform, channel, userID string) {
	if !h.auth.Check(platform, userID, auth.LevelOperator) {
		h.send(platform, channel, "Operator access required.")
		return
	}
	if h.pauser == nil {
		h.send(platform, channel, "Pause manager not configured.")
		return
	}

	count := h.pauser.Resume()
	h.pauser.Drain()
	if count > 0 {
		h.send(platform, channel, fmt.Sprintf("Resumed. %d queued event(s) were missed.", count))
		return
	}
	h.send(platform, channel, "Resumed.")
}

func (h *Handler) handleStatus(platform, channel string) {
	if h.pauser != nil && h.pauser.IsPaused() {
		h.send(platform, channel, fmt.Sprintf(
			"Status: **Paused** | %d queued event(s)", h.pauser.QueuedCount()))
		return
	}
	h.send(platform, channel, "Status: **Active**")
}
