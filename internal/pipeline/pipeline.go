// Package pipeline orchestrates one inbound message end to end:
// rate limit, command dispatch, auth, context load, summarization,
// prompt assembly, the tool-use loop, persistence, and the reply.
// It also consumes scheduler triggers and webhook events, turning them
// into synthetic operator-level messages unless the pause manager says
// otherwise.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/commands"
	"github.com/shannonlabs/shannon/internal/contextstore"
	"github.com/shannonlabs/shannon/internal/executor"
	"github.com/shannonlabs/shannon/internal/memory"
	"github.com/shannonlabs/shannon/internal/pause"
	"github.com/shannonlabs/shannon/internal/prompt"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
	"github.com/shannonlabs/shannon/internal/tracing"
	"github.com/shannonlabs/shannon/internal/webhooks"
)

// memoryExportTokens bounds the memory block injected into the prompt.
const memoryExportTokens = 2000

// requestTimeout caps one full turn, tool loop included.
const defaultRequestTimeout = 120 * time.Second

// Handler is the message pipeline. Wire it to the bus with Attach.
type Handler struct {
	auth      *auth.Manager
	store     *contextstore.Store
	memory    *memory.Store
	registry  *tools.Registry
	exec      *executor.Executor
	commands  *commands.Handler
	pauser    *pause.Manager
	bus       *bus.Bus
	llm       providers.Provider
	threshold float64
	timeout   time.Duration
	dryRun    bool
}

// Options collects the pipeline's collaborators.
type Options struct {
	Auth     *auth.Manager
	Store    *contextstore.Store
	Memory   *memory.Store
	Registry *tools.Registry
	Executor *executor.Executor
	Commands *commands.Handler
	Pauser   *pause.Manager
	Bus      *bus.Bus
	LLM      providers.Provider

	// SummarizeThreshold is the fraction of the provider context window
	// at which history gets compacted. Zero disables.
	SummarizeThreshold float64
	// RequestTimeout caps a single turn. Zero means 120s.
	RequestTimeout time.Duration
	// DryRun short-circuits the LLM call with a stub reply.
	DryRun bool
}

// New builds the pipeline.
func New(opts Options) *Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Handler{
		auth:      opts.Auth,
		store:     opts.Store,
		memory:    opts.Memory,
		registry:  opts.Registry,
		exec:      opts.Executor,
		commands:  opts.Commands,
		pauser:    opts.Pauser,
		bus:       opts.Bus,
		llm:       opts.LLM,
		threshold: opts.SummarizeThreshold,
		timeout:   timeout,
		dryRun:    opts.DryRun,
	}
}

// SetCommands installs the command handler. Separate from New because
// the handler's reply path is usually this pipeline's SendFunc.
func (h *Handler) SetCommands(c *commands.Handler) {
	h.commands = c
}

// Attach subscribes the pipeline's consumers on the bus.
func (h *Handler) Attach() {
	h.bus.Subscribe(bus.EventMessageIncoming, "pipeline", h.HandleIncoming)
	h.bus.Subscribe(bus.EventSchedulerTrigger, "pipeline-triggers", h.HandleTrigger)
	h.bus.Subscribe(bus.EventWebhookReceived, "pipeline-webhooks", h.HandleWebhook)
}

// HandleIncoming runs the full pipeline for one inbound message.
func (h *Handler) HandleIncoming(e bus.Event) error {
	msg := e.Message
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.handle(ctx, *msg, nil)
}

// handle runs the pipeline. A non-nil levelOverride bypasses the auth
// lookup; the scheduler and webhook consumers use it to run their
// synthetic senders at operator level without polluting the auth lists.
func (h *Handler) handle(ctx context.Context, msg bus.IncomingMessage, levelOverride *auth.PermissionLevel) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.handle",
		attribute.String("platform", msg.Platform),
		attribute.String("channel", msg.Channel))
	defer span.End()

	userName := msg.UserName
	if userName == "" {
		userName = msg.UserID
	}
	slog.Info("message received",
		"platform", msg.Platform, "user", userName, "channel", msg.Channel)

	if !h.auth.Allow(msg.Platform, msg.UserID) {
		h.send(msg.Platform, msg.Channel, "You're sending messages too quickly. Please slow down.", "")
		return nil
	}

	if commands.IsCommand(msg.Content) {
		h.commands.Handle(ctx, msg.Platform, msg.Channel, msg.UserID, msg.Content)
		return nil
	}

	level := h.auth.Level(msg.Platform, msg.UserID)
	if levelOverride != nil {
		level = *levelOverride
	}

	// The user turn is persisted before anything can fail downstream;
	// a persistence failure aborts the turn instead.
	if err := h.store.Append(msg.Platform, msg.Channel, msg.UserID, "user",
		msg.Content, h.llm.CountTokens(msg.Content)); err != nil {
		slog.Error("context append failed", "error", err)
		return err
	}

	if h.dryRun {
		h.send(msg.Platform, msg.Channel,
			"[dry-run] Would process: "+truncate(msg.Content, 100), msg.MessageID)
		return nil
	}

	available := h.registry.ForLevel(level)
	memoryExport := ""
	var err error
	if h.memory != nil {
		memoryExport, err = h.memory.ExportContext(memoryExportTokens)
		if err != nil {
			slog.Error("memory export failed", "error", err)
			return err
		}
	}
	system := prompt.Build(available, memoryExport)

	// The trigger is the projected prompt (system block + stored
	// context), not the stored context alone.
	h.maybeSummarize(ctx, msg.Platform, msg.Channel, h.llm.CountTokens(system))

	history, err := h.store.Recent(msg.Platform, msg.Channel)
	if err != nil {
		slog.Error("context load failed", "error", err)
		return err
	}

	resp, err := h.exec.Run(ctx, executor.Request{
		System:   system,
		Messages: history,
		Level:    level,
	})
	if err != nil {
		slog.Error("llm turn failed", "error", err)
		// The user turn stays persisted so a retry has full context.
		h.send(msg.Platform, msg.Channel,
			"Sorry, I hit a problem processing that. Please try again.", msg.MessageID)
		return nil
	}
	if resp.Content == "" {
		return nil
	}

	if err := h.store.Append(msg.Platform, msg.Channel, "", "assistant",
		resp.Content, h.llm.CountTokens(resp.Content)); err != nil {
		slog.Error("context append failed", "error", err)
		return err
	}
	h.send(msg.Platform, msg.Channel, resp.Content, msg.MessageID)
	return nil
}

// maybeSummarize compacts history once the projected prompt (fixed
// overhead plus stored context tokens) passes the configured fraction
// of the provider's context window.
func (h *Handler) maybeSummarize(ctx context.Context, platform, channel string, overhead int) {
	if h.threshold <= 0 {
		return
	}
	total, err := h.store.TotalTokens(platform, channel)
	if err != nil {
		slog.Error("token count failed", "error", err)
		return
	}
	budget := int(h.threshold * float64(h.llm.ContextWindow()))
	if total+overhead <= budget {
		return
	}
	if _, err := h.store.Summarize(ctx, platform, channel, h.llm); err != nil {
		slog.Error("summarization failed", "error", err)
	}
}

// HandleTrigger turns a fired cron job into a synthetic operator
// message. Firings during a pause are dropped, not queued: cron jobs
// recur, so a missed firing is superseded by the next one.
func (h *Handler) HandleTrigger(e bus.Event) error {
	trig := e.Trigger
	if trig == nil {
		return nil
	}
	if h.pauser != nil && h.pauser.IsPaused() {
		slog.Info("trigger skipped while paused", "job", trig.JobName)
		return nil
	}
	platform, channel, ok := splitChannel(trig.Channel)
	if !ok {
		slog.Warn("trigger has no delivery channel", "job", trig.JobName)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	operator := auth.LevelOperator
	return h.handle(ctx, bus.IncomingMessage{
		Platform:  platform,
		Channel:   channel,
		UserID:    "scheduler",
		UserName:  "scheduler",
		Content:   fmt.Sprintf("[Scheduled task '%s'] %s", trig.JobName, trig.Action),
		Timestamp: time.Now().UTC(),
	}, &operator)
}

// HandleWebhook renders the endpoint's prompt template and injects the
// result as a synthetic operator message, or queues it while paused.
func (h *Handler) HandleWebhook(e bus.Event) error {
	wh := e.Webhook
	if wh == nil {
		return nil
	}
	if h.pauser != nil && h.pauser.IsPaused() {
		slog.Info("webhook suppressed while paused",
			"source", wh.Event.Source, "event_type", wh.Event.EventType)
		h.pauser.QueueEvent(e)
		return nil
	}
	platform, channel, ok := splitChannel(wh.Event.ChannelTarget)
	if !ok {
		slog.Warn("webhook has no delivery channel", "source", wh.Event.Source)
		return nil
	}
	content := webhooks.FormatPrompt(wh.PromptTemplate, wh.Event)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	operator := auth.LevelOperator
	return h.handle(ctx, bus.IncomingMessage{
		Platform:  platform,
		Channel:   channel,
		UserID:    "webhook:" + wh.Event.Source,
		UserName:  "webhook",
		Content:   content,
		Timestamp: time.Now().UTC(),
	}, &operator)
}

// ReportMissed drains events queued during a pause and posts one
// digest per delivery channel instead of replaying them. Stale webhook
// prompts run through the LLM long after the fact would act on old
// state; a summary tells the operator what happened without acting.
func (h *Handler) ReportMissed() {
	if h.pauser == nil {
		return
	}
	byTarget := make(map[string][]string)
	for _, e := range h.pauser.Drain() {
		if e.Type != bus.EventWebhookReceived || e.Webhook == nil {
			continue
		}
		ev := e.Webhook.Event
		byTarget[ev.ChannelTarget] = append(byTarget[ev.ChannelTarget],
			fmt.Sprintf("%s %s: %s", ev.Source, ev.EventType, ev.Summary))
	}
	for target, lines := range byTarget {
		platform, channel, ok := splitChannel(target)
		if !ok {
			continue
		}
		digest := fmt.Sprintf("While paused, I missed %d event(s):", len(lines))
		for _, line := range lines {
			digest += "\n- " + line
		}
		h.send(platform, channel, digest, "")
	}
}

func (h *Handler) send(platform, channel, content, replyTo string) {
	h.bus.Publish(bus.NewOutgoing(bus.OutgoingMessage{
		Platform: platform,
		Channel:  channel,
		Content:  content,
		ReplyTo:  replyTo,
	}))
}

// SendFunc adapts the pipeline's reply path for collaborators that
// publish directly (command handler, planner progress).
func (h *Handler) SendFunc() func(platform, channel, content string) {
	return func(platform, channel, content string) {
		h.send(platform, channel, content, "")
	}
}

func splitChannel(target string) (platform, channel string, ok bool) {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return target[:i], target[i+1:], i > 0 && i < len(target)-1
		}
	}
	return "", "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
