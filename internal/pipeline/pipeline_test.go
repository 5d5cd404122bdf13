package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/commands"
	"github.com/shannonlabs/shannon/internal/contextstore"
	"github.com/shannonlabs/shannon/internal/executor"
	"github.com/shannonlabs/shannon/internal/memory"
	"github.com/shannonlabs/shannon/internal/pause"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/tools"
)

type stubProvider struct {
	mu       sync.Mutex
	response string
	fail     bool
	requests []providers.ChatRequest
	window   int
}

func (s *stubProvider) Complete(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fail {
		return nil, errors.New("provider down")
	}
	return &providers.ChatResponse{Content: s.response, FinishReason: "stop"}, nil
}

func (s *stubProvider) Stream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Complete(ctx, req)
}
func (s *stubProvider) CountTokens(text string) int { return len(text) / 4 }
func (s *stubProvider) ContextWindow() int {
	if s.window > 0 {
		return s.window
	}
	return 100000
}
func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Close() error { return nil }

func (s *stubProvider) lastRequest(t *testing.T) providers.ChatRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no LLM request issued")
	}
	return s.requests[len(s.requests)-1]
}

type outbox struct {
	mu       sync.Mutex
	messages []bus.OutgoingMessage
}

func (o *outbox) wait(t *testing.T, n int) []bus.OutgoingMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		o.mu.Lock()
		if len(o.messages) >= n {
			out := append([]bus.OutgoingMessage(nil), o.messages...)
			o.mu.Unlock()
			return out
		}
		o.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("outbox has %d messages, want %d", len(o.messages), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fixture struct {
	handler  *Handler
	bus      *bus.Bus
	provider *stubProvider
	outbox   *outbox
	pauser   *pause.Manager
	store    *contextstore.Store
	auth     *auth.Manager
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := contextstore.Open(filepath.Join(dir, "context.db"), 50)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	memStore, err := memory.Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { memStore.Close() })

	provider := &stubProvider{response: "hello from shannon"}
	registry := tools.NewRegistry()
	authMgr := auth.NewManager(auth.Config{
		OperatorUsers: []string{"discord:op"},
		SudoTimeout:   time.Minute,
	})
	pauser := pause.NewManager()
	b := bus.New()

	ob := &outbox{}
	b.Subscribe(bus.EventMessageOutgoing, "outbox", func(e bus.Event) error {
		ob.mu.Lock()
		ob.messages = append(ob.messages, *e.Outgoing)
		ob.mu.Unlock()
		return nil
	})

	opts := Options{
		Auth:     authMgr,
		Store:    store,
		Memory:   memStore,
		Registry: registry,
		Executor: executor.New(provider, registry),
		Pauser:   pauser,
		Bus:      b,
		LLM:      provider,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h := New(opts)
	opts.Commands = commands.NewHandler(authMgr, store, memStore, pauser, nil, provider,
		func(platform, channel, content string) { h.send(platform, channel, content, "") })
	h.SetCommands(opts.Commands)

	h.Attach()
	b.Start()
	t.Cleanup(func() { b.Stop(context.Background()) })

	return &fixture{
		handler: h, bus: b, provider: provider, outbox: ob,
		pauser: pauser, store: store, auth: authMgr,
	}
}

func incoming(content string) bus.Event {
	return bus.NewIncoming(bus.IncomingMessage{
		Platform:  "discord",
		Channel:   "42",
		UserID:    "u1",
		UserName:  "vera",
		MessageID: "m1",
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func TestHappyPathReply(t *testing.T) {
	f := newFixture(t, nil)

	f.bus.Publish(incoming("hey shannon"))
	msgs := f.outbox.wait(t, 1)

	if msgs[0].Content != "hello from shannon" || msgs[0].ReplyTo != "m1" {
		t.Errorf("reply = %+v", msgs[0])
	}
	history, _ := f.store.Recent("discord", "42")
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history = %+v", history)
	}
	req := f.provider.lastRequest(t)
	if !strings.Contains(req.System, "You are Shannon") {
		t.Error("system prompt missing")
	}
}

func TestCommandBypassesLLM(t *testing.T) {
	f := newFixture(t, nil)

	f.bus.Publish(incoming("/help"))
	msgs := f.outbox.wait(t, 1)
	if !strings.Contains(msgs[0].Content, "/sudo") {
		t.Errorf("reply = %q", msgs[0].Content)
	}
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if len(f.provider.requests) != 0 {
		t.Error("slash command reached the LLM")
	}
}

func TestRateLimitShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	f.auth.Reload(auth.Config{RateLimitPerMinute: 1, SudoTimeout: time.Minute})

	f.bus.Publish(incoming("one"))
	f.bus.Publish(incoming("two"))
	msgs := f.outbox.wait(t, 2)

	var limited bool
	for _, m := range msgs {
		if strings.Contains(m.Content, "too quickly") {
			limited = true
		}
	}
	if !limited {
		t.Errorf("no rate-limit reply in %+v", msgs)
	}
}

func TestDryRunSkipsProvider(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DryRun = true })

	f.bus.Publish(incoming("do the thing"))
	msgs := f.outbox.wait(t, 1)
	if !strings.HasPrefix(msgs[0].Content, "[dry-run] Would process: do the thing") {
		t.Errorf("reply = %q", msgs[0].Content)
	}
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if len(f.provider.requests) != 0 {
		t.Error("dry run hit the provider")
	}
	history, _ := f.store.Recent("discord", "42")
	if len(history) != 1 {
		t.Errorf("user turn not persisted in dry run: %+v", history)
	}
}

func TestProviderFailureApologizesAndKeepsUserTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.fail = true

	f.bus.Publish(incoming("hello?"))
	msgs := f.outbox.wait(t, 1)
	if !strings.Contains(msgs[0].Content, "Sorry") {
		t.Errorf("reply = %q", msgs[0].Content)
	}
	history, _ := f.store.Recent("discord", "42")
	if len(history) != 1 || history[0].Content != "hello?" {
		t.Errorf("history = %+v", history)
	}
}

func TestMemoryExportInjected(t *testing.T) {
	f := newFixture(t, nil)
	f.handler.memory.Set("favorite_city", "Lisbon", "travel", "test")

	f.bus.Publish(incoming("where should I go?"))
	f.outbox.wait(t, 1)
	req := f.provider.lastRequest(t)
	if !strings.Contains(req.System, "Current Memory:") ||
		!strings.Contains(req.System, "favorite_city") {
		t.Errorf("memory export missing from system prompt")
	}
}

func TestTriggerBecomesSyntheticMessage(t *testing.T) {
	f := newFixture(t, nil)

	f.bus.Publish(bus.NewTrigger(bus.SchedulerTrigger{
		JobName: "digest", Action: "summarize my inbox", Channel: "discord:42",
	}))
	msgs := f.outbox.wait(t, 1)
	if msgs[0].Platform != "discord" || msgs[0].Channel != "42" {
		t.Errorf("reply target = %+v", msgs[0])
	}
	history, _ := f.store.Recent("discord", "42")
	if len(history) == 0 || !strings.Contains(history[0].Content, "[Scheduled task 'digest']") {
		t.Errorf("history = %+v", history)
	}
}

func TestWebhookUsesPromptTemplate(t *testing.T) {
	f := newFixture(t, nil)

	f.bus.Publish(bus.NewWebhook(bus.WebhookReceived{
		Event: bus.WebhookEvent{
			Source: "github", EventType: "push",
			Summary: "vera pushed 2 commit(s) to o/r/main", ChannelTarget: "discord:42",
		},
		PromptTemplate: "GitHub {event_type}: {summary}",
	}))
	f.outbox.wait(t, 1)
	history, _ := f.store.Recent("discord", "42")
	if len(history) == 0 || history[0].Content != "GitHub push: vera pushed 2 commit(s) to o/r/main" {
		t.Errorf("history = %+v", history)
	}
}

func TestPauseQueuesWebhooksAndSkipsTriggers(t *testing.T) {
	f := newFixture(t, nil)
	f.pauser.Pause(0)

	f.bus.Publish(bus.NewTrigger(bus.SchedulerTrigger{
		JobName: "digest", Action: "x", Channel: "discord:42",
	}))
	f.bus.Publish(bus.NewWebhook(bus.WebhookReceived{
		Event: bus.WebhookEvent{
			Source: "github", EventType: "push",
			Summary: "vera pushed 1 commit(s) to o/r/main", ChannelTarget: "discord:42",
		},
	}))

	deadline := time.After(2 * time.Second)
	for f.pauser.QueuedCount() < 1 {
		select {
		case <-deadline:
			t.Fatalf("queued = %d, want 1", f.pauser.QueuedCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.outbox.mu.Lock()
	n := len(f.outbox.messages)
	f.outbox.mu.Unlock()
	if n != 0 {
		t.Errorf("paused events still produced %d replies", n)
	}

	// Direct messages still flow while paused.
	f.bus.Publish(incoming("you there?"))
	f.outbox.wait(t, 1)

	f.pauser.Resume()
	f.handler.ReportMissed()
	msgs := f.outbox.wait(t, 2)
	digest := msgs[len(msgs)-1]
	if !strings.Contains(digest.Content, "While paused, I missed 1 event(s):") ||
		!strings.Contains(digest.Content, "github push: vera pushed 1 commit(s) to o/r/main") {
		t.Errorf("digest = %q", digest.Content)
	}
	if f.pauser.QueuedCount() != 0 {
		t.Error("queue not drained by report")
	}
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if len(f.provider.requests) != 1 {
		t.Errorf("missed events should not reach the LLM; got %d requests", len(f.provider.requests))
	}
}

func TestSummarizationTriggeredByBudget(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SummarizeThreshold = 0.7 })
	f.provider.window = 40 // budget: 28 tokens

	for i := 0; i < 6; i++ {
		f.store.Append("discord", "42", "u1", "user", strings.Repeat("x", 40), 10)
	}
	f.bus.Publish(incoming("and now?"))
	f.outbox.wait(t, 1)

	history, _ := f.store.Recent("discord", "42")
	if !strings.Contains(history[0].Content, "[Previous conversation summary:") {
		t.Errorf("no summary row in history: %+v", history[0])
	}
}
