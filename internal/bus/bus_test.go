package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPublishDelivery(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 3)

	b.Subscribe(EventMessageIncoming, "recorder", func(e Event) error {
		mu.Lock()
		got = append(got, e.Message.Content)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	b.Start()

	for _, c := range []string{"one", "two", "three"} {
		b.Publish(NewIncoming(IncomingMessage{Platform: "discord", Channel: "42", Content: c}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("event %d = %q, want %q (order must match publication)", i, got[i], w)
		}
	}

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestTypeIsolation(t *testing.T) {
	b := New()

	incoming := make(chan Event, 1)
	outgoing := make(chan Event, 1)
	b.Subscribe(EventMessageIncoming, "in", func(e Event) error {
		incoming <- e
		return nil
	})
	b.Subscribe(EventMessageOutgoing, "out", func(e Event) error {
		outgoing <- e
		return nil
	})
	b.Start()
	defer b.Stop(context.Background())

	b.Publish(NewOutgoing(OutgoingMessage{Platform: "discord", Channel: "42", Content: "hi"}))

	select {
	case e := <-outgoing:
		if e.Outgoing == nil || e.Outgoing.Content != "hi" {
			t.Errorf("outgoing payload = %+v", e.Outgoing)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outgoing subscriber never fired")
	}
	select {
	case <-incoming:
		t.Error("incoming subscriber received an outgoing event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	b := NewWithQueueSize(2)

	release := make(chan struct{})
	var mu sync.Mutex
	handled := 0
	b.Subscribe(EventSchedulerTrigger, "slow", func(e Event) error {
		<-release
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})
	b.Start()

	// First publish is consumed by the worker and blocks; the next two
	// fill the queue; anything after that is dropped.
	for i := 0; i < 6; i++ {
		b.Publish(NewTrigger(SchedulerTrigger{JobName: "j"}))
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if handled > 3 {
		t.Errorf("handled %d events, want at most 3 (rest dropped)", handled)
	}
	if handled == 0 {
		t.Error("no events handled")
	}
}

func TestHandlerErrorDoesNotStopWorker(t *testing.T) {
	b := New()

	done := make(chan string, 2)
	b.Subscribe(EventWebhookReceived, "flaky", func(e Event) error {
		done <- e.Webhook.Event.EventType
		if e.Webhook.Event.EventType == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	b.Start()
	defer b.Stop(context.Background())

	b.Publish(NewWebhook(WebhookReceived{Event: WebhookEvent{Source: "generic", EventType: "bad"}}))
	b.Publish(NewWebhook(WebhookReceived{Event: WebhookEvent{Source: "generic", EventType: "good"}}))

	for _, want := range []string{"bad", "good"} {
		select {
		case got := <-done:
			if got != want {
				t.Errorf("handled %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("worker stopped before handling %q", want)
		}
	}
}

func TestPublishAfterStopIsNoop(t *testing.T) {
	b := New()
	b.Subscribe(EventMessageIncoming, "x", func(Event) error { return nil })
	b.Start()
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Must not panic on closed queue.
	b.Publish(NewIncoming(IncomingMessage{Content: "late"}))
}

func TestEventEnvelope(t *testing.T) {
	e := NewIncoming(IncomingMessage{Platform: "signal", Channel: "c", Content: "hello"})
	if e.Type != EventMessageIncoming {
		t.Errorf("Type = %q", e.Type)
	}
	if e.ID == "" {
		t.Error("ID is empty")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if e.Message == nil || e.Outgoing != nil || e.Trigger != nil || e.Webhook != nil {
		t.Error("exactly one payload pointer must be set")
	}
}
