package pause

import (
	"testing"
	"time"

	"github.com/shannonlabs/shannon/internal/bus"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"2h", 2 * time.Hour, true},
		{"30m", 30 * time.Minute, true},
		{"1h30m", 90 * time.Minute, true},
		{"45s", 45 * time.Second, true},
		{"1h2m3s", time.Hour + 2*time.Minute + 3*time.Second, true},
		{"", 0, false},
		{"banana", 0, false},
		{"h", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDuration(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPauseResumeQueue(t *testing.T) {
	m := NewManager()
	if m.IsPaused() {
		t.Fatal("new manager is paused")
	}

	m.Pause(0)
	if !m.IsPaused() {
		t.Fatal("not paused")
	}

	m.QueueEvent(bus.NewTrigger(bus.SchedulerTrigger{JobName: "a"}))
	m.QueueEvent(bus.NewTrigger(bus.SchedulerTrigger{JobName: "b"}))
	if m.QueuedCount() != 2 {
		t.Errorf("queued = %d", m.QueuedCount())
	}

	if n := m.Resume(); n != 2 {
		t.Errorf("Resume = %d, want 2", n)
	}
	if m.IsPaused() {
		t.Error("still paused after resume")
	}

	events := m.Drain()
	if len(events) != 2 || events[0].Trigger.JobName != "a" {
		t.Errorf("drained = %+v", events)
	}
	if m.QueuedCount() != 0 {
		t.Error("queue not cleared by drain")
	}
}

func TestAutoResume(t *testing.T) {
	m := NewManager()
	m.Pause(20 * time.Millisecond)
	if !m.IsPaused() {
		t.Fatal("not paused")
	}

	deadline := time.After(2 * time.Second)
	for m.IsPaused() {
		select {
		case <-deadline:
			t.Fatal("auto-resume never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAutoResumeCallback(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{})
	m.OnAutoResume(func() { close(fired) })

	m.Pause(10 * time.Millisecond)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-resume callback never fired")
	}

	// Manual resume must not trigger the callback.
	m.OnAutoResume(func() { t.Error("callback fired on manual resume") })
	m.Pause(time.Hour)
	m.Resume()
	time.Sleep(20 * time.Millisecond)
}

func TestResumeCancelsTimer(t *testing.T) {
	m := NewManager()
	m.Pause(10 * time.Millisecond)
	m.Resume()
	m.Pause(0) // indefinite

	time.Sleep(30 * time.Millisecond)
	if !m.IsPaused() {
		t.Error("stale auto-resume timer fired after re-pause")
	}
}
