// Package pause gates Shannon's autonomous behaviors (scheduler
// triggers, webhook reactions). Direct messages are never paused.
package pause

import (
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/shannonlabs/shannon/internal/bus"
)

var durationRe = regexp.MustCompile(`(?i)^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDuration parses "2h", "30m", "1h30m" style strings. Returns
// false for empty or unrecognized input.
func ParseDuration(text string) (time.Duration, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	atoi := func(s string) int {
		if s == "" {
			return 0
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	d := time.Duration(atoi(m[1]))*time.Hour +
		time.Duration(atoi(m[2]))*time.Minute +
		time.Duration(atoi(m[3]))*time.Second
	return d, true
}

// Manager tracks the pause state and queues autonomous events that
// arrive while paused. Safe for concurrent use.
type Manager struct {
	mu           sync.Mutex
	paused       bool
	queued       []bus.Event
	resumeTimer  *time.Timer
	onAutoResume func()
}

// OnAutoResume registers a callback invoked after a timed pause
// expires on its own. Manual Resume calls do not trigger it; their
// caller already knows the pause ended.
func (m *Manager) OnAutoResume(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAutoResume = fn
}

// NewManager creates an unpaused manager.
func NewManager() *Manager {
	return &Manager{}
}

// IsPaused reports the current state.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Pause suspends autonomous behaviors. A positive duration schedules
// an automatic resume; zero pauses indefinitely.
func (m *Manager) Pause(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused = true
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	if d > 0 {
		m.resumeTimer = time.AfterFunc(d, func() {
			n := m.Resume()
			slog.Info("auto-resumed", "queued_events", n)
			m.mu.Lock()
			fn := m.onAutoResume
			m.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	}
	slog.Info("paused", "duration", d)
}

// Resume lifts the pause and cancels any pending auto-resume. Returns
// the number of queued events awaiting a drain.
func (m *Manager) Resume() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	m.paused = false
	n := len(m.queued)
	slog.Info("resumed", "queued_events", n)
	return n
}

// QueueEvent records an autonomous event suppressed by the pause.
func (m *Manager) QueueEvent(e bus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, e)
}

// QueuedCount returns the number of suppressed events.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// Drain returns and clears the queued events.
func (m *Manager) Drain() []bus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.queued
	m.queued = nil
	return events
}
