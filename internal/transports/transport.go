// Package transports connects chat platforms to the bus: inbound
// messages become IncomingMessage events, outbound events are chunked
// to the platform's limit and delivered.
package transports

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shannonlabs/shannon/internal/bus"
)

// DefaultMessageLimit applies when a transport doesn't declare one.
const DefaultMessageLimit = 2000

// Transport is one chat platform connection.
type Transport interface {
	// Platform is the routing key matched against OutgoingMessage.Platform.
	Platform() string
	// MessageLimit is the platform's per-message display-width cap.
	MessageLimit() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Send delivers one pre-chunked piece of content.
	Send(channel, content, replyTo string) error
}

// Manager owns the registered transports and routes outgoing events to
// them, chunking at egress so no producer needs to know platform limits.
type Manager struct {
	mu         sync.Mutex
	transports map[string]Transport
}

// NewManager subscribes an empty manager to outgoing events.
func NewManager(b *bus.Bus) *Manager {
	m := &Manager{transports: make(map[string]Transport)}
	b.Subscribe(bus.EventMessageOutgoing, "transports", m.handleOutgoing)
	return m
}

// Register adds a transport. Later registrations for the same platform
// replace earlier ones.
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Platform()] = t
}

// StartAll starts every registered transport concurrently; on any
// failure the ones that did start are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var g errgroup.Group
	for _, t := range m.transports {
		t := t
		g.Go(func() error {
			if err := t.Start(ctx); err != nil {
				return fmt.Errorf("transports: start %s: %w", t.Platform(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range m.transports {
			t.Stop(ctx)
		}
		return err
	}
	return nil
}

// StopAll stops every transport, logging failures.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transports {
		if err := t.Stop(ctx); err != nil {
			slog.Error("transport stop failed", "platform", t.Platform(), "error", err)
		}
	}
}

func (m *Manager) handleOutgoing(e bus.Event) error {
	msg := e.Outgoing
	if msg == nil {
		return nil
	}
	m.mu.Lock()
	t, ok := m.transports[msg.Platform]
	m.mu.Unlock()
	if !ok {
		slog.Warn("no transport for platform", "platform", msg.Platform)
		return nil
	}

	limit := t.MessageLimit()
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	chunks := ChunkMessage(msg.Content, limit)
	for i, chunk := range chunks {
		replyTo := ""
		if i == 0 {
			replyTo = msg.ReplyTo
		}
		if err := t.Send(msg.Channel, chunk, replyTo); err != nil {
			return fmt.Errorf("transports: send to %s: %w", msg.Platform, err)
		}
	}
	return nil
}
