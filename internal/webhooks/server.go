// Package webhooks receives inbound webhooks over HTTP, validates the
// sender, normalizes the payload and publishes the result on the bus.
// An endpoint configured without a secret rejects every request; the
// ingress fails closed rather than open.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/config"
)

// maxBodyBytes caps webhook payload size.
const maxBodyBytes = 1 << 20

// Server is the webhook ingress.
type Server struct {
	cfg  config.WebhooksConfig
	bus  *bus.Bus
	http *http.Server
}

// NewServer builds the ingress. Endpoints without a secret are warned
// about here so the operator sees it at startup, not on first delivery.
func NewServer(cfg config.WebhooksConfig, b *bus.Bus) *Server {
	for _, ep := range cfg.Endpoints {
		if ep.Secret == "" {
			slog.Warn("webhook endpoint has no secret configured, all requests will be rejected",
				"endpoint", endpointLabel(ep))
		}
	}
	s := &Server{cfg: cfg, bus: b}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func endpointLabel(ep config.WebhookEndpoint) string {
	if ep.Name != "" {
		return ep.Name
	}
	return ep.Path
}

// Start begins serving. Returns once the listener is bound; serving
// continues in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("webhooks: listen %s: %w", s.http.Addr, err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server failed", "error", err)
		}
	}()
	slog.Info("webhook server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	endpoint, ok := s.findEndpoint(r.URL.Path)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Read failed", http.StatusBadRequest)
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !s.validate(endpoint, r, body) {
		slog.Info("webhook rejected", "endpoint", endpointLabel(endpoint), "remote", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event := s.normalize(endpoint, r, payload)
	s.bus.Publish(bus.NewWebhook(bus.WebhookReceived{
		Event:          event,
		PromptTemplate: endpoint.PromptTemplate,
	}))
	slog.Info("webhook received",
		"source", event.Source, "event_type", event.EventType, "channel", event.ChannelTarget)

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) findEndpoint(path string) (config.WebhookEndpoint, bool) {
	for _, ep := range s.cfg.Endpoints {
		epPath := ep.Path
		if !strings.HasPrefix(epPath, "/") {
			epPath = "/" + epPath
		}
		if epPath == path {
			return ep, true
		}
	}
	return config.WebhookEndpoint{}, false
}

// validate picks the provider scheme from the endpoint name: "github"
// and "sentry" endpoints use their HMAC headers, everything else is a
// shared-secret header check.
func (s *Server) validate(ep config.WebhookEndpoint, r *http.Request, body []byte) bool {
	name := strings.ToLower(ep.Name)
	switch {
	case strings.Contains(name, "github"):
		return validateGitHubSignature(body, r.Header.Get("X-Hub-Signature-256"), ep.Secret)
	case strings.Contains(name, "sentry"):
		return validateSentrySignature(body, r.Header.Get("Sentry-Hook-Signature"), ep.Secret)
	default:
		provided := r.Header.Get("X-Webhook-Secret")
		if provided == "" {
			provided = r.Header.Get("Authorization")
		}
		return validateGenericSecret(provided, ep.Secret)
	}
}

func (s *Server) normalize(ep config.WebhookEndpoint, r *http.Request, payload map[string]any) bus.WebhookEvent {
	name := strings.ToLower(ep.Name)
	switch {
	case strings.Contains(name, "github"):
		eventType := r.Header.Get("X-GitHub-Event")
		if eventType == "" {
			eventType = "unknown"
		}
		return normalizeGitHubEvent(eventType, payload, ep.Channel)
	case strings.Contains(name, "sentry"):
		return normalizeSentryEvent(payload, ep.Channel)
	default:
		return normalizeGenericEvent(payload, ep.Channel)
	}
}

// FormatPrompt renders an event through a prompt template, expanding
// {event_type}, {summary} and {source}. An empty template gets a plain
// "source event_type: summary" line.
func FormatPrompt(template string, event bus.WebhookEvent) string {
	if template == "" {
		return fmt.Sprintf("%s %s: %s", event.Source, event.EventType, event.Summary)
	}
	out := strings.ReplaceAll(template, "{event_type}", event.EventType)
	out = strings.ReplaceAll(out, "{summary}", event.Summary)
	out = strings.ReplaceAll(out, "{source}", event.Source)
	return out
}
