package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shannonlabs/shannon/internal/bus"
)

// validateGitHubSignature checks the X-Hub-Signature-256 HMAC. An empty
// secret rejects every request.
func validateGitHubSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// validateSentrySignature checks the bare-hex sentry-hook-signature HMAC.
func validateSentrySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// validateGenericSecret compares a shared secret in constant time.
func validateGenericSecret(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(provided), []byte(configured))
}

func normalizeGitHubEvent(eventType string, payload map[string]any, channel string) bus.WebhookEvent {
	repo := nestedString(payload, "repository", "full_name")
	if repo == "" {
		repo = "unknown"
	}

	var summary string
	switch eventType {
	case "push":
		commits, _ := payload["commits"].([]any)
		branch := strings.TrimPrefix(str(payload["ref"]), "refs/heads/")
		pusher := nestedString(payload, "pusher", "name")
		if pusher == "" {
			pusher = "unknown"
		}
		summary = fmt.Sprintf("%s pushed %d commit(s) to %s/%s", pusher, len(commits), repo, branch)

	case "pull_request":
		action := str(payload["action"])
		pr, _ := payload["pull_request"].(map[string]any)
		user := nestedString(pr, "user", "login")
		if user == "" {
			user = "unknown"
		}
		summary = fmt.Sprintf("%s %s PR #%s on %s: %s",
			user, action, number(pr["number"]), repo, str(pr["title"]))

	case "issues":
		action := str(payload["action"])
		issue, _ := payload["issue"].(map[string]any)
		user := nestedString(issue, "user", "login")
		if user == "" {
			user = "unknown"
		}
		summary = fmt.Sprintf("%s %s issue #%s on %s: %s",
			user, action, number(issue["number"]), repo, str(issue["title"]))

	case "workflow_run":
		action := str(payload["action"])
		run, _ := payload["workflow_run"].(map[string]any)
		summary = fmt.Sprintf("Workflow '%s' %s on %s — %s",
			str(run["name"]), action, repo, str(run["conclusion"]))

	default:
		summary = fmt.Sprintf("GitHub %s event on %s", eventType, repo)
	}

	return bus.WebhookEvent{
		Source:        "github",
		EventType:     eventType,
		Summary:       summary,
		Payload:       payload,
		ChannelTarget: channel,
	}
}

func normalizeSentryEvent(payload map[string]any, channel string) bus.WebhookEvent {
	data, _ := payload["data"].(map[string]any)
	event, ok := data["event"].(map[string]any)
	if !ok {
		event = data
	}
	title := str(event["title"])
	if title == "" {
		title = str(payload["message"])
	}
	if title == "" {
		title = "Sentry alert"
	}
	project := str(payload["project_name"])
	if project == "" {
		project = str(payload["project"])
	}
	if project == "" {
		project = "unknown"
	}
	level := str(event["level"])
	if level == "" {
		level = "error"
	}

	return bus.WebhookEvent{
		Source:        "sentry",
		EventType:     "alert",
		Summary:       fmt.Sprintf("[%s] %s: %s", level, project, title),
		Payload:       payload,
		ChannelTarget: channel,
	}
}

func normalizeGenericEvent(payload map[string]any, channel string) bus.WebhookEvent {
	summary := str(payload["summary"])
	if summary == "" {
		summary = str(payload["message"])
	}
	if summary == "" {
		summary = "Webhook received"
	}
	eventType := str(payload["event_type"])
	if eventType == "" {
		eventType = "generic"
	}

	return bus.WebhookEvent{
		Source:        "generic",
		EventType:     eventType,
		Summary:       summary,
		Payload:       payload,
		ChannelTarget: channel,
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func nestedString(payload map[string]any, outer, inner string) string {
	m, _ := payload[outer].(map[string]any)
	return str(m[inner])
}

// number renders a JSON number without the float formatting json.Unmarshal
// leaves behind. Missing values render as "?".
func number(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%.0f", f)
}
