package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sightline/internal/config"
)

const userAgent = "Sightline/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventBatchCompleted       Event = "batch_completed"
	EventTaskFailed           Event = "task_failed"
	EventConnectivityLost     Event = "connectivity_lost"
	EventConnectivityRestored Event = "connectivity_restored"
	EventRequestsRejected     Event = "requests_rejected"
	EventTest                 Event = "test"
)

// Payload carries event fields such as "url" or "batchId".
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventBatchCompleted:
		total := payloadInt(payload, "total")
		failed := payloadInt(payload, "failed")
		body := fmt.Sprintf("Batch %s finished: %d of %d analyzed", shortID(payloadString(payload, "batchId")), total-failed, total)
		tags := []string{"sightline", "batch", "completed"}
		if failed > 0 {
			body = fmt.Sprintf("%s, %d failed", body, failed)
			tags = []string{"sightline", "batch", "partial"}
		}
		return message{title: "Sightline - Batch Complete", body: body, tags: tags}, true
	case EventTaskFailed:
		body := fmt.Sprintf("Analysis failed: %s", payloadString(payload, "url"))
		if reason := payloadString(payload, "error"); reason != "" {
			body = fmt.Sprintf("%s\nReason: %s", body, reason)
		}
		return message{
			title:    "Sightline - Analysis Failed",
			body:     body,
			tags:     []string{"sightline", "analysis", "failed"},
			priority: "high",
		}, true
	case EventConnectivityLost:
		return message{
			title: "Sightline - Offline",
			body:  "Backend unreachable; captures and submissions are queued",
			tags:  []string{"sightline", "connectivity", "offline"},
		}, true
	case EventConnectivityRestored:
		body := "Backend reachable again"
		if depth := payloadInt(payload, "queued"); depth > 0 {
			body = fmt.Sprintf("%s; replaying %d queued requests", body, depth)
		}
		return message{
			title:    "Sightline - Online",
			body:     body,
			tags:     []string{"sightline", "connectivity", "online"},
			priority: "low",
		}, true
	case EventRequestsRejected:
		return message{
			title:    "Sightline - Requests Rejected",
			body:     fmt.Sprintf("Backend rejected %d queued requests during replay", payloadInt(payload, "count")),
			tags:     []string{"sightline", "offline", "rejected"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Sightline - Test",
			body:     "Notification system test",
			tags:     []string{"sightline", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func payloadString(p Payload, key string) string {
	if v, ok := p[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func payloadInt(p Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
