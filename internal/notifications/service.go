package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telegate/internal/config"
)

const userAgent = "Telegate/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventDeviceStale       Event = "device_stale"
	EventDeviceRecovered   Event = "device_recovered"
	EventIngestFailed      Event = "ingest_failed"
	EventServerStartFailed Event = "server_start_failed"
	EventTest              Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		stale:    cfg.Notifications.Stale,
		failures: cfg.Notifications.Failures,
		server:   cfg.Notifications.Server,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	stale    bool
	failures bool
	server   bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil {
		return nil
	}
	msg, ok := n.render(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, data Payload) (payload, bool) {
	switch event {
	case EventDeviceStale:
		if !n.stale {
			return payload{}, false
		}
		device := stringValue(data, "device")
		message := fmt.Sprintf("⚠️ %s stopped reporting", device)
		if last := stringValue(data, "lastSeen"); last != "" {
			message = fmt.Sprintf("%s\nLast file: %s", message, last)
		} else {
			message = fmt.Sprintf("%s\nNo file received since start", message)
		}
		return payload{
			title:    "Telegate - Device Stale",
			message:  message,
			tags:     []string{"telegate", "device", "stale"},
			priority: "high",
		}, true
	case EventDeviceRecovered:
		if !n.stale {
			return payload{}, false
		}
		return payload{
			title:   "Telegate - Device Recovered",
			message: fmt.Sprintf("✅ %s is reporting again", stringValue(data, "device")),
			tags:    []string{"telegate", "device", "recovered"},
		}, true
	case EventIngestFailed:
		if !n.failures {
			return payload{}, false
		}
		message := fmt.Sprintf("❌ Could not store %s: %s", stringValue(data, "filename"), stringValue(data, "error"))
		if temp := stringValue(data, "tempPath"); temp != "" {
			message = fmt.Sprintf("%s\nFile kept at: %s", message, temp)
		}
		return payload{
			title:    "Telegate - Storage Failure",
			message:  message,
			tags:     []string{"telegate", "storage", "alert"},
			priority: "high",
		}, true
	case EventServerStartFailed:
		if !n.server {
			return payload{}, false
		}
		return payload{
			title:    "Telegate - Server Failed",
			message:  fmt.Sprintf("❌ FTP server failed to start: %s", stringValue(data, "error")),
			tags:     []string{"telegate", "server", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Telegate - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"telegate", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func stringValue(data Payload, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format("2006-01-02 15:04:05")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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
