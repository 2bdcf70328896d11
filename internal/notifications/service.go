package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"songconvert/internal/config"
)

const userAgent = "songconvert/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyJobCompleted(ctx context.Context, location string, duration time.Duration) error
	NotifyJobFailed(ctx context.Context, location, stage string, err error) error
	NotifyDaemonStopped(ctx context.Context, processed, failed int) error
	TestNotification(ctx context.Context) error
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

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers notifications.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
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
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, location string, duration time.Duration) error {
	duration = max(duration.Round(time.Second), 0)
	data := payload{
		title:   "songconvert - Converted",
		message: fmt.Sprintf("Converted %s in %s", songName(location), duration),
		tags:    []string{"songconvert", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, location, stage string, err error) error {
	var builder strings.Builder
	builder.WriteString("Failed to convert ")
	builder.WriteString(songName(location))
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" during ")
		builder.WriteString(stage)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "songconvert - Error",
		message:  builder.String(),
		tags:     []string{"songconvert", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context, processed, failed int) error {
	message := fmt.Sprintf("Daemon stopped after %d jobs", processed)
	if failed > 0 {
		message = fmt.Sprintf("Daemon stopped: %d succeeded, %d failed", processed, failed)
	}
	data := payload{
		title:   "songconvert - Stopped",
		message: message,
		tags:    []string{"songconvert", "daemon", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "songconvert - Test",
		message:  "Notification system test",
		tags:     []string{"songconvert", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
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

// songName renders the folder's base name, which is "Artist - Title" for
// conventionally named song folders.
func songName(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), `/\`)
	if idx := strings.LastIndexAny(location, `/\`); idx >= 0 {
		location = location[idx+1:]
	}
	if location == "" {
		return "unknown song"
	}
	return location
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, time.Duration) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, error) error    { return nil }
func (noopService) NotifyDaemonStopped(context.Context, int, int) error             { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
