package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Send(title, message string) error
}

// Ntfy publishes to an ntfy topic. A zero topic disables it.
type Ntfy struct {
	client  *http.Client
	baseURL string
	topic   string
}

func NewNtfy(baseURL, topic string) *Ntfy {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return &Ntfy{}
	}
	if baseURL == "" {
		baseURL = "https://ntfy.sh"
	}

	log.Info().
		Str("topic", topic).
		Msg("Ntfy notifications initialized")

	return &Ntfy{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		topic:   topic,
	}
}

func (n *Ntfy) Enabled() bool { return n.topic != "" }

// Send publishes a notification. It is a no-op when no topic is configured.
func (n *Ntfy) Send(title, message string) error {
	if !n.Enabled() {
		return nil
	}

	payload := map[string]interface{}{
		"topic":    n.topic,
		"title":    title,
		"message":  message,
		"priority": 4,
		"tags":     []string{"warning"},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// ntfy's JSON publishing endpoint is the server root; the topic travels in the body.
	req, err := http.NewRequest(http.MethodPost, n.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Send(string, string) error { return nil }
