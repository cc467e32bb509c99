// Package notifier pushes download lifecycle messages to external chat
// services.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string

	client *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// DownloadedMessage formats the completion announcement for an item.
func DownloadedMessage(item *media.Item) string {
	if item.By != "" {
		return fmt.Sprintf("Downloaded: %s by %s", item.Name, item.By)
	}

	return fmt.Sprintf("Downloaded: %s", item.Name)
}

// FailedMessage formats the failure announcement for an item.
func FailedMessage(item *media.Item) string {
	name := item.Name
	if name == "" {
		name = item.ID
	}

	return fmt.Sprintf("Download failed: %s", name)
}
