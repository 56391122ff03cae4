package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Discord posts plain-content messages to a Discord-compatible webhook.
// HookID is the stored hook row it was built from, 0 for hooks from config.
type Discord struct {
	client     *http.Client
	webhookURL string
	HookID     int64
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

// NewHook creates a Discord notifier for a stored hook.
func NewHook(id int64, webhookURL string) *Discord {
	d := NewDiscord(webhookURL)
	d.HookID = id
	return d
}

func (d *Discord) Name() string {
	if d.HookID != 0 {
		return fmt.Sprintf("hook#%d", d.HookID)
	}
	return "discord"
}

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{"content": n.Text()}
	if err := postJSON(ctx, d.client, d.webhookURL, payload, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
