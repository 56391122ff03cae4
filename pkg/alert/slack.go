package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	title := n.Title
	if title == "" {
		title = "Lottery draw"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": title,
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": strings.Join(n.Lines(), "\n"),
			},
		},
	}

	if n.SiteURL != "" {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{{
				"type": "mrkdwn",
				"text": fmt.Sprintf("<%s|Open the board>", n.SiteURL),
			}},
		})
	}

	payload := map[string]any{"text": title, "blocks": blocks}
	if err := postJSON(ctx, s.client, s.webhookURL, payload, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
