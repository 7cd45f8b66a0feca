package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/timeline-digest/pkg/source"
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
	// Slack caps header text at 150 characters.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": source.Snippet(n.Subject, 150),
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n%s", n.Day, n.Summary),
			},
		},
	}

	if hl := topHighlights(n, 5); len(hl) > 0 {
		var lines []string
		for _, h := range hl {
			lines = append(lines, fmt.Sprintf("• <%s|%s> %s", h.URL, highlightLabel(h), h.MainTakeaway))
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": strings.Join(lines, "\n")},
		})
	}

	if len(n.Articles) > 0 {
		var elements []map[string]any
		for _, a := range n.Articles {
			elements = append(elements, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("<%s|article> %s", a.URL, a.WhyRelevant)})
		}
		// Context blocks hold at most 10 elements.
		if len(elements) > 10 {
			elements = elements[:10]
		}
		blocks = append(blocks, map[string]any{"type": "context", "elements": elements})
	}

	body, err := json.Marshal(map[string]any{"text": n.Subject, "blocks": blocks})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := post(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
