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

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var links []string
	for _, h := range topHighlights(n, 5) {
		links = append(links, fmt.Sprintf("• [%s](%s) %s", highlightLabel(h), h.URL, h.MainTakeaway))
	}

	// Embed limits: title 256, description 4096.
	embed := map[string]any{
		"title":       source.Snippet(n.Subject, 256),
		"description": truncateRunes(fmt.Sprintf("**%s**\n\n%s\n\n%s", n.Day, n.Summary, strings.Join(links, "\n")), 4096),
		"color":       0x1DA1F2,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := post(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
