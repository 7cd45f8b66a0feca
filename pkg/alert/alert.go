package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/elonfeng/timeline-digest/pkg/digest"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// Notification is a finished day digest as sent to destinations.
type Notification struct {
	Day        string              `json:"day"`
	Subject    string              `json:"subject"`
	Summary    string              `json:"summary"`
	Highlights []digest.Highlight  `json:"highlights"`
	Articles   []trend.ArticleLink `json:"articles"`
	Text       string              `json:"text"`
}

// FromPreview converts a day preview into a notification.
func FromPreview(p *digest.Preview) *Notification {
	return &Notification{
		Day:        p.Day,
		Subject:    p.Subject,
		Summary:    p.Summary,
		Highlights: p.Highlights,
		Articles:   p.ArticleLinks,
		Text:       p.Plain,
	}
}

// Notifier delivers digests to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Notify delivers a day preview to every notifier.
func (m *Manager) Notify(ctx context.Context, p *digest.Preview) error {
	if !m.HasNotifiers() {
		return nil
	}
	return m.Broadcast(ctx, FromPreview(p))
}

func post(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func topHighlights(n *Notification, limit int) []digest.Highlight {
	if len(n.Highlights) < limit {
		return n.Highlights
	}
	return n.Highlights[:limit]
}

func highlightLabel(h digest.Highlight) string {
	if h.Item != nil && h.Item.Handle != "" {
		return h.Item.Handle
	}
	if h.Item != nil && h.Item.Author != "" {
		return h.Item.Author
	}
	return h.ItemID
}
