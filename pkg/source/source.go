package source

import (
	"strings"
	"time"
)

// MediaType identifies the kind of media attached to an item.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// Media describes one attachment rendered with an item.
type Media struct {
	Type   MediaType `json:"type"`
	URL    string    `json:"url,omitempty"`
	Poster string    `json:"poster,omitempty"`
	Alt    string    `json:"alt,omitempty"`
}

// Item is one harvested timeline entry.
type Item struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Text     string  `json:"text"`
	Author   string  `json:"author"`
	Handle   string  `json:"handle"`
	PostedAt string  `json:"posted_at,omitempty"` // RFC 3339; empty when the view did not render one
	Replies  int     `json:"replies"`
	Reposts  int     `json:"reposts"`
	Likes    int     `json:"likes"`
	Views    int     `json:"views"`
	Score    int     `json:"score"`
	Media    []Media `json:"media,omitempty"`
}

// PostedTime parses PostedAt. The second return is false when the
// timestamp is missing or unparsable.
func (it Item) PostedTime() (time.Time, bool) {
	return ParseTimestamp(it.PostedAt)
}

// ParseTimestamp parses an ISO-8601 timestamp as rendered by timeline views.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
