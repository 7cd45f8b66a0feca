package trend

import (
	"errors"
	"strings"
)

// DayDigest is the generator's verdict for one calendar day.
type DayDigest struct {
	Subject      string        `json:"subject"`
	Summary      string        `json:"summary"`
	Decisions    []Decision    `json:"decisions"`
	ArticleLinks []ArticleLink `json:"article_links"`
}

// Decision is the per-item relevance verdict.
type Decision struct {
	ItemID         string  `json:"item_id"`
	Relevant       bool    `json:"relevant"`
	WhyRelevant    string  `json:"why_relevant"`
	MainTakeaway   string  `json:"main_takeaway"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ArticleLink is an external link worth reading, with the reason.
type ArticleLink struct {
	URL         string `json:"url"`
	WhyRelevant string `json:"why_relevant"`
}

// ErrIncompleteDigest is returned when a generator response lacks the
// subject, summary or decisions.
var ErrIncompleteDigest = errors.New("day digest response is missing required fields")

const (
	fallbackWhy       = "No LLM decision returned for this item."
	fallbackTakeaway  = "No takeaway available."
	maxRelevanceScore = 100
)

// FallbackDecision is used for items the generator returned no verdict for.
func FallbackDecision(itemID string) Decision {
	return Decision{
		ItemID:       itemID,
		WhyRelevant:  fallbackWhy,
		MainTakeaway: fallbackTakeaway,
	}
}

// Normalize validates a generator response in place: subject, summary and
// a decisions list are required; decisions without an item id are dropped
// and relevance scores are clamped to [0, 100].
func (d *DayDigest) Normalize() error {
	d.Subject = strings.TrimSpace(d.Subject)
	d.Summary = strings.TrimSpace(d.Summary)
	if d.Subject == "" || d.Summary == "" || d.Decisions == nil {
		return ErrIncompleteDigest
	}

	kept := d.Decisions[:0]
	for _, dec := range d.Decisions {
		dec.ItemID = strings.TrimSpace(dec.ItemID)
		if dec.ItemID == "" {
			continue
		}
		dec.RelevanceScore = clampScore(dec.RelevanceScore)
		kept = append(kept, dec)
	}
	d.Decisions = kept

	links := d.ArticleLinks[:0]
	for _, l := range d.ArticleLinks {
		if strings.TrimSpace(l.URL) == "" {
			continue
		}
		links = append(links, l)
	}
	d.ArticleLinks = links
	return nil
}

// Complete returns one decision per item id, in the given order, using the
// generator's verdict where present and FallbackDecision otherwise.
func (d *DayDigest) Complete(itemIDs []string) []Decision {
	byID := make(map[string]Decision, len(d.Decisions))
	for _, dec := range d.Decisions {
		byID[dec.ItemID] = dec
	}
	out := make([]Decision, 0, len(itemIDs))
	for _, id := range itemIDs {
		dec, ok := byID[id]
		if !ok {
			dec = FallbackDecision(id)
		}
		out = append(out, dec)
	}
	return out
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > maxRelevanceScore {
		return maxRelevanceScore
	}
	return s
}
