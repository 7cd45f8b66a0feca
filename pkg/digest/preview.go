package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elonfeng/timeline-digest/pkg/source"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// MaxHighlights caps the highlights shown in a preview.
const MaxHighlights = 12

// RankRelevant returns the relevant decisions ordered by relevance score,
// highest first. Equal scores keep their input order.
func RankRelevant(decisions []trend.Decision) []trend.Decision {
	var relevant []trend.Decision
	for _, d := range decisions {
		if d.Relevant {
			relevant = append(relevant, d)
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].RelevanceScore > relevant[j].RelevanceScore
	})
	return relevant
}

// Highlights joins ranked decisions with their items.
func Highlights(ranked []trend.Decision, byID map[string]source.Item) []Highlight {
	out := make([]Highlight, 0, len(ranked))
	for _, d := range ranked {
		h := Highlight{
			ItemID:         d.ItemID,
			WhyRelevant:    d.WhyRelevant,
			MainTakeaway:   d.MainTakeaway,
			RelevanceScore: d.RelevanceScore,
		}
		if it, ok := byID[d.ItemID]; ok {
			h.URL = it.URL
			h.Item = &it
		}
		out = append(out, h)
	}
	return out
}

// PlainText renders a day digest as plain text.
func PlainText(day, summary string, highlights []Highlight) string {
	lines := []string{"Day: " + day, "", "Summary", summary, "", "Relevant Items"}
	for i, h := range highlights {
		author, handle, text := "Unknown", "", ""
		if h.Item != nil {
			if h.Item.Author != "" {
				author = h.Item.Author
			}
			handle = h.Item.Handle
			text = h.Item.Text
		}
		lines = append(lines,
			fmt.Sprintf("%d. %s (%s)", i+1, author, handle),
			text,
			h.URL,
			"Why: "+h.WhyRelevant,
			"Takeaway: "+h.MainTakeaway,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

func buildPreview(day string, dd *trend.DayDigest, highlights []Highlight) *Preview {
	top := highlights
	if len(top) > MaxHighlights {
		top = top[:MaxHighlights]
	}
	links := dd.ArticleLinks
	if links == nil {
		links = []trend.ArticleLink{}
	}
	return &Preview{
		Day:          day,
		Subject:      dd.Subject,
		Summary:      dd.Summary,
		Highlights:   top,
		ArticleLinks: links,
		Plain:        PlainText(day, dd.Summary, top),
	}
}
