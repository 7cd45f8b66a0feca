package trend

import (
	"math"
	"sort"
	"strings"

	"github.com/elonfeng/timeline-digest/pkg/source"
)

// Engagement weights per signal. A single topic hit outweighs typical
// engagement so topical items float above viral off-topic ones.
const (
	likeWeight   = 2
	repostWeight = 2.5
	replyWeight  = 1.5
	viewWeight   = 0.25
	topicWeight  = 1000
)

// Score computes a relevance score for every item and returns a new slice
// ordered by score descending. Ties keep their input order. The input
// slice is not modified.
func Score(items []source.Item, topics []string) []source.Item {
	scored := make([]source.Item, len(items))
	for i, it := range items {
		it.Score = itemScore(it, topics)
		scored[i] = it
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func itemScore(it source.Item, topics []string) int {
	engagement := likeWeight*float64(it.Likes) +
		repostWeight*float64(it.Reposts) +
		replyWeight*float64(it.Replies) +
		viewWeight*float64(it.Views)

	return int(math.Round(engagement + topicWeight*float64(TopicMatches(it.Text, topics))))
}

// TopicMatches counts how many topics occur in text, case-insensitively.
func TopicMatches(text string, topics []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range topics {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			n++
		}
	}
	return n
}
