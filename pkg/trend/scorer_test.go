package trend

import (
	"testing"

	"github.com/elonfeng/timeline-digest/pkg/source"
)

func TestScoreRanksTopicalAboveViral(t *testing.T) {
	nonTopical := source.Item{ID: "1", Text: "Random thoughts about lunch", Likes: 200, Reposts: 30, Replies: 20, Views: 1000}
	topical := source.Item{ID: "2", Text: "Great updates about distributed systems and cloud services", Likes: 10, Reposts: 2, Replies: 1, Views: 100}

	scored := Score([]source.Item{nonTopical, topical}, []string{"distributed systems", "cloud services"})
	if scored[0].ID != "2" {
		t.Fatalf("expected topical item first, got %s", scored[0].ID)
	}
	// 2*10 + 2.5*2 + 1.5*1 + 0.25*100 + 2*1000 = 2051.5 -> 2052
	if scored[0].Score != 2052 {
		t.Errorf("unexpected topical score %d", scored[0].Score)
	}
	// 400 + 75 + 30 + 250 = 755
	if scored[1].Score != 755 {
		t.Errorf("unexpected engagement score %d", scored[1].Score)
	}
}

func TestScoreDoesNotMutateInput(t *testing.T) {
	items := []source.Item{{ID: "a", Likes: 1}, {ID: "b", Likes: 5}}
	scored := Score(items, nil)
	if items[0].Score != 0 || items[1].Score != 0 {
		t.Fatal("input items were modified")
	}
	if items[0].ID != "a" {
		t.Fatal("input order was modified")
	}
	if scored[0].ID != "b" {
		t.Fatalf("expected b first, got %s", scored[0].ID)
	}
}

func TestScoreStableOnTies(t *testing.T) {
	items := []source.Item{{ID: "x"}, {ID: "y"}, {ID: "z"}}
	scored := Score(items, []string{"go"})
	for i, want := range []string{"x", "y", "z"} {
		if scored[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, scored[i].ID, want)
		}
	}
}

func TestTopicMatchesCaseInsensitive(t *testing.T) {
	if n := TopicMatches("Kubernetes and GO tips", []string{"go", "kubernetes", "rust"}); n != 2 {
		t.Fatalf("expected 2 matches, got %d", n)
	}
	if n := TopicMatches("anything", nil); n != 0 {
		t.Fatalf("expected 0 matches, got %d", n)
	}
}
