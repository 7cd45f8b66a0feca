package trend

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	d := DayDigest{
		Subject: " Daily ",
		Summary: "Summary",
		Decisions: []Decision{
			{ItemID: "1", Relevant: true, RelevanceScore: 140},
			{ItemID: "", Relevant: true, RelevanceScore: 50},
			{ItemID: "2", RelevanceScore: -3},
		},
		ArticleLinks: []ArticleLink{{URL: ""}, {URL: "https://example.com/a", WhyRelevant: "deep dive"}},
	}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if d.Subject != "Daily" {
		t.Errorf("subject not trimmed: %q", d.Subject)
	}
	if len(d.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(d.Decisions))
	}
	if d.Decisions[0].RelevanceScore != 100 || d.Decisions[1].RelevanceScore != 0 {
		t.Errorf("scores not clamped: %+v", d.Decisions)
	}
	if len(d.ArticleLinks) != 1 {
		t.Errorf("expected empty link dropped, got %+v", d.ArticleLinks)
	}
}

func TestNormalizeRejectsIncomplete(t *testing.T) {
	cases := map[string]DayDigest{
		"no subject":   {Summary: "s", Decisions: []Decision{}},
		"no summary":   {Subject: "s", Decisions: []Decision{}},
		"no decisions": {Subject: "s", Summary: "s"},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			if err := d.Normalize(); !errors.Is(err, ErrIncompleteDigest) {
				t.Fatalf("expected ErrIncompleteDigest, got %v", err)
			}
		})
	}
}

func TestCompleteFillsFallbacks(t *testing.T) {
	d := DayDigest{Decisions: []Decision{{ItemID: "b", Relevant: true, RelevanceScore: 80}}}
	got := d.Complete([]string{"a", "b"})
	if len(got) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(got))
	}
	if got[0] != FallbackDecision("a") {
		t.Errorf("expected fallback for a, got %+v", got[0])
	}
	if got[0].Relevant || got[0].RelevanceScore != 0 {
		t.Errorf("fallback must be irrelevant with score 0: %+v", got[0])
	}
	if !got[1].Relevant || got[1].RelevanceScore != 80 {
		t.Errorf("expected generator decision for b, got %+v", got[1])
	}
}
