package source

import (
	"context"
	"errors"
	"testing"
	"time"
)

var harvestNow = time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

// scriptedPage replays one batch per pass; Advance moves to the next batch.
type scriptedPage struct {
	batches  [][]Item
	pos      int
	loadErr  error
	signals  []Signal
	sigCalls int

	loadCalls    int
	advanceCalls int
	closed       bool
	selected     string
	hasView      bool
}

func (p *scriptedPage) Load(ctx context.Context, url string) error {
	p.loadCalls++
	return p.loadErr
}

func (p *scriptedPage) ExtractVisibleItems(ctx context.Context) ([]Item, error) {
	if len(p.batches) == 0 {
		return nil, nil
	}
	i := p.pos
	if i >= len(p.batches) {
		i = len(p.batches) - 1
	}
	return p.batches[i], nil
}

func (p *scriptedPage) Advance(ctx context.Context) error {
	p.advanceCalls++
	p.pos++
	return nil
}

func (p *scriptedPage) StructuralSignal(ctx context.Context) (Signal, error) {
	p.sigCalls++
	if len(p.signals) == 0 {
		return Signal{VisibleCount: 1, ContentExtent: 100}, nil
	}
	i := p.sigCalls - 1
	if i >= len(p.signals) {
		i = len(p.signals) - 1
	}
	return p.signals[i], nil
}

func (p *scriptedPage) Diagnostics(ctx context.Context) PageDiagnostics {
	return PageDiagnostics{
		CurrentURL:  "https://x.com/?logout=1",
		PageTitle:   "X. It's what's happening / X",
		BodySnippet: "Happening   now\n\n Join today",
	}
}

func (p *scriptedPage) SelectView(ctx context.Context, label string) (bool, error) {
	if !p.hasView {
		return false, nil
	}
	p.selected = label
	return true, nil
}

func (p *scriptedPage) Close() error {
	p.closed = true
	return nil
}

func newTestHarvester(page *scriptedPage, cfg HarvesterConfig) *Harvester {
	h := NewHarvester(OpenerFunc(func(ctx context.Context) (PageDriver, error) {
		return page, nil
	}), cfg, nil)
	h.now = func() time.Time { return harvestNow }
	return h
}

func item(id string, ago time.Duration, likes int) Item {
	return Item{
		ID:       id,
		URL:      "https://x.com/a/status/" + id,
		Text:     "text " + id,
		PostedAt: harvestNow.Add(-ago).Format(time.RFC3339),
		Likes:    likes,
	}
}

func TestHarvestStopsAtTargetWithoutAdvancing(t *testing.T) {
	page := &scriptedPage{batches: [][]Item{{item("1", time.Hour, 0), item("2", 2*time.Hour, 0)}}}
	h := newTestHarvester(page, HarvesterConfig{})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 1, MaxPasses: 5})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if page.advanceCalls != 0 {
		t.Errorf("expected no advance, got %d", page.advanceCalls)
	}
	if !page.closed {
		t.Error("expected page to be closed")
	}
}

func TestHarvestWithoutTargetRunsAllPasses(t *testing.T) {
	page := &scriptedPage{batches: [][]Item{
		{item("1", time.Hour, 0)},
		{item("1", time.Hour, 0), item("2", 2*time.Hour, 0)},
		{item("3", 3*time.Hour, 0)},
	}}
	h := newTestHarvester(page, HarvesterConfig{})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 0, MaxPasses: 3})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if page.advanceCalls != 2 {
		t.Errorf("expected 2 advances, got %d", page.advanceCalls)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
}

func TestHarvestDeduplicatesWithLatestValues(t *testing.T) {
	page := &scriptedPage{batches: [][]Item{
		{item("1", time.Hour, 1)},
		{item("1", time.Hour, 50), item("2", 2*time.Hour, 0)},
	}}
	h := newTestHarvester(page, HarvesterConfig{})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 100, MaxPasses: 2})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "1" || items[0].Likes != 50 {
		t.Errorf("expected latest values for item 1, got %+v", items[0])
	}
	if page.advanceCalls != 1 {
		t.Errorf("expected 1 advance, got %d", page.advanceCalls)
	}
}

func TestHarvestExcludesItemsOutsideCutoff(t *testing.T) {
	undated := item("undated", 0, 0)
	undated.PostedAt = ""
	garbled := item("garbled", 0, 0)
	garbled.PostedAt = "yesterday"

	page := &scriptedPage{batches: [][]Item{{
		item("recent", 2*time.Hour, 3),
		item("old", 4*24*time.Hour, 3),
		undated,
		garbled,
	}}}
	h := newTestHarvester(page, HarvesterConfig{})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 999, MaxPasses: 1})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 1 || items[0].ID != "recent" {
		t.Fatalf("expected only recent item, got %+v", items)
	}
}

func TestHarvestStopsAfterStalePassesPastCutoff(t *testing.T) {
	batch := []Item{item("new", time.Hour, 0), item("old", 3*24*time.Hour, 0)}
	page := &scriptedPage{batches: [][]Item{batch}}
	h := newTestHarvester(page, HarvesterConfig{})

	_, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 999, MaxPasses: 20})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	// Pass 1 adds items, passes 2-4 are stale: stop after pass 4.
	if page.advanceCalls != 3 {
		t.Fatalf("expected 3 advances, got %d", page.advanceCalls)
	}
}

func TestHarvestKeepsGoingWhileOldItemsInterleave(t *testing.T) {
	page := &scriptedPage{batches: [][]Item{
		{item("a", time.Hour, 0), item("old", 3*24*time.Hour, 0)},
		{item("b", 2*time.Hour, 0)},
		{item("c", 3*time.Hour, 0)},
		{item("d", 4*time.Hour, 0)},
	}}
	h := newTestHarvester(page, HarvesterConfig{})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 999, MaxPasses: 4})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 in-window items, got %d", len(items))
	}
	if items[0].ID != "a" || items[3].ID != "d" {
		t.Errorf("expected newest first, got %s..%s", items[0].ID, items[3].ID)
	}
}

func TestHarvestLoadFailureCarriesDiagnostics(t *testing.T) {
	page := &scriptedPage{loadErr: errors.New("selector timeout")}
	h := newTestHarvester(page, HarvesterConfig{
		URL:        "https://x.com/home",
		RawCookies: `[{"name":"auth_token","value":"x"}]`,
	})

	_, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 10, MaxPasses: 3})
	he, ok := IsHarvestError(err)
	if !ok {
		t.Fatalf("expected HarvestError, got %v", err)
	}
	d := he.Diagnostics
	if d.CurrentURL != "https://x.com/?logout=1" {
		t.Errorf("unexpected url %q", d.CurrentURL)
	}
	if d.BodySnippet != "Happening now Join today" {
		t.Errorf("unexpected snippet %q", d.BodySnippet)
	}
	if !d.RawCookiePresent || d.InjectedCookieCount != 1 || d.InjectedCookieNames[0] != "auth_token" {
		t.Errorf("unexpected cookie diagnostics %+v", d)
	}
	if !page.closed {
		t.Error("expected page to be closed after load failure")
	}
}

func TestHarvestSelectsViewWhenPresent(t *testing.T) {
	page := &scriptedPage{hasView: true, batches: [][]Item{{item("1", time.Hour, 0)}}}
	h := newTestHarvester(page, HarvesterConfig{View: "Following"})

	if _, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 1, MaxPasses: 1}); err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if page.selected != "Following" {
		t.Errorf("expected Following view selected, got %q", page.selected)
	}
}

func TestHarvestToleratesMissingView(t *testing.T) {
	page := &scriptedPage{batches: [][]Item{{item("1", time.Hour, 0)}}}
	h := newTestHarvester(page, HarvesterConfig{View: "Following"})

	items, err := h.Harvest(context.Background(), HarvestOptions{DaysBack: 1, TargetCount: 1, MaxPasses: 1})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestSettleWaitsForStableSignal(t *testing.T) {
	page := &scriptedPage{signals: []Signal{
		{VisibleCount: 1, ContentExtent: 100},
		{VisibleCount: 3, ContentExtent: 300},
		{VisibleCount: 5, ContentExtent: 500},
		{VisibleCount: 5, ContentExtent: 500},
	}}
	h := newTestHarvester(page, HarvesterConfig{SettlePolls: 50})

	if err := h.settle(context.Background(), page); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Three changing readings, then three repeats of the last one.
	if page.sigCalls != 6 {
		t.Fatalf("expected 6 signal polls, got %d", page.sigCalls)
	}
}

func TestSettleGivesUpAfterPollLimit(t *testing.T) {
	var signals []Signal
	for i := 0; i < 20; i++ {
		signals = append(signals, Signal{VisibleCount: i})
	}
	page := &scriptedPage{signals: signals}
	h := newTestHarvester(page, HarvesterConfig{SettlePolls: 5})

	if err := h.settle(context.Background(), page); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if page.sigCalls != 5 {
		t.Fatalf("expected 5 polls, got %d", page.sigCalls)
	}
}
