package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const nitterPage1 = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
<title>alice / Twitter</title>
<item>
  <title>First post about databases</title>
  <dc:creator>@alice</dc:creator>
  <pubDate>Tue, 24 Feb 2026 10:00:00 GMT</pubDate>
  <guid>%[1]s/alice/status/101#m</guid>
  <link>%[1]s/alice/status/101#m</link>
  <enclosure url="https://pbs.twimg.com/media/x.jpg" type="image/jpeg" length="0"/>
</item>
<item>
  <title>Second post</title>
  <dc:creator>@alice</dc:creator>
  <pubDate>Tue, 24 Feb 2026 09:00:00 GMT</pubDate>
  <guid>%[1]s/alice/status/100#m</guid>
  <link>%[1]s/alice/status/100#m</link>
</item>
</channel>
</rss>`

const nitterPage2 = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
<title>alice / Twitter</title>
<item>
  <title>Second post</title>
  <dc:creator>@alice</dc:creator>
  <pubDate>Tue, 24 Feb 2026 09:00:00 GMT</pubDate>
  <link>%[1]s/alice/status/100#m</link>
</item>
<item>
  <title>Older post</title>
  <dc:creator>@alice</dc:creator>
  <pubDate>Mon, 23 Feb 2026 08:00:00 GMT</pubDate>
  <link>%[1]s/alice/status/99#m</link>
</item>
</channel>
</rss>`

func newNitterServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		if r.URL.Query().Get("cursor") == "" {
			w.Header().Set("Min-Id", "abc")
			fmt.Fprintf(w, nitterPage1, srv.URL)
			return
		}
		fmt.Fprintf(w, nitterPage2, srv.URL)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNitterFeedPages(t *testing.T) {
	srv := newNitterServer(t)
	feed := NewNitterFeed(srv.URL, "")

	page, err := feed.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer page.Close()

	ctx := context.Background()
	if err := page.Load(ctx, srv.URL+"/alice/rss"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	items, _ := page.ExtractVisibleItems(ctx)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ID != "101" || first.URL != "https://x.com/alice/status/101" {
		t.Errorf("unexpected id/url %q %q", first.ID, first.URL)
	}
	if first.Handle != "@alice" || first.Author != "alice" {
		t.Errorf("unexpected author %q %q", first.Author, first.Handle)
	}
	if first.PostedAt != "2026-02-24T10:00:00Z" {
		t.Errorf("unexpected postedAt %q", first.PostedAt)
	}
	if len(first.Media) != 1 || first.Media[0].Type != MediaPhoto {
		t.Errorf("unexpected media %+v", first.Media)
	}

	if err := page.Advance(ctx); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	items, _ = page.ExtractVisibleItems(ctx)
	if len(items) != 3 {
		t.Fatalf("expected 3 items after advance, got %d", len(items))
	}

	// No cursor on the second page: further advances change nothing.
	before, _ := page.StructuralSignal(ctx)
	if err := page.Advance(ctx); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	after, _ := page.StructuralSignal(ctx)
	if before != after {
		t.Errorf("expected stable signal, got %+v then %+v", before, after)
	}
}

func TestNitterFeedLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	page, _ := NewNitterFeed(srv.URL, "").Open(context.Background())
	err := page.Load(context.Background(), srv.URL+"/alice/rss")
	if err == nil {
		t.Fatal("expected error")
	}
	if d := page.Diagnostics(context.Background()); d.CurrentURL != srv.URL+"/alice/rss" {
		t.Errorf("unexpected diagnostics url %q", d.CurrentURL)
	}
}
