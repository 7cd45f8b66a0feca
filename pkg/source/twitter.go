package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// NitterFeed reads a timeline through a Nitter instance's RSS output.
// Nitter pages its RSS with the Min-Id response header used as cursor.
// Engagement counts are not part of the feed and stay zero.
type NitterFeed struct {
	client    *http.Client
	nitterURL string
	userAgent string
}

// NewNitterFeed creates a Nitter RSS page opener.
func NewNitterFeed(nitterURL, userAgent string) *NitterFeed {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	if userAgent == "" {
		userAgent = "tldigest/1.0"
	}
	return &NitterFeed{
		client:    &http.Client{Timeout: 30 * time.Second},
		nitterURL: strings.TrimRight(nitterURL, "/"),
		userAgent: userAgent,
	}
}

func (n *NitterFeed) Open(ctx context.Context) (PageDriver, error) {
	return &nitterPage{feed: n, parser: gofeed.NewParser(), byID: make(map[string]Item)}, nil
}

type nitterPage struct {
	feed   *NitterFeed
	parser *gofeed.Parser

	target  string
	lastURL string
	title   string
	cursor  string
	body    []byte
	bytes   int
	order   []string
	byID    map[string]Item
}

func (p *nitterPage) Load(ctx context.Context, target string) error {
	p.target = target
	added, err := p.fetch(ctx, target)
	if err != nil {
		return err
	}
	if added == 0 {
		return fmt.Errorf("feed %s returned no items", target)
	}
	return nil
}

func (p *nitterPage) ExtractVisibleItems(ctx context.Context) ([]Item, error) {
	items := make([]Item, 0, len(p.order))
	for _, id := range p.order {
		items = append(items, p.byID[id])
	}
	return items, nil
}

// Advance fetches the next page. Once the feed stops handing out a
// cursor it is a no-op, which the harvester sees as a stale pass.
func (p *nitterPage) Advance(ctx context.Context) error {
	if p.cursor == "" {
		return nil
	}
	u, err := url.Parse(p.target)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("cursor", p.cursor)
	u.RawQuery = q.Encode()

	_, err = p.fetch(ctx, u.String())
	return err
}

func (p *nitterPage) StructuralSignal(ctx context.Context) (Signal, error) {
	return Signal{VisibleCount: len(p.order), ContentExtent: p.bytes}, nil
}

func (p *nitterPage) Diagnostics(ctx context.Context) PageDiagnostics {
	return PageDiagnostics{
		CurrentURL:  p.lastURL,
		PageTitle:   p.title,
		BodySnippet: string(p.body),
	}
}

func (p *nitterPage) Close() error {
	p.feed.client.CloseIdleConnections()
	return nil
}

func (p *nitterPage) fetch(ctx context.Context, feedURL string) (int, error) {
	p.lastURL = feedURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create nitter request: %w", err)
	}
	req.Header.Set("User-Agent", p.feed.userAgent)

	resp, err := p.feed.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch nitter feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read nitter feed: %w", err)
	}
	p.body = body

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nitter feed status %d", resp.StatusCode)
	}

	parsed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse nitter feed: %w", err)
	}

	p.title = parsed.Title
	p.bytes += len(body)
	p.cursor = resp.Header.Get("Min-Id")

	added := 0
	for _, entry := range parsed.Items {
		it := p.feed.convert(entry)
		if it.ID == "" {
			continue
		}
		if _, seen := p.byID[it.ID]; !seen {
			p.order = append(p.order, it.ID)
			added++
		}
		p.byID[it.ID] = it
	}
	return added, nil
}

func (n *NitterFeed) convert(entry *gofeed.Item) Item {
	// Convert nitter link back to x.com.
	link := strings.Replace(entry.Link, n.nitterURL, "https://x.com", 1)
	link, _, _ = strings.Cut(link, "#")

	id := statusID(link)
	if id == "" {
		id = statusID(entry.GUID)
	}

	var handle string
	if entry.Author != nil {
		handle = entry.Author.Name
	} else if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		handle = entry.Authors[0].Name
	}
	if handle != "" && !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}

	var postedAt string
	if entry.PublishedParsed != nil {
		postedAt = entry.PublishedParsed.UTC().Format(time.RFC3339)
	}

	var media []Media
	for _, enc := range entry.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		typ := MediaPhoto
		if strings.HasPrefix(enc.Type, "video/") {
			typ = MediaVideo
		}
		media = append(media, Media{Type: typ, URL: enc.URL})
	}

	return Item{
		ID:       id,
		URL:      link,
		Text:     strings.TrimSpace(entry.Title),
		Author:   strings.TrimPrefix(handle, "@"),
		Handle:   handle,
		PostedAt: postedAt,
		Media:    media,
	}
}
