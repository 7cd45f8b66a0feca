package source

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// ItemSelector matches one rendered timeline entry.
	ItemSelector = `article[data-testid="tweet"]`

	defaultBaseURL = "https://x.com"
)

var handlePattern = regexp.MustCompile(`@[A-Za-z0-9_]+`)

// ExtractItems parses every rendered timeline entry out of an HTML
// snapshot. Relative links are resolved against baseURL. Entries without
// an id or text are dropped.
func ExtractItems(r io.Reader, baseURL string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	var items []Item
	doc.Find(ItemSelector).Each(func(_ int, article *goquery.Selection) {
		it := extractArticle(article, base)
		if it.ID == "" || it.Text == "" {
			return
		}
		items = append(items, it)
	})
	return items, nil
}

func extractArticle(article *goquery.Selection, base *url.URL) Item {
	var it Item

	if href, ok := article.Find(`a[href*="/status/"]`).First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			it.URL = base.ResolveReference(u).String()
		}
		it.ID = statusID(href)
	}

	it.Text = strings.TrimSpace(article.Find(`[data-testid="tweetText"]`).First().Text())

	userName := strings.TrimSpace(article.Find(`[data-testid="User-Name"]`).First().Text())
	if loc := handlePattern.FindStringIndex(userName); loc != nil {
		it.Handle = userName[loc[0]:loc[1]]
		it.Author = strings.TrimSpace(userName[:loc[0]])
	} else {
		it.Author = userName
	}

	if dt, ok := article.Find("time").First().Attr("datetime"); ok {
		it.PostedAt = dt
	}

	it.Replies = ParseCount(ariaLabel(article, "reply"))
	it.Reposts = ParseCount(ariaLabel(article, "retweet"))
	it.Likes = ParseCount(ariaLabel(article, "like"))
	it.Views = ParseCount(ariaLabel(article, "analytics"))
	it.Media = extractMedia(article, base)
	return it
}

// statusID extracts the numeric id from ".../status/<id>[/...][?...]".
func statusID(href string) string {
	_, rest, ok := strings.Cut(href, "/status/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func ariaLabel(article *goquery.Selection, testID string) string {
	control := article.Find(fmt.Sprintf(`[data-testid="%s"]`, testID)).First()
	if control.Length() == 0 {
		return ""
	}
	candidate := control.Find("[aria-label]").First()
	if candidate.Length() == 0 {
		candidate = control.Closest("[aria-label]")
	}
	label, _ := candidate.Attr("aria-label")
	return label
}

func extractMedia(article *goquery.Selection, base *url.URL) []Media {
	var media []Media
	article.Find(`[data-testid="tweetPhoto"] img`).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		alt, _ := img.Attr("alt")
		if src == "" {
			return
		}
		media = append(media, Media{Type: MediaPhoto, URL: resolve(base, src), Alt: alt})
	})
	article.Find("video").Each(func(_ int, v *goquery.Selection) {
		src, _ := v.Attr("src")
		if src == "" {
			src, _ = v.Find("source").First().Attr("src")
		}
		poster, _ := v.Attr("poster")
		m := Media{Type: MediaVideo}
		if src != "" {
			m.URL = resolve(base, src)
		}
		if poster != "" {
			m.Poster = resolve(base, poster)
		}
		media = append(media, m)
	})
	return media
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Snippet collapses whitespace and truncates to at most n runes.
func Snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
