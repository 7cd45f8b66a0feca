package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const diagnosticsTimeout = 5 * time.Second

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	ExecPath  string // empty = auto-detect Chrome/Chromium
	Headless  bool
	UserAgent string
	Cookies   []Cookie
}

// Browser opens timeline pages in headless Chrome via the DevTools
// protocol.
type Browser struct {
	cfg BrowserConfig
}

// NewBrowser creates a browser page opener.
func NewBrowser(cfg BrowserConfig) *Browser {
	return &Browser{cfg: cfg}
}

// Open launches a browser process with a single tab.
func (b *Browser) Open(ctx context.Context) (PageDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.WindowSize(1280, 2200),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}

	// The browser outlives the caller's ctx; it is torn down by Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &browserPage{
		ctx:     tabCtx,
		cookies: b.cfg.Cookies,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	if err := p.run(ctx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return p, nil
}

type browserPage struct {
	ctx     context.Context // chromedp tab context
	cancel  func()
	cookies []Cookie
	baseURL string
}

// run executes actions on the tab, aborting when the caller's ctx ends.
func (p *browserPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *browserPage) Load(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse timeline url: %w", err)
	}
	p.baseURL = u.Scheme + "://" + u.Host

	return p.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range p.cookies {
				domain := c.Domain
				if domain == "" {
					domain = "." + strings.TrimPrefix(u.Hostname(), "www.")
				}
				path := c.Path
				if path == "" {
					path = "/"
				}
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(domain).
					WithPath(path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					Do(ctx)
				if err != nil {
					return fmt.Errorf("set cookie %s: %w", c.Name, err)
				}
			}
			return nil
		}),
		chromedp.Navigate(target),
		chromedp.WaitVisible(ItemSelector, chromedp.ByQuery),
	)
}

func (p *browserPage) SelectView(ctx context.Context, label string) (bool, error) {
	quoted, err := json.Marshal(strings.ToLower(strings.TrimSpace(label)))
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(() => {
		const tabs = Array.from(document.querySelectorAll('[role="tab"]'));
		const tab = tabs.find((el) => (el.innerText || '').trim().toLowerCase() === %s);
		if (!tab) { return false; }
		tab.click();
		return true;
	})()`, quoted)

	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

func (p *browserPage) ExtractVisibleItems(ctx context.Context) ([]Item, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return ExtractItems(strings.NewReader(html), p.baseURL)
}

func (p *browserPage) Advance(ctx context.Context) error {
	var height float64
	return p.run(ctx, chromedp.Evaluate(
		`window.scrollBy(0, document.body.scrollHeight * 0.75); document.body.scrollHeight`, &height))
}

func (p *browserPage) StructuralSignal(ctx context.Context) (Signal, error) {
	var m struct {
		ArticleCount int     `json:"articleCount"`
		ScrollHeight float64 `json:"scrollHeight"`
	}
	script := fmt.Sprintf(`({
		articleCount: document.querySelectorAll(%q).length,
		scrollHeight: document.body ? document.body.scrollHeight : 0
	})`, ItemSelector)
	if err := p.run(ctx, chromedp.Evaluate(script, &m)); err != nil {
		return Signal{}, err
	}
	return Signal{VisibleCount: m.ArticleCount, ContentExtent: int(m.ScrollHeight)}, nil
}

// Diagnostics is best effort: every probe that fails is left empty.
func (p *browserPage) Diagnostics(ctx context.Context) PageDiagnostics {
	ctx, cancel := context.WithTimeout(ctx, diagnosticsTimeout)
	defer cancel()

	var d PageDiagnostics
	_ = p.run(ctx, chromedp.Location(&d.CurrentURL))
	_ = p.run(ctx, chromedp.Title(&d.PageTitle))
	_ = p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &d.BodySnippet))
	return d
}

func (p *browserPage) Close() error {
	p.cancel()
	return nil
}
