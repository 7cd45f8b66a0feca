package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	// stalePassLimit is how many consecutive passes without new ids are
	// tolerated after the cutoff was seen before the harvest stops.
	stalePassLimit = 3

	// settleStableChecks is how many identical structural readings in a
	// row count as a settled view.
	settleStableChecks = 3

	snippetLimit = 2000
)

// Signal is a cheap structural reading of the rendered view.
type Signal struct {
	VisibleCount  int
	ContentExtent int
}

// PageDiagnostics is what a driver can report about its current page.
type PageDiagnostics struct {
	CurrentURL  string
	PageTitle   string
	BodySnippet string
}

// Diagnostics is attached to a failed harvest so operators can tell an
// expired session apart from a genuine load failure.
type Diagnostics struct {
	CurrentURL          string   `json:"current_url"`
	PageTitle           string   `json:"page_title"`
	BodySnippet         string   `json:"body_snippet"`
	RawCookiePresent    bool     `json:"raw_cookie_present"`
	RawCookieLength     int      `json:"raw_cookie_length"`
	InjectedCookieCount int      `json:"injected_cookie_count"`
	InjectedCookieNames []string `json:"injected_cookie_names"`
}

// PageDriver drives one paginated, dynamically rendered view.
type PageDriver interface {
	// Load navigates to url and blocks until at least one item rendered.
	Load(ctx context.Context, url string) error
	ExtractVisibleItems(ctx context.Context) ([]Item, error)
	// Advance triggers loading of the next page of content.
	Advance(ctx context.Context) error
	StructuralSignal(ctx context.Context) (Signal, error)
	Diagnostics(ctx context.Context) PageDiagnostics
	Close() error
}

// ViewSelector is implemented by drivers whose source offers alternative
// feed views (e.g. a "Following" tab). It reports false when the view is
// not present.
type ViewSelector interface {
	SelectView(ctx context.Context, label string) (bool, error)
}

// Opener opens a fresh page session.
type Opener interface {
	Open(ctx context.Context) (PageDriver, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (PageDriver, error)

func (f OpenerFunc) Open(ctx context.Context) (PageDriver, error) { return f(ctx) }

// HarvestError is returned when the view never reached a loadable state.
type HarvestError struct {
	Err         error
	Diagnostics Diagnostics
}

func (e *HarvestError) Error() string {
	return fmt.Sprintf("failed to load timeline items: %v", e.Err)
}

func (e *HarvestError) Unwrap() error { return e.Err }

// HarvestOptions bounds one harvest. A non-positive TargetCount means no
// count cap: the harvest runs until the cutoff or MaxPasses stops it.
type HarvestOptions struct {
	DaysBack    int
	TargetCount int
	MaxPasses   int
}

// HarvesterConfig holds the page-independent tunables.
type HarvesterConfig struct {
	URL            string
	View           string // optional feed view label, e.g. "Following"
	LoadTimeout    time.Duration
	AdvanceEvery   time.Duration // minimum spacing between advances
	SettleInterval time.Duration
	SettlePolls    int
	HydrationPause time.Duration
	RawCookies     string // only used for diagnostics
}

// Harvester incrementally loads a dynamic feed until it converges.
type Harvester struct {
	opener  Opener
	cfg     HarvesterConfig
	cookies []Cookie
	logger  *log.Logger
	now     func() time.Time
}

// NewHarvester creates a harvester over pages produced by opener.
func NewHarvester(opener Opener, cfg HarvesterConfig, logger *log.Logger) *Harvester {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.SettlePolls <= 0 {
		cfg.SettlePolls = 10
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Harvester{
		opener:  opener,
		cfg:     cfg,
		cookies: ParseCookieList(cfg.RawCookies),
		logger:  logger,
		now:     time.Now,
	}
}

// Harvest returns the deduplicated items posted within the last
// opts.DaysBack days. The page is closed on every exit path.
func (h *Harvester) Harvest(ctx context.Context, opts HarvestOptions) (items []Item, err error) {
	if opts.DaysBack < 1 {
		opts.DaysBack = 1
	}
	if opts.MaxPasses < 1 {
		opts.MaxPasses = 1
	}
	cutoff := h.now().Add(-time.Duration(opts.DaysBack) * 24 * time.Hour)

	page, err := h.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			h.logger.Warn("close page", "err", cerr)
		}
	}()

	if err := h.load(ctx, page); err != nil {
		return nil, err
	}

	if h.cfg.View != "" {
		if sel, ok := page.(ViewSelector); ok {
			found, err := sel.SelectView(ctx, h.cfg.View)
			switch {
			case err != nil:
				h.logger.Warn("select view", "view", h.cfg.View, "err", err)
			case !found:
				h.logger.Debug("view not present", "view", h.cfg.View)
			default:
				if err := h.settle(ctx, page); err != nil {
					return nil, err
				}
			}
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if h.cfg.AdvanceEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(h.cfg.AdvanceEvery), 1)
	}

	byID := make(map[string]Item)
	reachedCutoff := false
	stalePasses := 0

	for pass := 1; pass <= opts.MaxPasses; pass++ {
		batch, err := page.ExtractVisibleItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("extract items (pass %d): %w", pass, err)
		}

		added := 0
		for _, it := range batch {
			if it.ID == "" {
				continue
			}
			if _, seen := byID[it.ID]; !seen {
				added++
			}
			byID[it.ID] = it
			if t, ok := it.PostedTime(); ok && t.Before(cutoff) {
				reachedCutoff = true
			}
		}
		if added == 0 {
			stalePasses++
		} else {
			stalePasses = 0
		}

		h.logger.Debug("harvest pass",
			"pass", pass, "extracted", len(batch), "new", added,
			"total", len(byID), "cutoff_reached", reachedCutoff)

		if opts.TargetCount > 0 && len(byID) >= opts.TargetCount {
			break
		}
		if reachedCutoff && stalePasses >= stalePassLimit {
			break
		}
		if pass == opts.MaxPasses {
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := page.Advance(ctx); err != nil {
			return nil, fmt.Errorf("advance (pass %d): %w", pass, err)
		}
		if err := h.settle(ctx, page); err != nil {
			return nil, err
		}
	}

	return withinCutoff(byID, cutoff), nil
}

func (h *Harvester) load(ctx context.Context, page PageDriver) error {
	loadCtx, cancel := context.WithTimeout(ctx, h.cfg.LoadTimeout)
	defer cancel()

	err := page.Load(loadCtx, h.cfg.URL)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	pd := page.Diagnostics(ctx)
	names := CookieNames(h.cookies)
	return &HarvestError{
		Err: err,
		Diagnostics: Diagnostics{
			CurrentURL:          pd.CurrentURL,
			PageTitle:           pd.PageTitle,
			BodySnippet:         Snippet(pd.BodySnippet, snippetLimit),
			RawCookiePresent:    h.cfg.RawCookies != "",
			RawCookieLength:     len(h.cfg.RawCookies),
			InjectedCookieCount: len(names),
			InjectedCookieNames: names,
		},
	}
}

// settle waits until the view's structural signal stops changing, then
// pauses so lazily hydrated counts and timestamps can render.
func (h *Harvester) settle(ctx context.Context, page PageDriver) error {
	var last Signal
	stable := 0
	for i := 0; i < h.cfg.SettlePolls; i++ {
		sig, err := page.StructuralSignal(ctx)
		if err != nil {
			h.logger.Warn("structural signal", "err", err)
			break
		}
		if i > 0 && sig == last {
			stable++
			if stable >= settleStableChecks {
				break
			}
		} else {
			stable = 0
		}
		last = sig
		if err := sleep(ctx, h.cfg.SettleInterval); err != nil {
			return err
		}
	}
	return sleep(ctx, h.cfg.HydrationPause)
}

func withinCutoff(byID map[string]Item, cutoff time.Time) []Item {
	type dated struct {
		item Item
		at   time.Time
	}
	var kept []dated
	for _, it := range byID {
		t, ok := it.PostedTime()
		if !ok || t.Before(cutoff) {
			continue
		}
		kept = append(kept, dated{item: it, at: t})
	}
	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].at.Equal(kept[j].at) {
			return kept[i].at.After(kept[j].at)
		}
		return kept[i].item.ID > kept[j].item.ID
	})

	items := make([]Item, len(kept))
	for i, d := range kept {
		items[i] = d.item
	}
	return items
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsHarvestError reports whether err carries harvest diagnostics.
func IsHarvestError(err error) (*HarvestError, bool) {
	var he *HarvestError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
