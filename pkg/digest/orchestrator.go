package digest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/elonfeng/timeline-digest/pkg/source"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// MaxDays bounds how many days a backfill may cover.
const MaxDays = 7

// ErrNoTopics is returned when a run is started without any topics.
var ErrNoTopics = errors.New("digest topics are empty: configure at least one topic")

// Harvester collects timeline items.
type Harvester interface {
	Harvest(ctx context.Context, opts source.HarvestOptions) ([]source.Item, error)
}

// Generator produces the digest for one day's items.
type Generator interface {
	GenerateDayDigest(ctx context.Context, day string, items []source.Item, topics []string) (*trend.DayDigest, error)
}

// Store persists one processed day.
type Store interface {
	PersistDay(ctx context.Context, rec *DayRecord) error
}

// Notifier delivers a finished day digest.
type Notifier interface {
	Notify(ctx context.Context, p *Preview) error
}

// DayRecord is everything persisted for one processed day.
type DayRecord struct {
	Day          string
	RunID        string
	Source       string
	Model        string
	GeneratedAt  time.Time
	Subject      string
	Summary      string
	Items        []source.Item    // every item of the day, scored
	Decisions    []trend.Decision // one per item, aligned with Items
	Highlights   []Highlight      // all relevant items, ranked
	ArticleLinks []trend.ArticleLink
}

// Tunables bound a harvest.
type Tunables struct {
	TargetCount int
	MaxPasses   int
}

// Config controls the orchestrator.
type Config struct {
	Topics         []string
	Location       *time.Location
	MaxItemsPerDay int
	Model          string
	Daily          Tunables
	Backfill       Tunables

	// PersistDryRun persists dry-run results too.
	PersistDryRun bool
	// IsolateDayFailures keeps processing later days when one day's
	// generation fails instead of aborting the run.
	IsolateDayFailures bool
}

// Orchestrator runs the harvest, bucket, score, generate and persist
// pipeline over a window of days.
type Orchestrator struct {
	cfg       Config
	harvester Harvester
	generator Generator
	store     Store
	notifier  Notifier
	logger    *log.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. store and notifier may be nil.
func NewOrchestrator(cfg Config, h Harvester, g Generator, s Store, n Notifier, logger *log.Logger) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxItemsPerDay <= 0 {
		cfg.MaxItemsPerDay = 120
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Orchestrator{
		cfg:       cfg,
		harvester: h,
		generator: g,
		store:     s,
		notifier:  n,
		logger:    logger,
		now:       time.Now,
	}
}

// ClampDays limits a requested day count to [1, MaxDays].
func ClampDays(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxDays {
		return MaxDays
	}
	return n
}

// RunDaily runs the pipeline for today only.
func (o *Orchestrator) RunDaily(ctx context.Context, opts RunOptions) (*RunResult, error) {
	return o.Run(ctx, 1, opts)
}

// Run harvests the timeline once and produces a digest for every day in
// the window ending today, newest day first. It returns the last
// processed day's result with run-wide counts.
func (o *Orchestrator) Run(ctx context.Context, requestedDays int, opts RunOptions) (*RunResult, error) {
	if len(o.cfg.Topics) == 0 {
		return nil, ErrNoTopics
	}
	days := ClampDays(requestedDays)
	runID := uuid.NewString()
	logger := o.logger.With("run", runID, "source", opts.Source)

	tun := o.cfg.Daily
	if days > 1 {
		tun = o.cfg.Backfill
	}
	logger.Info("harvesting timeline", "days", days, "target", tun.TargetCount, "passes", tun.MaxPasses)

	items, err := o.harvester.Harvest(ctx, source.HarvestOptions{
		DaysBack:    days,
		TargetCount: tun.TargetCount,
		MaxPasses:   tun.MaxPasses,
	})
	if err != nil {
		if he, ok := source.IsHarvestError(err); ok {
			logger.Error("harvest failed", "err", he.Err)
			res := Failed(he)
			res.RunID = runID
			diag := he.Diagnostics
			res.Debug = &diag
			return res, nil
		}
		return nil, fmt.Errorf("harvest timeline: %w", err)
	}
	if len(items) == 0 {
		res := Skipped("no items captured")
		res.RunID = runID
		return res, nil
	}

	now := o.now()
	today := DayKey(now, o.cfg.Location)
	lower := DayKey(now.Add(-time.Duration(days-1)*24*time.Hour), o.cfg.Location)
	buckets := BucketByDay(items, o.cfg.Location)
	ordered := DaysInWindow(buckets, lower, today)
	if len(ordered) == 0 {
		res := Skipped("no items inside day window")
		res.RunID = runID
		res.TotalItemsFetched = len(items)
		return res, nil
	}
	logger.Info("harvest complete", "items", len(items), "days", ordered)

	var (
		latest    *RunResult
		processed int
		failed    []string
	)
	for _, day := range ordered {
		res, err := o.processDay(ctx, runID, day, buckets[day], opts)
		if err != nil {
			if !o.cfg.IsolateDayFailures || ctx.Err() != nil {
				return nil, fmt.Errorf("digest day %s: %w", day, err)
			}
			logger.Error("day failed", "day", day, "err", err)
			failed = append(failed, day)
			continue
		}
		latest = res
		processed++
	}

	if latest == nil {
		latest = &RunResult{Status: StatusFailed, Error: "no days processed successfully"}
	}
	latest.RunID = runID
	latest.DaysProcessed = processed
	latest.DaysFailed = failed
	latest.TotalItemsFetched = len(items)
	return latest, nil
}

func (o *Orchestrator) processDay(ctx context.Context, runID, day string, dayItems []source.Item, opts RunOptions) (*RunResult, error) {
	scored := trend.Score(dayItems, o.cfg.Topics)
	input := scored
	if len(input) > o.cfg.MaxItemsPerDay {
		input = input[:o.cfg.MaxItemsPerDay]
	}

	dd, err := o.generator.GenerateDayDigest(ctx, day, input, o.cfg.Topics)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(scored))
	byID := make(map[string]source.Item, len(scored))
	for i, it := range scored {
		ids[i] = it.ID
		byID[it.ID] = it
	}
	decisions := dd.Complete(ids)
	highlights := Highlights(RankRelevant(decisions), byID)
	preview := buildPreview(day, dd, highlights)

	res := &RunResult{
		Status:         StatusSent,
		Subject:        dd.Subject,
		InspectedItems: len(dayItems),
		IncludedItems:  len(highlights),
		Preview:        preview,
	}
	if opts.DryRun {
		res.Status = StatusDryRun
	}

	if o.store != nil && (!opts.DryRun || o.cfg.PersistDryRun) {
		rec := &DayRecord{
			Day:          day,
			RunID:        runID,
			Source:       opts.Source,
			Model:        o.cfg.Model,
			GeneratedAt:  o.now().UTC(),
			Subject:      dd.Subject,
			Summary:      dd.Summary,
			Items:        scored,
			Decisions:    decisions,
			Highlights:   highlights,
			ArticleLinks: preview.ArticleLinks,
		}
		if err := o.store.PersistDay(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist day: %w", err)
		}
	}

	if !opts.DryRun && o.notifier != nil {
		if err := o.notifier.Notify(ctx, preview); err != nil {
			o.logger.Warn("digest delivery failed", "day", day, "err", err)
		}
	}

	o.logger.Info("day processed", "day", day, "inspected", len(dayItems), "included", len(highlights), "status", res.Status)
	return res, nil
}
