package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/timeline-digest/internal/config"
	"github.com/elonfeng/timeline-digest/internal/coordinator"
	"github.com/elonfeng/timeline-digest/internal/logging"
	"github.com/elonfeng/timeline-digest/internal/scheduler"
	"github.com/elonfeng/timeline-digest/internal/store"
	"github.com/elonfeng/timeline-digest/pkg/alert"
	"github.com/elonfeng/timeline-digest/pkg/digest"
	"github.com/elonfeng/timeline-digest/pkg/server"
	"github.com/elonfeng/timeline-digest/pkg/source"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// stateName keys the coordinator row shared by every entry point.
const stateName = "digest"

// app is the wired pipeline.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	db     *store.SQLiteStore
	coord  *coordinator.Coordinator
}

func (a *app) Close() error { return a.db.Close() }

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, nil
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)

	loc, err := cfg.Digest.Location()
	if err != nil {
		return nil, err
	}
	gen, err := trend.NewLLMGenerator(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("llm generator: %w", err)
	}
	logger.Info("llm generator", "provider", cfg.LLM.Provider, "model", gen.Model())

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	harvester := source.NewHarvester(buildOpener(cfg), source.HarvesterConfig{
		URL:            cfg.Timeline.URL,
		View:           cfg.Timeline.View,
		LoadTimeout:    config.ParseDuration(cfg.Timeline.LoadTimeout, 30*time.Second),
		AdvanceEvery:   config.ParseDuration(cfg.Timeline.AdvanceEvery, 1200*time.Millisecond),
		SettleInterval: config.ParseDuration(cfg.Timeline.SettleInterval, 250*time.Millisecond),
		SettlePolls:    cfg.Timeline.SettlePolls,
		HydrationPause: config.ParseDuration(cfg.Timeline.HydrationPause, 400*time.Millisecond),
		RawCookies:     cfg.Timeline.SessionCookies,
	}, logger)

	orch := digest.NewOrchestrator(digest.Config{
		Topics:         cfg.Digest.Topics,
		Location:       loc,
		MaxItemsPerDay: cfg.Digest.MaxItemsPerDay,
		Model:          gen.Model(),
		Daily: digest.Tunables{
			TargetCount: cfg.Timeline.TargetCount,
			MaxPasses:   cfg.Timeline.MaxPasses,
		},
		Backfill: digest.Tunables{
			TargetCount: cfg.Timeline.BackfillTargetCount,
			MaxPasses:   cfg.Timeline.BackfillMaxPasses,
		},
		PersistDryRun:      cfg.Digest.PersistDryRun,
		IsolateDayFailures: cfg.Digest.IsolateDayFailures,
	}, harvester, gen, db, buildAlertManager(cfg), logger)

	ttl := config.ParseDuration(cfg.Digest.LockTTL, coordinator.DefaultLockTTL)
	var state coordinator.State = db.CoordinatorState(stateName)
	if cfg.Digest.LockStore == "memory" {
		state = coordinator.NewMemoryState()
	}
	coord := coordinator.New(state, orch, ttl, logger)

	return &app{cfg: cfg, logger: logger, db: db, coord: coord}, nil
}

func buildOpener(cfg *config.Config) source.Opener {
	if cfg.Timeline.Driver == "nitter" {
		return source.NewNitterFeed(cfg.Timeline.NitterURL, cfg.Timeline.UserAgent)
	}
	return source.NewBrowser(source.BrowserConfig{
		ExecPath:  cfg.Timeline.ChromePath,
		Headless:  cfg.Timeline.Headless,
		UserAgent: cfg.Timeline.UserAgent,
		Cookies:   source.ParseCookieList(cfg.Timeline.SessionCookies),
	})
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runDaily(ctx context.Context, dryRun bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coord.RunDaily(ctx, digest.RunOptions{Source: "manual", DryRun: dryRun})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runBackfill(ctx context.Context, days int, dryRun bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if days != digest.ClampDays(days) {
		a.logger.Warn("days clamped", "requested", days, "days", digest.ClampDays(days))
	}
	res, err := a.coord.Backfill(ctx, digest.RunOptions{Source: "backfill", DryRun: dryRun}, days)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runLast(ctx context.Context) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := db.CoordinatorState(stateName).Last(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return printJSON(map[string]string{"status": "never-run"})
	}
	return printJSON(snap)
}

func runDays(ctx context.Context, limit int, unfiltered bool) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	list := db.ListDigestDays
	if unfiltered {
		list = db.ListUnfilteredDays
	}
	days, err := list(ctx, limit)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		fmt.Println("no digests stored yet (try: tldigest run)")
		return nil
	}
	for _, d := range days {
		fmt.Println(d)
	}
	return nil
}

func runShow(ctx context.Context, day string, jsonOutput, unfiltered bool) error {
	if !digest.ValidDay(day) {
		return fmt.Errorf("invalid day %q: expected YYYY-MM-DD", day)
	}
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if unfiltered {
		u, err := db.GetUnfilteredDay(ctx, day)
		if err != nil {
			return fmt.Errorf("day %s: %w", day, err)
		}
		if jsonOutput {
			return printJSON(u)
		}
		return printHighlights(u.Subject, u.Highlights)
	}

	d, err := db.GetDailyDigest(ctx, day)
	if err != nil {
		return fmt.Errorf("day %s: %w", day, err)
	}
	if jsonOutput {
		return printJSON(d)
	}
	highlights := make([]digest.Highlight, len(d.Highlights))
	for i, h := range d.Highlights {
		highlights[i] = h.Data
	}
	fmt.Println(d.Subject)
	fmt.Println()
	fmt.Println(digest.PlainText(d.Day, d.Summary, highlights))
	return nil
}

func printHighlights(title string, rows []store.RankedHighlight) error {
	fmt.Println(title)
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPOSTED\tAUTHOR\tTEXT")
	for _, r := range rows {
		var posted, author, text string
		if it := r.Data.Item; it != nil {
			posted, author, text = it.PostedAt, it.Handle, source.Snippet(it.Text, 80)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Rank, posted, author, text)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int, schedule bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	if a.cfg.Server.AdminToken == "" {
		a.logger.Warn("ADMIN_TOKEN is not set; admin routes will reject every request")
	}

	srv := server.New(a.coord, a.db, a.cfg.Server.AdminToken, port, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if schedule && a.cfg.Schedule.Enabled {
		sched := scheduler.New(a.coord,
			a.cfg.Schedule.ParseRunInterval(),
			a.cfg.Schedule.RunOnStart,
			a.cfg.Schedule.DryRun,
			a.logger,
		)
		g.Go(func() error { return sched.Run(gctx) })
	}

	err = g.Wait()
	a.logger.Info("shutting down")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
