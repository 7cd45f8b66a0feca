package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/timeline-digest/pkg/digest"
	"github.com/elonfeng/timeline-digest/pkg/source"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// ErrNotFound is returned when a requested day has no stored data.
var ErrNotFound = errors.New("not found")

// DefaultListLimit is used when a list call passes a non-positive limit.
const DefaultListLimit = 30

// DailyDigest is a persisted day digest with its highlights and articles.
type DailyDigest struct {
	Day            string            `db:"day" json:"day"`
	Subject        string            `db:"subject" json:"subject"`
	Summary        string            `db:"summary" json:"summary"`
	GeneratedAt    string            `db:"generated_at" json:"generated_at"`
	RunSource      string            `db:"run_source" json:"run_source"`
	RunID          string            `db:"run_id" json:"run_id"`
	Model          string            `db:"model" json:"model"`
	InspectedItems int               `db:"inspected_item_count" json:"inspected_items"`
	IncludedItems  int               `db:"included_item_count" json:"included_items"`
	DigestJSON     string            `db:"digest_json" json:"-"`
	Highlights     []RankedHighlight `db:"-" json:"highlights"`
	Articles       []RankedArticle   `db:"-" json:"articles"`
}

// RankedHighlight is a highlight with its 1-based position.
type RankedHighlight struct {
	Rank int              `json:"rank"`
	Data digest.Highlight `json:"data"`
}

// RankedArticle is an article link with its 1-based position.
type RankedArticle struct {
	Rank int               `json:"rank"`
	Data trend.ArticleLink `json:"data"`
}

// UnfilteredDay is every crawled item of a day, newest first, with the
// generator's takeaways merged in.
type UnfilteredDay struct {
	Day         string            `json:"day"`
	Subject     string            `json:"subject"`
	Summary     string            `json:"summary"`
	GeneratedAt string            `json:"generated_at"`
	Model       string            `json:"model"`
	Highlights  []RankedHighlight `json:"highlights"`
	Articles    []RankedArticle   `json:"articles"`
}

// SQLiteStore persists digests and coordinator state in SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type storedDigest struct {
	Subject      string              `json:"subject"`
	Summary      string              `json:"summary"`
	ArticleLinks []trend.ArticleLink `json:"article_links"`
}

// PersistDay writes one processed day in a single transaction. Rows of a
// previous run for the same day are replaced.
func (s *SQLiteStore) PersistDay(ctx context.Context, rec *digest.DayRecord) error {
	if len(rec.Decisions) != len(rec.Items) {
		return fmt.Errorf("persist day %s: %d decisions for %d items", rec.Day, len(rec.Decisions), len(rec.Items))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	digestJSON, err := json.Marshal(storedDigest{Subject: rec.Subject, Summary: rec.Summary, ArticleLinks: rec.ArticleLinks})
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	generatedAt := rec.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_digests (day, subject, summary, generated_at, run_source, run_id, model, inspected_item_count, included_item_count, digest_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			subject = excluded.subject,
			summary = excluded.summary,
			generated_at = excluded.generated_at,
			run_source = excluded.run_source,
			run_id = excluded.run_id,
			model = excluded.model,
			inspected_item_count = excluded.inspected_item_count,
			included_item_count = excluded.included_item_count,
			digest_json = excluded.digest_json
	`, rec.Day, rec.Subject, rec.Summary, formatTime(generatedAt), rec.Source, rec.RunID, rec.Model,
		len(rec.Items), len(rec.Highlights), string(digestJSON))
	if err != nil {
		return fmt.Errorf("upsert daily digest %s: %w", rec.Day, err)
	}

	for _, table := range []string{"daily_highlight_items", "daily_articles", "daily_item_decisions", "daily_crawled_items"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE day = ?", rec.Day); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, rec.Day, err)
		}
	}

	seenAt := formatTime(s.now())
	for i, it := range rec.Items {
		itemJSON, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", it.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO raw_items (item_id, posted_at, last_seen_at, item_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET
				posted_at = excluded.posted_at,
				last_seen_at = excluded.last_seen_at,
				item_json = excluded.item_json
		`, it.ID, it.PostedAt, seenAt, string(itemJSON)); err != nil {
			return fmt.Errorf("upsert raw item %s: %w", it.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO daily_crawled_items (day, item_id, item_json) VALUES (?, ?, ?)",
			rec.Day, it.ID, string(itemJSON)); err != nil {
			return fmt.Errorf("insert crawled item %s: %w", it.ID, err)
		}

		dec := rec.Decisions[i]
		decJSON, _ := json.Marshal(dec)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_item_decisions (day, item_id, relevant, relevance_score, why_relevant, main_takeaway, decision_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Day, it.ID, dec.Relevant, dec.RelevanceScore, dec.WhyRelevant, dec.MainTakeaway, string(decJSON)); err != nil {
			return fmt.Errorf("insert decision %s: %w", it.ID, err)
		}
	}

	rank := 0
	for _, h := range rec.Highlights {
		if h.Item == nil {
			continue
		}
		rank++
		hJSON, _ := json.Marshal(h)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO daily_highlight_items (day, rank, item_id, highlight_json) VALUES (?, ?, ?, ?)",
			rec.Day, rank, h.ItemID, string(hJSON)); err != nil {
			return fmt.Errorf("insert highlight %s: %w", h.ItemID, err)
		}
	}

	for i, a := range rec.ArticleLinks {
		aJSON, _ := json.Marshal(a)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO daily_articles (day, rank, url, article_json) VALUES (?, ?, ?, ?)",
			rec.Day, i+1, a.URL, string(aJSON)); err != nil {
			return fmt.Errorf("insert article %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// ListDigestDays returns the days with a stored digest, newest first.
func (s *SQLiteStore) ListDigestDays(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	days := []string{}
	if err := s.db.SelectContext(ctx, &days, "SELECT day FROM daily_digests ORDER BY day DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list digest days: %w", err)
	}
	return days, nil
}

// GetDailyDigest returns the stored digest of day, or ErrNotFound.
func (s *SQLiteStore) GetDailyDigest(ctx context.Context, day string) (*DailyDigest, error) {
	var d DailyDigest
	err := s.db.GetContext(ctx, &d, `
		SELECT day, subject, summary, generated_at, run_source, run_id, model, inspected_item_count, included_item_count, digest_json
		FROM daily_digests WHERE day = ?`, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get digest %s: %w", day, err)
	}

	if d.Highlights, err = s.highlights(ctx, day); err != nil {
		return nil, err
	}
	if d.Articles, err = s.articles(ctx, day); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListUnfilteredDays returns the days with crawled items, newest first.
func (s *SQLiteStore) ListUnfilteredDays(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	days := []string{}
	if err := s.db.SelectContext(ctx, &days,
		"SELECT day FROM daily_crawled_items GROUP BY day ORDER BY day DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list unfiltered days: %w", err)
	}
	return days, nil
}

// GetUnfilteredDay returns every crawled item of day, or ErrNotFound.
func (s *SQLiteStore) GetUnfilteredDay(ctx context.Context, day string) (*UnfilteredDay, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, "SELECT item_json FROM daily_crawled_items WHERE day = ?", day); err != nil {
		return nil, fmt.Errorf("get crawled items %s: %w", day, err)
	}

	var items []source.Item
	for _, raw := range rows {
		var it source.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil || it.ID == "" {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	sortNewestFirst(items)

	var decisions []struct {
		ItemID       string `db:"item_id"`
		MainTakeaway string `db:"main_takeaway"`
	}
	if err := s.db.SelectContext(ctx, &decisions,
		"SELECT item_id, main_takeaway FROM daily_item_decisions WHERE day = ?", day); err != nil {
		return nil, fmt.Errorf("get decisions %s: %w", day, err)
	}
	takeaways := make(map[string]string, len(decisions))
	for _, d := range decisions {
		takeaways[d.ItemID] = d.MainTakeaway
	}

	out := &UnfilteredDay{
		Day:     day,
		Subject: "Unfiltered timeline for " + day,
		Summary: "All crawled items from the timeline for " + day + ". No LLM filtering.",
	}
	var meta struct {
		Subject     string `db:"subject"`
		Summary     string `db:"summary"`
		GeneratedAt string `db:"generated_at"`
		Model       string `db:"model"`
	}
	err := s.db.GetContext(ctx, &meta, "SELECT subject, summary, generated_at, model FROM daily_digests WHERE day = ?", day)
	switch {
	case err == nil:
		out.Subject, out.Summary, out.GeneratedAt, out.Model = meta.Subject, meta.Summary, meta.GeneratedAt, meta.Model
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("get digest meta %s: %w", day, err)
	}

	for i := range items {
		it := items[i]
		out.Highlights = append(out.Highlights, RankedHighlight{
			Rank: i + 1,
			Data: digest.Highlight{
				ItemID:       it.ID,
				URL:          it.URL,
				MainTakeaway: takeaways[it.ID],
				Item:         &it,
			},
		})
	}
	if out.Articles, err = s.articles(ctx, day); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) highlights(ctx context.Context, day string) ([]RankedHighlight, error) {
	var rows []struct {
		Rank int    `db:"rank"`
		JSON string `db:"highlight_json"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT rank, highlight_json FROM daily_highlight_items WHERE day = ? ORDER BY rank ASC", day); err != nil {
		return nil, fmt.Errorf("get highlights %s: %w", day, err)
	}
	out := []RankedHighlight{}
	for _, r := range rows {
		var h digest.Highlight
		if err := json.Unmarshal([]byte(r.JSON), &h); err != nil {
			continue
		}
		out = append(out, RankedHighlight{Rank: r.Rank, Data: h})
	}
	return out, nil
}

func (s *SQLiteStore) articles(ctx context.Context, day string) ([]RankedArticle, error) {
	var rows []struct {
		Rank int    `db:"rank"`
		JSON string `db:"article_json"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT rank, article_json FROM daily_articles WHERE day = ? ORDER BY rank ASC", day); err != nil {
		return nil, fmt.Errorf("get articles %s: %w", day, err)
	}
	out := []RankedArticle{}
	for _, r := range rows {
		var a trend.ArticleLink
		if err := json.Unmarshal([]byte(r.JSON), &a); err != nil {
			continue
		}
		out = append(out, RankedArticle{Rank: r.Rank, Data: a})
	}
	return out, nil
}

// sortNewestFirst orders dated items newest first, then undated items by
// id descending.
func sortNewestFirst(items []source.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, iok := items[i].PostedTime()
		tj, jok := items[j].PostedTime()
		switch {
		case iok && jok:
			return ti.After(tj)
		case iok != jok:
			return iok
		default:
			return items[i].ID > items[j].ID
		}
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
