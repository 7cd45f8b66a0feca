package digest

import (
	"github.com/elonfeng/timeline-digest/pkg/source"
	"github.com/elonfeng/timeline-digest/pkg/trend"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSent    Status = "sent"
	StatusDryRun  Status = "dry-run"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// RunOptions describe who started a run and whether side effects are
// suppressed.
type RunOptions struct {
	Source string `json:"source"`
	DryRun bool   `json:"dry_run"`
}

// RunResult is the observable result of one digest run. After a backfill
// it carries the last processed day plus run-wide aggregates.
type RunResult struct {
	RunID             string              `json:"run_id,omitempty"`
	Status            Status              `json:"status"`
	Reason            string              `json:"reason,omitempty"`
	Error             string              `json:"error,omitempty"`
	Subject           string              `json:"subject,omitempty"`
	InspectedItems    int                 `json:"inspected_items,omitempty"`
	IncludedItems     int                 `json:"included_items,omitempty"`
	Debug             *source.Diagnostics `json:"debug,omitempty"`
	Preview           *Preview            `json:"preview,omitempty"`
	DaysProcessed     int                 `json:"days_processed,omitempty"`
	DaysFailed        []string            `json:"days_failed,omitempty"`
	TotalItemsFetched int                 `json:"total_items_fetched,omitempty"`
}

// Skipped builds a skipped result with the given reason.
func Skipped(reason string) *RunResult {
	return &RunResult{Status: StatusSkipped, Reason: reason}
}

// Failed builds a failed result carrying err's message.
func Failed(err error) *RunResult {
	return &RunResult{Status: StatusFailed, Error: err.Error()}
}

// Highlight is one relevant item as shown in a digest.
type Highlight struct {
	ItemID         string       `json:"item_id"`
	URL            string       `json:"url"`
	WhyRelevant    string       `json:"why_relevant"`
	MainTakeaway   string       `json:"main_takeaway"`
	RelevanceScore float64      `json:"relevance_score"`
	Item           *source.Item `json:"item,omitempty"`
}

// Preview is the rendered digest of one day.
type Preview struct {
	Day          string              `json:"day"`
	Subject      string              `json:"subject"`
	Summary      string              `json:"summary"`
	Highlights   []Highlight         `json:"highlights"`
	ArticleLinks []trend.ArticleLink `json:"article_links"`
	Plain        string              `json:"plain"`
}
