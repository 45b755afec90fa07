package model

import "time"

// RunStatus is the lifecycle state of one scraper execution.
// Running transitions exactly once to Completed or Failed; a row left in
// Running is the externally observable signature of a killed process.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run describes one execution of the full pipeline. Counters are
// monotonically non-decreasing while the run is in Running state and frozen
// after finalization.
type Run struct {
	ID              int64          `json:"id,omitempty"`
	RunID           string         `json:"run_id"`
	ScraperVersion  string         `json:"scraper_version"`
	Config          map[string]any `json:"config,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	Status          RunStatus      `json:"status"`
	PagesVisited    int            `json:"pages_visited"`
	TendersParsed   int            `json:"tenders_parsed"`
	TendersSaved    int            `json:"tenders_saved"`
	DedupedCount    int            `json:"deduped_count"`
	Failures        int            `json:"failures"`
	ErrorSummary    map[string]int `json:"error_summary,omitempty"`
	CreatedAt       time.Time      `json:"created_at,omitempty"`
}
