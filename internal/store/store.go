// Package store persists canonical tenders and run telemetry to Postgres.
package store

import (
	"context"

	"github.com/procurescan/scraper-cli/internal/model"
)

// UpsertOutcome reports whether an upsert created a new row or overwrote an
// existing one.
type UpsertOutcome string

const (
	OutcomeInserted UpsertOutcome = "inserted"
	OutcomeUpdated  UpsertOutcome = "updated"
)

// Store defines the persistence interface for the scrape pipeline.
type Store interface {
	// Tenders
	UpsertTender(ctx context.Context, t *model.Tender) (UpsertOutcome, error)
	TenderExists(ctx context.Context, tenderID, source string) (bool, error)
	RecentTenders(ctx context.Context, source string, limit int) ([]model.Tender, error)
	CountTenders(ctx context.Context, source string) (int64, error)

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
