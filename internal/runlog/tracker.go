// Package runlog records per-run telemetry: counters, error breakdown, and
// the run lifecycle row in the store.
package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/store"
)

// Tracker owns one Run row for the lifetime of a scrape. Counter methods are
// safe for concurrent use; Start and Finish are not, and Finish is a no-op
// after the first call.
type Tracker struct {
	mu       sync.Mutex
	st       store.Store
	log      *zap.Logger
	run      *model.Run
	finished bool

	now func() time.Time
}

// New prepares a Tracker for a fresh run. cfgSnapshot is persisted verbatim
// so a run can be reproduced from its row alone.
func New(st store.Store, version string, cfgSnapshot map[string]any, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		st:  st,
		log: log,
		run: &model.Run{
			RunID:          uuid.NewString(),
			ScraperVersion: version,
			Config:         cfgSnapshot,
			Status:         model.RunStatusRunning,
			ErrorSummary:   map[string]int{},
		},
		now: time.Now,
	}
}

// Start persists the running row. Failure here means the store is unreachable
// and the run must not proceed.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.StartTime = t.now().UTC()
	if err := t.st.CreateRun(ctx, t.run); err != nil {
		return eris.Wrap(err, "runlog: create run")
	}
	t.log.Info("run started",
		zap.String("run_id", t.run.RunID),
		zap.String("version", t.run.ScraperVersion))
	return nil
}

func (t *Tracker) RecordPage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.PagesVisited++
}

func (t *Tracker) RecordParsed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.TendersParsed++
}

func (t *Tracker) RecordSaved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.TendersSaved++
}

func (t *Tracker) RecordDeduped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.DedupedCount++
}

// RecordFailure bumps the total failure counter and the per-kind breakdown.
// Kinds in use: fetch, detail_fetch, extraction, validation, store.
func (t *Tracker) RecordFailure(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Failures++
	t.run.ErrorSummary[kind]++
}

// Finish finalizes the run exactly once. Subsequent calls return nil without
// touching the store.
func (t *Tracker) Finish(ctx context.Context, status model.RunStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}
	t.finished = true

	end := t.now().UTC()
	dur := end.Sub(t.run.StartTime).Seconds()
	t.run.EndTime = &end
	t.run.DurationSeconds = &dur
	t.run.Status = status

	if err := t.st.FinishRun(ctx, t.run); err != nil {
		return eris.Wrap(err, "runlog: finish run")
	}
	t.log.Info("run finished",
		zap.String("run_id", t.run.RunID),
		zap.String("status", string(status)),
		zap.Float64("duration_seconds", dur),
		zap.Int("pages_visited", t.run.PagesVisited),
		zap.Int("tenders_parsed", t.run.TendersParsed),
		zap.Int("tenders_saved", t.run.TendersSaved),
		zap.Int("deduped", t.run.DedupedCount),
		zap.Int("failures", t.run.Failures))
	return nil
}

// Run returns a snapshot copy of the current run state.
func (t *Tracker) Run() model.Run {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := *t.run
	snap.ErrorSummary = make(map[string]int, len(t.run.ErrorSummary))
	for k, v := range t.run.ErrorSummary {
		snap.ErrorSummary[k] = v
	}
	return snap
}
