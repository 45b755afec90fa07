package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/store"
)

// recordingStore captures run rows without a database.
type recordingStore struct {
	created   *model.Run
	finished  *model.Run
	createErr error
	finishErr error
}

func (r *recordingStore) CreateRun(_ context.Context, run *model.Run) error {
	if r.createErr != nil {
		return r.createErr
	}
	snap := *run
	r.created = &snap
	run.ID = 1
	return nil
}

func (r *recordingStore) FinishRun(_ context.Context, run *model.Run) error {
	if r.finishErr != nil {
		return r.finishErr
	}
	snap := *run
	r.finished = &snap
	return nil
}

func (r *recordingStore) UpsertTender(context.Context, *model.Tender) (store.UpsertOutcome, error) {
	return store.OutcomeInserted, nil
}
func (r *recordingStore) TenderExists(context.Context, string, string) (bool, error) {
	return false, nil
}
func (r *recordingStore) RecentTenders(context.Context, string, int) ([]model.Tender, error) {
	return nil, nil
}
func (r *recordingStore) CountTenders(context.Context, string) (int64, error) { return 0, nil }
func (r *recordingStore) ListRuns(context.Context, int) ([]model.Run, error)  { return nil, nil }
func (r *recordingStore) Ping(context.Context) error                          { return nil }
func (r *recordingStore) Migrate(context.Context) error                       { return nil }
func (r *recordingStore) Close() error                                        { return nil }

func TestTracker_StartPersistsRunningRow(t *testing.T) {
	rs := &recordingStore{}
	tr := New(rs, "1.0.0", map[string]any{"rate_limit": 2.0}, nil)

	require.NoError(t, tr.Start(context.Background()))
	require.NotNil(t, rs.created)
	assert.Equal(t, model.RunStatusRunning, rs.created.Status)
	assert.NotEmpty(t, rs.created.RunID)
	assert.Equal(t, "1.0.0", rs.created.ScraperVersion)
	assert.Equal(t, 2.0, rs.created.Config["rate_limit"])
}

func TestTracker_StartFailsWhenStoreUnreachable(t *testing.T) {
	rs := &recordingStore{createErr: eris.New("connection refused")}
	tr := New(rs, "1.0.0", nil, nil)

	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create run")
}

func TestTracker_CountersAndErrorSummary(t *testing.T) {
	tr := New(&recordingStore{}, "1.0.0", nil, nil)

	tr.RecordPage()
	tr.RecordPage()
	tr.RecordParsed()
	tr.RecordSaved()
	tr.RecordDeduped()
	tr.RecordFailure("validation")
	tr.RecordFailure("validation")
	tr.RecordFailure("fetch")

	run := tr.Run()
	assert.Equal(t, 2, run.PagesVisited)
	assert.Equal(t, 1, run.TendersParsed)
	assert.Equal(t, 1, run.TendersSaved)
	assert.Equal(t, 1, run.DedupedCount)
	assert.Equal(t, 3, run.Failures)
	assert.Equal(t, map[string]int{"validation": 2, "fetch": 1}, run.ErrorSummary)
}

func TestTracker_FinishComputesDuration(t *testing.T) {
	rs := &recordingStore{}
	tr := New(rs, "1.0.0", nil, nil)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	calls := 0
	tr.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(90 * time.Second)
	}

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Finish(context.Background(), model.RunStatusCompleted))

	require.NotNil(t, rs.finished)
	assert.Equal(t, model.RunStatusCompleted, rs.finished.Status)
	require.NotNil(t, rs.finished.DurationSeconds)
	assert.Equal(t, 90.0, *rs.finished.DurationSeconds)
	require.NotNil(t, rs.finished.EndTime)
	assert.Equal(t, base.Add(90*time.Second), *rs.finished.EndTime)
}

func TestTracker_FinishIsIdempotent(t *testing.T) {
	rs := &recordingStore{}
	tr := New(rs, "1.0.0", nil, nil)

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Finish(context.Background(), model.RunStatusFailed))
	first := rs.finished

	// Second finalization with a different status must not write.
	require.NoError(t, tr.Finish(context.Background(), model.RunStatusCompleted))
	assert.Equal(t, first, rs.finished)
	assert.Equal(t, model.RunStatusFailed, rs.finished.Status)
}

func TestTracker_RunReturnsIndependentSnapshot(t *testing.T) {
	tr := New(&recordingStore{}, "1.0.0", nil, nil)
	tr.RecordFailure("store")

	snap := tr.Run()
	snap.ErrorSummary["store"] = 99
	assert.Equal(t, 1, tr.Run().ErrorSummary["store"])
}
