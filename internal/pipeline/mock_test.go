package pipeline

import (
	"context"
	"sync"

	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/store"
)

// fakeStore is an in-memory store.Store keyed by (tender_id, source). It
// survives across runs within a test so dedup behavior can be exercised.
type fakeStore struct {
	mu      sync.Mutex
	tenders map[string]*model.Tender
	runs    []*model.Run

	createRunErr error
	finishRunErr error
	upsertErr    error
	existsErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenders: map[string]*model.Tender{}}
}

func key(tenderID, source string) string { return tenderID + "|" + source }

func (f *fakeStore) UpsertTender(_ context.Context, t *model.Tender) (store.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	k := key(t.TenderID, t.Source)
	if _, ok := f.tenders[k]; ok {
		f.tenders[k] = t
		return store.OutcomeUpdated, nil
	}
	f.tenders[k] = t
	return store.OutcomeInserted, nil
}

func (f *fakeStore) TenderExists(_ context.Context, tenderID, source string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.tenders[key(tenderID, source)]
	return ok, nil
}

func (f *fakeStore) RecentTenders(_ context.Context, source string, _ int) ([]model.Tender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Tender
	for _, t := range f.tenders {
		if t.Source == source {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) CountTenders(_ context.Context, source string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.tenders {
		if t.Source == source {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRunErr != nil {
		return f.createRunErr
	}
	run.ID = int64(len(f.runs) + 1)
	snap := *run
	f.runs = append(f.runs, &snap)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishRunErr != nil {
		return f.finishRunErr
	}
	for i, r := range f.runs {
		if r.RunID == run.RunID {
			snap := *run
			f.runs[i] = &snap
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListRuns(_ context.Context, _ int) ([]model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Run, 0, len(f.runs))
	for i := len(f.runs) - 1; i >= 0; i-- {
		out = append(out, *f.runs[i])
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }
