package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurescan/scraper-cli/internal/extract"
	"github.com/procurescan/scraper-cli/internal/fetcher"
	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/normalize"
	"github.com/procurescan/scraper-cli/internal/runlog"
)

const testSource = "nprocure"

// portal is an httptest-backed tender site: one listing page and a detail
// page per tender.
type portal struct {
	srv            *httptest.Server
	listingHits    atomic.Int64
	detailHits     atomic.Int64
	failListings   atomic.Bool
	detailBodies   map[string]string
	listingRowsFor func() string
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	p := &portal{detailBodies: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		p.listingHits.Add(1)
		if p.failListings.Load() {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `<html><body><table>%s</table></body></html>`, p.listingRowsFor())
	})
	mux.HandleFunc("/tenders/detail/", func(w http.ResponseWriter, r *http.Request) {
		p.detailHits.Add(1)
		body, ok := p.detailBodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) addTender(id, title, org, typeText, publishDate string) {
	p.detailBodies["/tenders/detail/"+id] = fmt.Sprintf(`<html><body>
<h1 class="tender-title">%s</h1>
<div class="organization-name">%s</div>
<div class="tender-type">%s</div>
<div class="publish-date">%s</div>
<div class="closing-date">30-12-2026</div>
<div class="tender-description">Sealed bids are invited for %s.</div>
</body></html>`, title, org, typeText, publishDate, title)
}

// listingRows renders one listing row per registered tender.
func (p *portal) listingRows(rows []string) {
	p.listingRowsFor = func() string {
		var out string
		for _, r := range rows {
			out += r
		}
		return out
	}
}

func row(id, title, org, typeText, date string) string {
	return fmt.Sprintf(`<tr class="tender-row">
<td class="title">%s</td>
<td class="organization">%s</td>
<td class="date">%s</td>
<td class="type">%s</td>
<td><a href="/tenders/detail/%s">View</a></td>
</tr>`, title, org, date, typeText, id)
}

func newTestController(t *testing.T, p *portal, st *fakeStore, opts Options) *Controller {
	t.Helper()

	f, err := fetcher.New(fetcher.Options{
		BaseURL:     p.srv.URL,
		MaxRetries:  0,
		RatePerSec:  10000,
		Timeout:     5 * time.Second,
		BackoffBase: time.Millisecond,
	}, nil)
	require.NoError(t, err)

	ex, err := extract.NewNprocure(p.srv.URL, extract.DefaultSelectors())
	require.NoError(t, err)

	if opts.Source == "" {
		opts.Source = testSource
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = 1
	}

	tracker := runlog.New(st, "test", nil, nil)
	return New(f, ex, normalize.New(testSource), st, tracker, opts, nil)
}

func TestRun_EndToEnd(t *testing.T) {
	p := newPortal(t)
	p.addTender("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024")
	p.addTender("48214", "Annual Gala Catering", "Dept of Culture", "Miscellaneous", "16-01-2024")
	p.listingRows([]string{
		row("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024"),
		row("48214", "Annual Gala Catering", "Dept of Culture", "Miscellaneous", "16-01-2024"),
	})
	st := newFakeStore()

	run, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.TendersParsed)
	assert.Equal(t, 1, run.TendersSaved, "unmapped tender type fails validation")
	assert.Equal(t, 0, run.DedupedCount)
	assert.Equal(t, 1, run.Failures)
	assert.Equal(t, map[string]int{"validation": 1}, run.ErrorSummary)
	assert.Equal(t, 3, run.PagesVisited, "one listing plus two detail pages")
	require.NotNil(t, run.EndTime)
	require.NotNil(t, run.DurationSeconds)

	saved := st.tenders[key("48213", testSource)]
	require.NotNil(t, saved)
	assert.Equal(t, model.TenderTypeGoods, saved.Type)
	assert.Equal(t, "2024-01-15", saved.PublishDate)
	assert.Equal(t, "2026-12-30", saved.ClosingDate)
}

func TestRun_RerunDedupsWithoutDetailFetch(t *testing.T) {
	p := newPortal(t)
	p.addTender("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024")
	p.addTender("48214", "Annual Gala Catering", "Dept of Culture", "Miscellaneous", "16-01-2024")
	p.listingRows([]string{
		row("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024"),
		row("48214", "Annual Gala Catering", "Dept of Culture", "Miscellaneous", "16-01-2024"),
	})
	st := newFakeStore()

	_, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.NoError(t, err)
	detailHitsAfterFirst := p.detailHits.Load()

	run, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.TendersSaved)
	assert.Equal(t, 1, run.DedupedCount, "known tender is skipped before the detail fetch")
	assert.Equal(t, 1, run.Failures, "the invalid row fails again")
	assert.Equal(t, detailHitsAfterFirst+1, p.detailHits.Load(),
		"second run fetches only the unknown tender's detail page")
	assert.Len(t, st.tenders, 1)
}

func TestRun_CircuitBreakerStopsListingFetches(t *testing.T) {
	p := newPortal(t)
	p.listingRows([]string{})
	p.failListings.Store(true)
	st := newFakeStore()

	run, err := newTestController(t, p, st, Options{MaxPages: 10}).Run(context.Background())
	require.NoError(t, err, "a tripped breaker degrades the run, it does not fail it")

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(breakerThreshold), p.listingHits.Load(),
		"no listing fetch after the breaker opens")
	assert.Equal(t, 0, run.PagesVisited)
	assert.Equal(t, breakerThreshold, run.Failures)
	assert.Equal(t, map[string]int{"fetch": breakerThreshold}, run.ErrorSummary)
}

func TestRun_BreakerResetsOnSuccess(t *testing.T) {
	p := newPortal(t)
	p.addTender("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024")
	p.listingRows([]string{
		row("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024"),
	})

	// Listing fails twice, then recovers. The success resets the streak, so
	// pagination continues.
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `<html><body><table>%s</table></body></html>`, p.listingRowsFor())
	})
	mux.HandleFunc("/tenders/detail/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, p.detailBodies[r.URL.Path])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p2 := &portal{srv: srv, detailBodies: p.detailBodies, listingRowsFor: p.listingRowsFor}

	st := newFakeStore()
	run, err := newTestController(t, p2, st, Options{MaxPages: 3}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.TendersSaved)
	assert.Equal(t, 2, run.ErrorSummary["fetch"])
}

func TestRun_ItemLimitStopsNewDetailFetches(t *testing.T) {
	p := newPortal(t)
	p.addTender("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024")
	p.addTender("48214", "Road Resurfacing Phase II", "Public Works", "Works", "16-01-2024")
	p.listingRows([]string{
		row("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024"),
		row("48214", "Road Resurfacing Phase II", "Public Works", "Works", "16-01-2024"),
	})
	st := newFakeStore()

	run, err := newTestController(t, p, st, Options{Limit: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.TendersSaved)
	assert.Equal(t, int64(1), p.detailHits.Load(), "limit stops before the second detail fetch")
}

func TestRun_StoreUnreachableIsFatal(t *testing.T) {
	p := newPortal(t)
	p.listingRows([]string{})
	st := newFakeStore()
	st.createRunErr = fmt.Errorf("dial tcp: connection refused")

	run, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create run")
	assert.Equal(t, int64(0), p.listingHits.Load(), "no scraping without a run row")
	assert.Equal(t, model.RunStatusRunning, run.Status)
}

func TestRun_StoreErrorOnUpsertIsCounted(t *testing.T) {
	p := newPortal(t)
	p.addTender("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024")
	p.listingRows([]string{
		row("48213", "Supply of Laboratory Equipment", "Dept of Health", "Goods", "15-01-2024"),
	})
	st := newFakeStore()
	st.upsertErr = fmt.Errorf("constraint violation")

	run, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.TendersParsed)
	assert.Equal(t, 0, run.TendersSaved)
	assert.Equal(t, map[string]int{"store": 1}, run.ErrorSummary)
}

func TestRun_ExtractionFailureIsCountedNotFatal(t *testing.T) {
	p := newPortal(t)
	p.listingRows([]string{}) // no rows: structural extraction failure
	st := newFakeStore()

	run, err := newTestController(t, p, st, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.PagesVisited)
	assert.Equal(t, map[string]int{"extraction": 1}, run.ErrorSummary)
}

func TestRun_ContextCancellation(t *testing.T) {
	p := newPortal(t)
	p.listingRows([]string{})
	st := newFakeStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newTestController(t, p, st, Options{}).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}
