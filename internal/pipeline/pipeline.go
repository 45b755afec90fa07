// Package pipeline orchestrates a scrape run: listing pagination, detail
// fetches, extraction, normalization, and persistence, with per-item error
// isolation and a circuit breaker over listing fetches.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/procurescan/scraper-cli/internal/extract"
	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/normalize"
	"github.com/procurescan/scraper-cli/internal/resilience"
	"github.com/procurescan/scraper-cli/internal/runlog"
	"github.com/procurescan/scraper-cli/internal/store"
)

// Failure kinds reported to the run's error summary.
const (
	failFetch       = "fetch"
	failDetailFetch = "detail_fetch"
	failExtraction  = "extraction"
	failValidation  = "validation"
	failStore       = "store"
)

// breakerThreshold is the number of consecutive listing fetch failures that
// aborts pagination for the rest of the run.
const breakerThreshold = 3

// Fetcher retrieves a page and reports its HTTP status. Retries and rate
// limiting live behind this interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, int, error)
	Resolve(ref string) (string, error)
}

// Options bounds a single run.
type Options struct {
	Source   string
	MaxPages int
	// Limit caps new detail fetches per run; items already counted as saved
	// or deduped consume the budget. Zero means unlimited.
	Limit int
}

// Controller drives one run end to end.
type Controller struct {
	fetcher    Fetcher
	extractor  extract.Extractor
	normalizer *normalize.Normalizer
	store      store.Store
	tracker    *runlog.Tracker
	opts       Options
	log        *zap.Logger
}

// New wires a Controller from its collaborators.
func New(
	f Fetcher,
	ex extract.Extractor,
	norm *normalize.Normalizer,
	st store.Store,
	tracker *runlog.Tracker,
	opts Options,
	log *zap.Logger,
) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &Controller{
		fetcher:    f,
		extractor:  ex,
		normalizer: norm,
		store:      st,
		tracker:    tracker,
		opts:       opts,
		log:        log,
	}
}

// Run executes the scrape and finalizes the run row. A store failure while
// creating or finalizing the run row is fatal; everything in between is
// counted and survived.
func (c *Controller) Run(ctx context.Context) (model.Run, error) {
	if err := c.tracker.Start(ctx); err != nil {
		return c.tracker.Run(), err
	}

	runErr := c.scrape(ctx)

	status := model.RunStatusCompleted
	if runErr != nil {
		status = model.RunStatusFailed
	}
	if err := c.tracker.Finish(ctx, status); err != nil {
		return c.tracker.Run(), err
	}
	return c.tracker.Run(), runErr
}

// scrape walks listing pages until pagination ends, the page cap is hit, the
// item limit is reached, or the breaker opens. Only a canceled context is an
// error; degraded runs complete with their failures counted.
func (c *Controller) scrape(ctx context.Context) error {
	breaker := resilience.NewBreaker(breakerThreshold)

	for page := 1; page <= c.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: run canceled")
		}
		if err := breaker.Allow(); err != nil {
			c.log.Warn("listing circuit open, stopping pagination",
				zap.Int("page", page),
				zap.Int("consecutive_failures", breaker.ConsecutiveFailures()))
			return nil
		}

		pageURL, err := c.fetcher.Resolve(listingPath(page))
		if err != nil {
			return eris.Wrap(err, "pipeline: resolve listing url")
		}

		body, _, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return eris.Wrap(ctxErr, "pipeline: run canceled")
			}
			c.log.Warn("listing fetch failed",
				zap.Int("page", page), zap.String("url", pageURL), zap.Error(err))
			c.tracker.RecordFailure(failFetch)
			if breaker.RecordFailure() {
				c.log.Warn("listing circuit tripped",
					zap.Int("threshold", breakerThreshold))
				return nil
			}
			continue
		}
		breaker.RecordSuccess()
		c.tracker.RecordPage()

		items, err := c.extractor.ExtractListing(body)
		if err != nil {
			c.log.Warn("listing extraction failed",
				zap.Int("page", page), zap.Error(err))
			c.tracker.RecordFailure(failExtraction)
		} else {
			if done := c.processItems(ctx, items); done {
				c.log.Info("item limit reached", zap.Int("limit", c.opts.Limit))
				return nil
			}
		}

		info := c.extractor.Pagination(body)
		if !info.HasNext {
			c.log.Debug("last listing page reached", zap.Int("page", page))
			return nil
		}
	}
	return nil
}

// processItems handles one listing's rows. It returns true once the item
// limit is exhausted.
func (c *Controller) processItems(ctx context.Context, items []extract.ListingItem) bool {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return true
		}
		if c.limitReached() {
			return true
		}
		c.processItem(ctx, item)
	}
	return c.limitReached()
}

func (c *Controller) limitReached() bool {
	if c.opts.Limit <= 0 {
		return false
	}
	run := c.tracker.Run()
	return run.TendersSaved+run.DedupedCount >= c.opts.Limit
}

// processItem takes one listing row through detail fetch, extraction,
// normalization, and upsert. Every failure is counted under its kind and
// isolated to the item.
func (c *Controller) processItem(ctx context.Context, item extract.ListingItem) {
	log := c.log.With(zap.String("tender_id", item.TenderID), zap.String("url", item.DetailURL))

	// Advisory pre-check: skip the detail fetch for rows we already hold.
	// The upsert remains the correctness authority, so errors here are
	// ignored and the item proceeds.
	if item.TenderID != "" {
		exists, err := c.store.TenderExists(ctx, item.TenderID, c.opts.Source)
		if err == nil && exists {
			log.Debug("tender already stored, skipping detail fetch")
			c.tracker.RecordDeduped()
			return
		}
	}

	body, _, err := c.fetcher.Fetch(ctx, item.DetailURL)
	if err != nil {
		log.Warn("detail fetch failed", zap.Error(err))
		c.tracker.RecordFailure(failDetailFetch)
		return
	}
	c.tracker.RecordPage()

	raw, err := c.extractor.ExtractDetail(body, item.TenderID)
	if err != nil {
		log.Warn("detail extraction failed", zap.Error(err))
		c.tracker.RecordFailure(failExtraction)
		return
	}
	mergeListingFields(&raw, item)
	c.tracker.RecordParsed()

	tender, err := c.normalizer.Normalize(raw)
	if err != nil {
		var ve *normalize.ValidationError
		if errors.As(err, &ve) {
			log.Warn("tender failed validation",
				zap.String("field", ve.Field), zap.String("reason", ve.Reason))
		} else {
			log.Warn("tender failed validation", zap.Error(err))
		}
		c.tracker.RecordFailure(failValidation)
		return
	}

	outcome, err := c.store.UpsertTender(ctx, tender)
	if err != nil {
		log.Error("tender upsert failed", zap.Error(err))
		c.tracker.RecordFailure(failStore)
		return
	}
	switch outcome {
	case store.OutcomeInserted:
		log.Info("tender saved", zap.String("type", string(tender.Type)))
		c.tracker.RecordSaved()
	case store.OutcomeUpdated:
		log.Debug("tender already stored, refreshed")
		c.tracker.RecordDeduped()
	}
}

// mergeListingFields backfills detail-page gaps from the listing row. The
// detail page wins wherever it produced a value.
func mergeListingFields(raw *model.RawTender, item extract.ListingItem) {
	raw.SourceURL = item.DetailURL
	if raw.TenderID == "" {
		raw.TenderID = item.TenderID
	}
	if raw.Title == "" {
		raw.Title = item.Title
	}
	if raw.Organization == "" {
		raw.Organization = item.Organization
	}
	if raw.PublishDateText == "" {
		raw.PublishDateText = item.PublishDate
	}
	if raw.TenderTypeText == "" {
		raw.TenderTypeText = item.TypeText
	}
}

func listingPath(page int) string {
	if page <= 1 {
		return "/"
	}
	return fmt.Sprintf("/?page=%d", page)
}
