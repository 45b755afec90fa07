// Package extract turns portal HTML into raw tender records. Extraction is a
// pure function of the document text; selectors are configuration, so adding
// a source means a new implementation, not a code branch.
package extract

import (
	"fmt"

	"github.com/procurescan/scraper-cli/internal/model"
)

// ListingItem is one row of a listing page: the detail link plus whatever
// minimal fields the listing already shows.
type ListingItem struct {
	TenderID     string
	Title        string
	Organization string
	PublishDate  string
	TypeText     string
	DetailURL    string
}

// PageInfo describes listing pagination.
type PageInfo struct {
	CurrentPage int
	TotalPages  int
	HasNext     bool
	NextURL     string
}

// Extractor is the pluggable extraction strategy for one source.
type Extractor interface {
	// ExtractListing returns the tender rows of a listing page. It fails
	// with an ExtractionError when the expected row structure is absent.
	ExtractListing(html string) ([]ListingItem, error)

	// ExtractDetail returns the raw record of one detail page. It fails
	// with an ExtractionError when the title block is absent.
	ExtractDetail(html, tenderID string) (model.RawTender, error)

	// Pagination reports whether the listing has further pages.
	Pagination(html string) PageInfo
}

// ExtractionError reports a page whose required structural anchors are
// missing. It is counted by the pipeline, never fatal to the run.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: missing structure: %s", e.Reason)
}
