// Package normalize maps raw tender records to validated canonical tenders.
// Pure: no I/O, deterministic for a given input.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/procurescan/scraper-cli/internal/model"
)

// ValidationError rejects one record with the offending field and reason.
// Per-record: the pipeline counts it and moves on.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Field, e.Reason)
}

// isoDate is the canonical output layout for all calendar dates.
const isoDate = "2006-01-02"

// dateLayouts are the source-local formats seen on the portal, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2-Jan-2006",
	"02.01.2006",
}

// ordinalSuffix strips "1st", "22nd" style day suffixes before a re-parse.
var ordinalSuffix = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)

// boilerplate phrases stripped from title and description text.
var boilerplate = []*regexp.Regexp{
	regexp.MustCompile(`(?i)this\s+is\s+an?\s+tender\s+notice`),
	regexp.MustCompile(`(?i)please\s+read\s+carefully`),
	regexp.MustCompile(`(?i)important\s+notice:?\s*`),
	regexp.MustCompile(`(?i)disclaimer:?\s*`),
	regexp.MustCompile(`(?i)terms\s+and\s+conditions:?\s*`),
	regexp.MustCompile(`(?i)for\s+more\s+information\s+visit`),
	regexp.MustCompile(`(?i)copyright\s+©?\s*\d{4}`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalizer validates raw records against the canonical tender rules.
type Normalizer struct {
	source string
}

// New creates a Normalizer stamping canonical records with the given source
// identifier.
func New(source string) *Normalizer {
	return &Normalizer{source: source}
}

// Normalize builds the canonical tender or rejects the record with a
// ValidationError. The raw record is attached unmodified as the audit
// snapshot.
func (n *Normalizer) Normalize(raw model.RawTender) (*model.Tender, error) {
	tenderID := strings.TrimSpace(raw.TenderID)
	if tenderID == "" {
		return nil, &ValidationError{Field: "tender_id", Reason: "missing"}
	}

	title := cleanText(raw.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "empty after cleaning"}
	}

	organization := cleanText(raw.Organization)
	if organization == "" {
		return nil, &ValidationError{Field: "organization", Reason: "empty after cleaning"}
	}

	tenderType, ok := mapTenderType(raw.TenderTypeText)
	if !ok {
		return nil, &ValidationError{Field: "tender_type", Reason: fmt.Sprintf("unmapped value %q", raw.TenderTypeText)}
	}

	publishDate, ok := parseDate(raw.PublishDateText)
	if !ok {
		return nil, &ValidationError{Field: "publish_date", Reason: fmt.Sprintf("unparseable date %q", raw.PublishDateText)}
	}

	// Optional: an unparseable closing date normalizes to absent. No ordering
	// against publish_date is enforced; retroactive publication is legitimate.
	closingDate, _ := parseDate(raw.ClosingDateText)

	sourceURL := strings.TrimSpace(raw.SourceURL)
	if u, err := url.Parse(sourceURL); err != nil || !u.IsAbs() {
		return nil, &ValidationError{Field: "source_url", Reason: fmt.Sprintf("not an absolute url: %q", sourceURL)}
	}

	return &model.Tender{
		TenderID:     tenderID,
		Source:       n.source,
		Type:         tenderType,
		Title:        title,
		Organization: organization,
		PublishDate:  publishDate,
		ClosingDate:  closingDate,
		Description:  cleanText(raw.Description),
		SourceURL:    sourceURL,
		Attachments:  cleanAttachments(raw.Attachments),
		Raw:          raw,
	}, nil
}

// cleanText strips boilerplate, collapses whitespace runs, and trims.
func cleanText(s string) string {
	for _, re := range boilerplate {
		s = re.ReplaceAllString(s, "")
	}
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// mapTenderType resolves the source label to the canonical enum, accepting
// known synonyms case-insensitively.
func mapTenderType(s string) (model.TenderType, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "":
		return "", false
	case strings.Contains(lower, "goods"), strings.Contains(lower, "supply"), strings.Contains(lower, "procurement"):
		return model.TenderTypeGoods, true
	case strings.Contains(lower, "works"), strings.Contains(lower, "construction"), strings.Contains(lower, "building"):
		return model.TenderTypeWorks, true
	case strings.Contains(lower, "service"), strings.Contains(lower, "consulting"):
		return model.TenderTypeServices, true
	}
	return "", false
}

// parseDate normalizes a source-local date string to ISO 8601, retrying with
// ordinal suffixes removed ("3rd March 2024").
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if iso, ok := tryLayouts(s); ok {
		return iso, true
	}
	return tryLayouts(ordinalSuffix.ReplaceAllString(s, "$1"))
}

func tryLayouts(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}
	return "", false
}

// cleanAttachments drops entries without a URL and normalizes names.
func cleanAttachments(atts []model.Attachment) []model.Attachment {
	out := make([]model.Attachment, 0, len(atts))
	for _, a := range atts {
		u := strings.TrimSpace(a.URL)
		if u == "" {
			continue
		}
		name := cleanText(a.Name)
		if name == "" {
			name = "Document"
		}
		out = append(out, model.Attachment{Name: name, URL: u})
	}
	return out
}
