package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/procurescan/scraper-cli/internal/model"
)

// Selectors holds every CSS selector the nprocure extractor uses. Fallback
// candidates are comma-joined so layout drift on the portal is absorbed by
// configuration, not code.
type Selectors struct {
	ListingRows  string
	ListingTitle string
	ListingLink  string
	ListingOrg   string
	ListingDate  string
	ListingType  string

	DetailTitle       string
	DetailOrg         string
	DetailType        string
	DetailPublishDate string
	DetailClosingDate string
	DetailDescription string
	AttachmentSection string

	PaginationCurrent string
	PaginationNext    string
	PaginationLinks   string
}

// DefaultSelectors returns the selector set for the current nprocure layout.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingRows:  ".tender-card, .tender-item, tr.tender-row",
		ListingTitle: ".tender-title, .title, h3, td.title",
		ListingLink:  `a[href*="tender"], a[href*="detail"]`,
		ListingOrg:   ".organization, .org-name, .agency, td.organization",
		ListingDate:  ".publish-date, .date-published, td.date",
		ListingType:  ".tender-type, .category, td.type",

		DetailTitle:       `h1.tender-title, .tender-detail h1, .page-title h1, #tender-title, h1`,
		DetailOrg:         `.organization-name, .agency-name, .procuring-entity, dt:contains("Organization") + dd, .tender-org`,
		DetailType:        `.tender-type, .category, dt:contains("Type") + dd, dt:contains("Category") + dd, .tender-category`,
		DetailPublishDate: `.publish-date, .date-published, dt:contains("Published") + dd, dt:contains("Posted") + dd, .tender-publish-date`,
		DetailClosingDate: `.closing-date, .deadline, dt:contains("Closing") + dd, dt:contains("Deadline") + dd, .tender-closing-date`,
		DetailDescription: `.tender-description, .description, #description, dt:contains("Description") + dd, .tender-details .content`,
		AttachmentSection: ".attachments, .documents, #attachments",

		PaginationCurrent: ".pagination .active, .current-page",
		PaginationNext:    `.pagination a:contains("Next"), a.next-page, a[rel="next"]`,
		PaginationLinks:   ".pagination a[href]",
	}
}

// documentExtensions marks an anchor as a tender attachment.
var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}

// looseAttachmentCap bounds the page-wide fallback scan when no attachment
// section exists.
const looseAttachmentCap = 10

// Nprocure extracts tender records from tender.nprocure.com markup.
type Nprocure struct {
	base *url.URL
	sel  Selectors
}

// NewNprocure creates the extractor. baseURL resolves relative hrefs and must
// be absolute.
func NewNprocure(baseURL string, sel Selectors) (*Nprocure, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse base url %q", baseURL)
	}
	if !base.IsAbs() {
		return nil, eris.Errorf("extract: base url must be absolute, got %q", baseURL)
	}
	return &Nprocure{base: base, sel: sel}, nil
}

func (n *Nprocure) ExtractListing(html string) ([]ListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse listing html")
	}

	rows := doc.Find(n.sel.ListingRows)
	if rows.Length() == 0 {
		return nil, &ExtractionError{Reason: "no tender rows found on listing page"}
	}

	var items []ListingItem
	rows.Each(func(_ int, row *goquery.Selection) {
		item, ok := n.listingItem(row)
		if ok {
			items = append(items, item)
		}
	})
	return items, nil
}

// listingItem pulls the minimal fields from one listing row. Rows without a
// title, link, or derivable tender id are skipped.
func (n *Nprocure) listingItem(row *goquery.Selection) (ListingItem, bool) {
	title := textOf(row.Find(n.sel.ListingTitle))
	href, _ := row.Find(n.sel.ListingLink).First().Attr("href")
	if title == "" || href == "" {
		return ListingItem{}, false
	}

	id := tenderIDFromURL(href)
	if id == "" {
		return ListingItem{}, false
	}

	return ListingItem{
		TenderID:     id,
		Title:        title,
		Organization: textOf(row.Find(n.sel.ListingOrg)),
		PublishDate:  textOf(row.Find(n.sel.ListingDate)),
		TypeText:     textOf(row.Find(n.sel.ListingType)),
		DetailURL:    n.resolve(href),
	}, true
}

func (n *Nprocure) ExtractDetail(html, tenderID string) (model.RawTender, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.RawTender{}, eris.Wrap(err, "extract: parse detail html")
	}

	title := textOf(doc.Find(n.sel.DetailTitle))
	if title == "" {
		return model.RawTender{}, &ExtractionError{Reason: "detail page has no title block"}
	}

	return model.RawTender{
		TenderID:        tenderID,
		Title:           title,
		Organization:    textOf(doc.Find(n.sel.DetailOrg)),
		TenderTypeText:  textOf(doc.Find(n.sel.DetailType)),
		PublishDateText: textOf(doc.Find(n.sel.DetailPublishDate)),
		ClosingDateText: textOf(doc.Find(n.sel.DetailClosingDate)),
		Description:     textOf(doc.Find(n.sel.DetailDescription)),
		Attachments:     n.attachments(doc),
	}, nil
}

func (n *Nprocure) attachments(doc *goquery.Document) []model.Attachment {
	var out []model.Attachment

	sections := doc.Find(n.sel.AttachmentSection)
	if sections.Length() > 0 {
		sections.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			if !isDocumentLink(href) {
				return
			}
			out = append(out, model.Attachment{
				Name: attachmentName(link),
				URL:  n.resolve(href),
			})
		})
		return out
	}

	// No attachment section: fall back to document links anywhere on the page.
	doc.Find(`a[href*=".pdf"], a[href*=".doc"]`).EachWithBreak(func(i int, link *goquery.Selection) bool {
		if i >= looseAttachmentCap {
			return false
		}
		href, _ := link.Attr("href")
		out = append(out, model.Attachment{
			Name: attachmentName(link),
			URL:  n.resolve(href),
		})
		return true
	})
	return out
}

func (n *Nprocure) Pagination(html string) PageInfo {
	info := PageInfo{CurrentPage: 1, TotalPages: 1}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return info
	}

	if cur := textOf(doc.Find(n.sel.PaginationCurrent)); cur != "" {
		if page, err := strconv.Atoi(cur); err == nil {
			info.CurrentPage = page
		}
	}

	next := doc.Find(n.sel.PaginationNext).First()
	if href, ok := next.Attr("href"); ok && href != "" {
		info.HasNext = true
		info.NextURL = n.resolve(href)
	}

	doc.Find(n.sel.PaginationLinks).Each(func(_ int, link *goquery.Selection) {
		if page, err := strconv.Atoi(textOf(link)); err == nil && page > info.TotalPages {
			info.TotalPages = page
		}
	})

	return info
}

func (n *Nprocure) resolve(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return n.base.ResolveReference(u).String()
}

// tenderIDFromURL derives the stable tender identifier from a detail link:
// the last purely numeric path segment, or failing that the last segment
// containing a digit, reduced to alphanumerics and dashes.
func tenderIDFromURL(href string) string {
	parts := strings.Split(href, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part == "" {
			continue
		}
		if isDigits(part) {
			return part
		}
		if strings.ContainsFunc(part, func(r rune) bool { return r >= '0' && r <= '9' }) {
			var b strings.Builder
			for _, r := range part {
				if r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
					b.WriteRune(r)
				}
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isDocumentLink(href string) bool {
	lower := strings.ToLower(href)
	for _, ext := range documentExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func attachmentName(link *goquery.Selection) string {
	if name := textOf(link); name != "" {
		return name
	}
	return "Document"
}

// textOf returns the trimmed text of the first matched node.
func textOf(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}
