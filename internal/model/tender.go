// Package model defines the core data types shared across the scraper:
// raw and canonical tender records, and run telemetry.
package model

import "time"

// TenderType classifies a tender into the portal's three procurement categories.
type TenderType string

const (
	TenderTypeGoods    TenderType = "Goods"
	TenderTypeWorks    TenderType = "Works"
	TenderTypeServices TenderType = "Services"
)

// Valid reports whether t is one of the three known categories.
func (t TenderType) Valid() bool {
	switch t {
	case TenderTypeGoods, TenderTypeWorks, TenderTypeServices:
		return true
	}
	return false
}

// Attachment is a named document link attached to a tender.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RawTender holds field values as they appear in the source markup, before any
// validation. It lives for one pipeline iteration and is persisted only as the
// raw_data audit snapshot on the canonical row.
type RawTender struct {
	TenderID        string       `json:"tender_id,omitempty"`
	Title           string       `json:"title,omitempty"`
	Organization    string       `json:"organization,omitempty"`
	TenderTypeText  string       `json:"tender_type,omitempty"`
	PublishDateText string       `json:"publish_date,omitempty"`
	ClosingDateText string       `json:"closing_date,omitempty"`
	Description     string       `json:"description,omitempty"`
	SourceURL       string       `json:"source_url,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Tender is the validated, normalized unit of persistence. Dates are ISO 8601
// (YYYY-MM-DD) strings; ClosingDate is empty when the source gave none. The
// store enforces uniqueness of (TenderID, Source) via atomic upsert.
type Tender struct {
	ID           int64        `json:"id,omitempty"`
	TenderID     string       `json:"tender_id"`
	Source       string       `json:"source"`
	Type         TenderType   `json:"tender_type"`
	Title        string       `json:"title"`
	Organization string       `json:"organization"`
	PublishDate  string       `json:"publish_date"`
	ClosingDate  string       `json:"closing_date,omitempty"`
	Description  string       `json:"description,omitempty"`
	SourceURL    string       `json:"source_url"`
	Attachments  []Attachment `json:"attachments"`
	Raw          RawTender    `json:"raw_data,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
}
