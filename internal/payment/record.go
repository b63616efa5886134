package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the review state of a payment. The set is closed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Label is the French badge text shown next to a row.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "En attente"
	case StatusApproved:
		return "Approuvé"
	case StatusRejected:
		return "Rejeté"
	}
	return string(s)
}

// Badge is the badge colour class.
func (s Status) Badge() string {
	switch s {
	case StatusApproved:
		return "success"
	case StatusRejected:
		return "danger"
	}
	return "warning"
}

// ParseStatus converts a raw value, reporting false for anything outside the enum.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Record is one payment as returned by the listing endpoints, after validation.
type Record struct {
	PaymentID       int64           `json:"payment_id"`
	Student         string          `json:"student"`
	School          string          `json:"school"`
	Matricule       string          `json:"matricule"`
	Amount          decimal.Decimal `json:"amount"`
	Date            string          `json:"date,omitempty"`
	Status          Status          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParsedDate tries the date layouts the API has been seen to emit.
// Date itself is kept verbatim for display.
func (r Record) ParsedDate() (time.Time, bool) {
	d := strings.TrimSpace(r.Date)
	if d == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, d); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Page is a normalised listing response.
type Page struct {
	Records []Record
	Total   int
	// TotalReported is false when the server omitted the total and Total is
	// only the length of this page. Pagination built on it is unreliable.
	TotalReported bool
}
