package listing

import (
	"feeportal/internal/filter"
	"feeportal/internal/payment"
)

// Row is one payment formatted for display.
type Row struct {
	PaymentID       int64  `json:"payment_id"`
	Student         string `json:"student"`
	School          string `json:"school"`
	Matricule       string `json:"matricule"`
	Amount          string `json:"amount"`
	Date            string `json:"date,omitempty"`
	DateISO         string `json:"date_iso,omitempty"`
	Status          string `json:"status"`
	StatusLabel     string `json:"status_label"`
	Badge           string `json:"badge"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Display states, in precedence order.
const (
	DisplayLoading = "loading"
	DisplayError   = "error"
	DisplayEmpty   = "empty"
	DisplayReady   = "ready"
)

// View is the list as the browser renders it. Exactly one of loading,
// error, empty or rows is meaningful, chosen by Display.
type View struct {
	Display        string       `json:"display"`
	Error          string       `json:"error,omitempty"`
	ErrorKind      string       `json:"error_kind,omitempty"`
	Rows           []Row        `json:"rows"`
	Total          int          `json:"total"`
	TotalEstimated bool         `json:"total_estimated,omitempty"`
	Page           int          `json:"page"`
	PageSize       int          `json:"page_size"`
	Pages          int          `json:"pages"`
	Filters        filter.State `json:"filters"`
}

// NewRow formats a record. DateISO is set only when the date parses.
func NewRow(r payment.Record) Row {
	row := Row{
		PaymentID:       r.PaymentID,
		Student:         r.Student,
		School:          r.School,
		Matricule:       r.Matricule,
		Amount:          payment.FormatAmount(r.Amount),
		Date:            r.Date,
		Status:          string(r.Status),
		StatusLabel:     r.Status.Label(),
		Badge:           r.Status.Badge(),
		RejectionReason: r.RejectionReason,
	}
	if t, ok := r.ParsedDate(); ok {
		row.DateISO = t.Format("2006-01-02")
	}
	return row
}

// BuildView renders a state with precedence loading > error > empty > data.
// An idle state has a fetch coming and renders as loading.
func BuildView(st State, pageSize int) View {
	v := View{
		Rows:     []Row{},
		Page:     st.Page,
		PageSize: pageSize,
		Filters:  st.Filters,
	}
	if v.Page < 1 {
		v.Page = 1
	}
	switch {
	case st.Phase == PhaseLoading || st.Phase == PhaseIdle:
		v.Display = DisplayLoading
		return v
	case st.Err != nil:
		v.Display = DisplayError
		v.Error = st.Err.Message
		v.ErrorKind = st.Err.Kind.String()
		return v
	case len(st.Records) == 0:
		v.Display = DisplayEmpty
		return v
	}

	v.Display = DisplayReady
	for _, r := range st.Records {
		v.Rows = append(v.Rows, NewRow(r))
	}
	v.Total = st.Total
	v.TotalEstimated = !st.TotalReported
	if pageSize > 0 {
		v.Pages = (st.Total + pageSize - 1) / pageSize
	}
	if v.Pages < 1 {
		v.Pages = 1
	}
	return v
}
