package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/diagnostics"
	"feeportal/internal/listing"
	"feeportal/internal/payment"
)

// RecentLimit is how many pending payments the summary shows.
const RecentLimit = 5

// Source is the part of the API client the dashboard reads.
type Source interface {
	DashboardStats(ctx context.Context, token string) ([]byte, error)
	SchoolDistribution(ctx context.Context, token string) ([]byte, error)
	PaymentStats(ctx context.Context, token string) ([]byte, error)
	Recent(ctx context.Context, token, status string, limit int) ([]byte, error)
}

// TokenSource hands out the current bearer token.
type TokenSource interface {
	Token() (string, error)
}

// Stats are the headline counters. Missing fields stay zero.
type Stats struct {
	Students    int64  `json:"total_students"`
	Payments    int64  `json:"total_payments"`
	Pending     int64  `json:"pending_payments"`
	Approved    int64  `json:"approved_payments"`
	Rejected    int64  `json:"rejected_payments"`
	TotalAmount string `json:"total_amount"`
}

// SchoolShare is one slice of the per-school distribution.
type SchoolShare struct {
	School   string `json:"school"`
	Students int64  `json:"students"`
	Amount   string `json:"amount"`
}

// PaymentStats are totals per review outcome.
type PaymentStats struct {
	Pending   int64  `json:"pending"`
	Approved  int64  `json:"approved"`
	Rejected  int64  `json:"rejected"`
	Collected string `json:"collected"`
}

// Summary is everything the dashboard renders. A section that failed keeps
// its zero value and has an entry in Errors.
type Summary struct {
	Stats    Stats             `json:"stats"`
	Schools  []SchoolShare     `json:"schools"`
	Payments PaymentStats      `json:"payments"`
	Recent   []listing.Row     `json:"recent"`
	Errors   map[string]string `json:"errors,omitempty"`
}

const (
	SectionStats    = "stats"
	SectionSchools  = "schools"
	SectionPayments = "payments"
	SectionRecent   = "recent"
)

// Loader builds summaries.
type Loader struct {
	src      Source
	reporter diagnostics.Reporter
	log      *slog.Logger
}

// NewLoader creates a dashboard loader.
func NewLoader(src Source, reporter diagnostics.Reporter, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{src: src, reporter: reporter, log: logger.With("component", "dashboard")}
}

// Load fetches all sections concurrently. It fails only when there is no
// token; section failures are reported in Summary.Errors.
func (l *Loader) Load(ctx context.Context, tokens TokenSource) (Summary, error) {
	token, err := tokens.Token()
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Schools: []SchoolShare{}, Recent: []listing.Row{}}
	sectionErrs := make([]error, 4)
	var g errgroup.Group
	g.Go(func() error {
		body, err := l.src.DashboardStats(ctx, token)
		if err == nil {
			sum.Stats = parseStats(body)
		}
		sectionErrs[0] = err
		return nil
	})
	g.Go(func() error {
		body, err := l.src.SchoolDistribution(ctx, token)
		if err == nil {
			sum.Schools = parseSchools(body)
		}
		sectionErrs[1] = err
		return nil
	})
	g.Go(func() error {
		body, err := l.src.PaymentStats(ctx, token)
		if err == nil {
			sum.Payments = parsePaymentStats(body)
		}
		sectionErrs[2] = err
		return nil
	})
	g.Go(func() error {
		body, err := l.src.Recent(ctx, token, string(payment.StatusPending), RecentLimit)
		if err != nil {
			sectionErrs[3] = err
			return nil
		}
		page, err := payment.ParseList(body)
		if err != nil {
			diagnostics.Report(ctx, l.reporter, SectionRecent, err)
			sectionErrs[3] = err
			return nil
		}
		for _, r := range page.Records {
			sum.Recent = append(sum.Recent, listing.NewRow(r))
		}
		return nil
	})
	_ = g.Wait()

	for i, name := range []string{SectionStats, SectionSchools, SectionPayments, SectionRecent} {
		if sectionErrs[i] == nil {
			continue
		}
		if errors.Is(sectionErrs[i], apiclient.ErrUnauthenticated) {
			return Summary{}, auth.ErrUnauthenticated
		}
		if sum.Errors == nil {
			sum.Errors = make(map[string]string)
		}
		sum.Errors[name] = sectionMessage(sectionErrs[i])
		l.log.Warn("dashboard section failed", "section", name, "error", sectionErrs[i])
	}
	return sum, nil
}

func sectionMessage(err error) string {
	var ve *payment.ValidationError
	if errors.As(err, &ve) {
		return "Format de réponse inattendu."
	}
	var se *apiclient.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return "Indisponible: " + se.Detail
	}
	return "Indisponible pour le moment."
}

// fields decodes a JSON object, unwrapping a {"data": {...}} envelope. Any
// other shape yields no fields.
func fields(body []byte) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil
	}
	if inner, ok := obj["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			return nested
		}
	}
	return obj
}

// intField reads the first of keys holding a number or numeric string.
func intField(f map[string]json.RawMessage, keys ...string) int64 {
	d := decimalField(f, keys...)
	return d.IntPart()
}

// decimalField reads the first of keys holding a number or numeric string;
// zero otherwise.
func decimalField(f map[string]json.RawMessage, keys ...string) decimal.Decimal {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		s := string(raw)
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &s); err != nil {
				continue
			}
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "null" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		return d
	}
	return decimal.Zero
}

func stringField(f map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		var s string
		if err := json.Unmarshal(f[k], &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func parseStats(body []byte) Stats {
	f := fields(body)
	return Stats{
		Students:    intField(f, "total_students", "students"),
		Payments:    intField(f, "total_payments", "payments"),
		Pending:     intField(f, "pending_payments", "pending"),
		Approved:    intField(f, "approved_payments", "approved"),
		Rejected:    intField(f, "rejected_payments", "rejected"),
		TotalAmount: payment.FormatAmount(decimalField(f, "total_amount", "amount")),
	}
}

func parsePaymentStats(body []byte) PaymentStats {
	f := fields(body)
	return PaymentStats{
		Pending:   intField(f, "pending"),
		Approved:  intField(f, "approved"),
		Rejected:  intField(f, "rejected"),
		Collected: payment.FormatAmount(decimalField(f, "total_collected", "collected", "total_amount")),
	}
}

// parseSchools accepts a bare array or a data/schools envelope. Entries
// that are not objects are skipped.
func parseSchools(body []byte) []SchoolShare {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		f := fields(body)
		for _, k := range []string{"data", "schools"} {
			if json.Unmarshal(f[k], &items) == nil {
				break
			}
		}
	}
	out := make([]SchoolShare, 0, len(items))
	for _, raw := range items {
		var f map[string]json.RawMessage
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		out = append(out, SchoolShare{
			School:   stringField(f, "school", "name"),
			Students: intField(f, "students", "count", "total_students"),
			Amount:   payment.FormatAmount(decimalField(f, "amount", "total_amount")),
		})
	}
	return out
}
