package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Issue is one offending field of a payload.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError rejects a whole payload. Records are never partially accepted.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "payment: invalid payload"
	}
	first := e.Issues[0]
	if len(e.Issues) == 1 {
		return fmt.Sprintf("payment: invalid payload: %s %s", first.Path, first.Message)
	}
	return fmt.Sprintf("payment: invalid payload: %s %s (and %d more)", first.Path, first.Message, len(e.Issues)-1)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// wireRecord mirrors the API shape with pointers so absence is observable.
type wireRecord struct {
	PaymentID       *int64  `json:"payment_id" validate:"required,gt=0"`
	Student         *string `json:"student" validate:"required"`
	School          *string `json:"school" validate:"required"`
	Matricule       *string `json:"matricule" validate:"required"`
	Status          *string `json:"status" validate:"required,oneof=pending approved rejected"`
	Date            *string `json:"date"`
	RejectionReason *string `json:"rejection_reason"`
}

// ParseRecords validates a bare JSON array of payment records.
func ParseRecords(raw []byte) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &items) != nil {
		return nil, &ValidationError{Issues: []Issue{{Path: "$", Message: "must be an array of payments"}}}
	}
	return validateItems(items, "$")
}

func validateItems(items []json.RawMessage, prefix string) ([]Record, error) {
	records := make([]Record, 0, len(items))
	var issues []Issue
	for i, item := range items {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		rec, recIssues := validateOne(item, path)
		if len(recIssues) > 0 {
			issues = append(issues, recIssues...)
			continue
		}
		records = append(records, rec)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return records, nil
}

func validateOne(raw json.RawMessage, path string) (Record, []Issue) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, []Issue{{Path: path, Message: "must be an object"}}
	}

	var (
		w      wireRecord
		issues []Issue
	)
	decodeField := func(name string, dst any, want string) {
		v, ok := fields[name]
		if !ok {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			issues = append(issues, Issue{Path: path + "." + name, Message: "must be " + want})
		}
	}
	decodeField("payment_id", &w.PaymentID, "an integer")
	decodeField("student", &w.Student, "a string")
	decodeField("school", &w.School, "a string")
	decodeField("matricule", &w.Matricule, "a string")
	decodeField("status", &w.Status, "a string")
	decodeField("date", &w.Date, "a string")
	decodeField("rejection_reason", &w.RejectionReason, "a string")

	amount, amountIssue := parseAmount(fields["amount"])
	if amountIssue != "" {
		issues = append(issues, Issue{Path: path + ".amount", Message: amountIssue})
	}

	if err := validate.Struct(w); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return Record{}, append(issues, Issue{Path: path, Message: err.Error()})
		}
		for _, fe := range ve {
			p := path + "." + fe.Field()
			if hasIssue(issues, p) {
				continue
			}
			issues = append(issues, Issue{Path: p, Message: fieldMessage(fe)})
		}
	}
	if len(issues) > 0 {
		return Record{}, issues
	}

	rec := Record{
		PaymentID: *w.PaymentID,
		Student:   *w.Student,
		School:    *w.School,
		Matricule: *w.Matricule,
		Amount:    amount,
		Status:    Status(*w.Status),
	}
	if w.Date != nil {
		rec.Date = *w.Date
	}
	if w.RejectionReason != nil {
		rec.RejectionReason = *w.RejectionReason
	}
	return rec, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return fe.Tag() + " validation failed"
	}
}

func hasIssue(list []Issue, path string) bool {
	for _, is := range list {
		if is.Path == path {
			return true
		}
	}
	return false
}

// parseAmount accepts a JSON number or a numeric string. It returns a
// non-empty message when the value is missing or not numeric.
func parseAmount(raw json.RawMessage) (decimal.Decimal, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, "is required"
	}
	var s string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, "must be a number or numeric string"
		}
		s = strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		s = string(raw)
	default:
		return decimal.Decimal{}, "must be a number or numeric string"
	}
	if s == "" {
		return decimal.Decimal{}, "must be a number or numeric string"
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, "must be a number or numeric string"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, "must be a number or numeric string"
	}
	return d, ""
}
