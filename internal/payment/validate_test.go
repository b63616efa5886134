package payment

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func issueAt(list []Issue, path, contains string) bool {
	for _, is := range list {
		if is.Path == path && strings.Contains(is.Message, contains) {
			return true
		}
	}
	return false
}

func mustValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	return ve
}

func TestParseRecords_Valid(t *testing.T) {
	raw := `[
		{"payment_id":1,"student":"Jean Dupont","school":"SJP","matricule":"SJP-001","amount":"200000","status":"approved"},
		{"payment_id":2,"student":"Awa Ndiaye","school":"ENS","matricule":"ENS-042","amount":150000.5,"status":"pending","date":"12/03/2025"},
		{"payment_id":3,"student":"Paul Biya","school":"SJP","matricule":"SJP-002","amount":" 75000 ","status":"rejected","rejection_reason":"reçu illisible"}
	]`
	recs, err := ParseRecords([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRecords error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	wantAmounts := []string{"200000", "150000.5", "75000"}
	for i, r := range recs {
		if r.Amount.String() != wantAmounts[i] {
			t.Fatalf("record %d amount = %s, want %s", i, r.Amount, wantAmounts[i])
		}
		f, _ := r.Amount.Float64()
		if f <= 0 {
			t.Fatalf("record %d amount not a positive number: %v", i, f)
		}
	}
	if recs[2].RejectionReason != "reçu illisible" {
		t.Fatalf("rejection reason = %q", recs[2].RejectionReason)
	}
	if recs[0].RejectionReason != "" || recs[0].Date != "" {
		t.Fatalf("optional fields should be empty: %+v", recs[0])
	}
}

func TestParseRecords_OutOfEnumStatusRejectsBatch(t *testing.T) {
	for _, status := range []string{"refunded", "APPROVED?", "", "all"} {
		raw := fmt.Sprintf(`[
			{"payment_id":1,"student":"A","school":"S","matricule":"M1","amount":1,"status":"approved"},
			{"payment_id":2,"student":"B","school":"S","matricule":"M2","amount":2,"status":%q}
		]`, status)
		recs, err := ParseRecords([]byte(raw))
		if recs != nil {
			t.Fatalf("status %q: expected no records, got %d", status, len(recs))
		}
		ve := mustValidationError(t, err)
		if !issueAt(ve.Issues, "$[1].status", "") {
			t.Fatalf("status %q: missing issue for $[1].status: %+v", status, ve.Issues)
		}
	}
}

func TestParseRecords_Amount(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		ok     bool
	}{
		{"number", `200000`, true},
		{"numeric string", `"200000"`, true},
		{"decimal string", `"1234.50"`, true},
		{"negative number", `-5`, true},
		{"non numeric string", `"deux cent"`, false},
		{"empty string", `""`, false},
		{"nan string", `"NaN"`, false},
		{"infinity string", `"Infinity"`, false},
		{"bool", `true`, false},
		{"null", `null`, false},
		{"object", `{"v":1}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := `[{"payment_id":9,"student":"A","school":"S","matricule":"M","status":"pending","amount":` + tc.amount + `}]`
			_, err := ParseRecords([]byte(raw))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				ve := mustValidationError(t, err)
				if !issueAt(ve.Issues, "$[0].amount", "") {
					t.Fatalf("missing amount issue: %+v", ve.Issues)
				}
			}
		})
	}
}

func TestParseRecords_MissingAndMistypedFields(t *testing.T) {
	raw := `[{"payment_id":"seven","school":12,"matricule":"M","amount":1,"status":"pending"}]`
	_, err := ParseRecords([]byte(raw))
	ve := mustValidationError(t, err)

	if !issueAt(ve.Issues, "$[0].payment_id", "integer") {
		t.Fatalf("missing payment_id issue: %+v", ve.Issues)
	}
	if !issueAt(ve.Issues, "$[0].student", "is required") {
		t.Fatalf("missing student issue: %+v", ve.Issues)
	}
	if !issueAt(ve.Issues, "$[0].school", "a string") {
		t.Fatalf("missing school issue: %+v", ve.Issues)
	}
	// the type issue already covers the field, no duplicate "is required"
	count := 0
	for _, is := range ve.Issues {
		if is.Path == "$[0].school" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("school reported %d times: %+v", count, ve.Issues)
	}
}

func TestParseRecords_ZeroPaymentID(t *testing.T) {
	raw := `[{"payment_id":0,"student":"A","school":"S","matricule":"M","amount":1,"status":"pending"}]`
	_, err := ParseRecords([]byte(raw))
	ve := mustValidationError(t, err)
	if !issueAt(ve.Issues, "$[0].payment_id", "greater than 0") {
		t.Fatalf("missing gt issue: %+v", ve.Issues)
	}
}

func TestParseRecords_MalformedInputNeverPanics(t *testing.T) {
	for _, raw := range []string{``, `{`, `null`, `"x"`, `42`, `[1,2]`, `[null]`, `{"data":[]}`} {
		recs, err := ParseRecords([]byte(raw))
		if err == nil {
			t.Fatalf("input %q: expected error, got %d records", raw, len(recs))
		}
		mustValidationError(t, err)
	}
}

func TestParseRecords_EmptyArray(t *testing.T) {
	recs, err := ParseRecords([]byte(`[]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("len = %d, want 0", len(recs))
	}
}

func TestRecord_ParsedDate(t *testing.T) {
	for in, ok := range map[string]bool{
		"2025-03-12":           true,
		"2025-03-12T10:00:00Z": true,
		"12/03/2025":           true,
		"hier":                 false,
		"":                     false,
	} {
		_, got := Record{Date: in}.ParsedDate()
		if got != ok {
			t.Fatalf("ParsedDate(%q) ok = %v, want %v", in, got, ok)
		}
	}
}
