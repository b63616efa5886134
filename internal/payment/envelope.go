package payment

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// EnvelopeKind names the accepted shapes of a listing response.
type EnvelopeKind int

const (
	EnvelopeData     EnvelopeKind = iota // {"data": [...], "total": n}
	EnvelopePayments                     // {"payments": [...], "total": n}
	EnvelopeArray                        // [...]
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeData:
		return "data"
	case EnvelopePayments:
		return "payments"
	case EnvelopeArray:
		return "array"
	}
	return "unknown"
}

// Envelope is a listing response reduced to its items, before record validation.
type Envelope struct {
	Kind  EnvelopeKind
	Items []json.RawMessage
	Total *int
	path  string
}

// DecodeEnvelope recognises one of the tagged envelope shapes.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{}, &ValidationError{Issues: []Issue{{Path: "$", Message: "empty response"}}}
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Envelope{}, &ValidationError{Issues: []Issue{{Path: "$", Message: "malformed JSON array"}}}
		}
		return Envelope{Kind: EnvelopeArray, Items: items, path: "$"}, nil
	}

	var obj struct {
		Data     json.RawMessage `json:"data"`
		Payments json.RawMessage `json:"payments"`
		Total    json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Envelope{}, &ValidationError{Issues: []Issue{{Path: "$", Message: "must be a JSON object or array"}}}
	}

	env := Envelope{}
	var list json.RawMessage
	switch {
	case present(obj.Data):
		env.Kind, env.path, list = EnvelopeData, "$.data", obj.Data
	case present(obj.Payments):
		env.Kind, env.path, list = EnvelopePayments, "$.payments", obj.Payments
	default:
		return Envelope{}, &ValidationError{Issues: []Issue{{Path: "$", Message: "expected a data or payments list"}}}
	}
	if err := json.Unmarshal(list, &env.Items); err != nil {
		return Envelope{}, &ValidationError{Issues: []Issue{{Path: env.path, Message: "must be an array"}}}
	}

	if present(obj.Total) {
		total, ok := parseTotal(obj.Total)
		if !ok {
			return Envelope{}, &ValidationError{Issues: []Issue{{Path: "$.total", Message: "must be a non-negative integer"}}}
		}
		env.Total = &total
	}
	return env, nil
}

// ParseList normalises any accepted envelope and validates every record.
func ParseList(raw []byte) (Page, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Page{}, err
	}
	records, err := validateItems(env.Items, env.path)
	if err != nil {
		return Page{}, err
	}
	page := Page{Records: records, Total: len(records)}
	if env.Total != nil {
		page.Total = *env.Total
		page.TotalReported = true
	}
	return page, nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func parseTotal(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
