package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount the way the portal displays money:
// thousands grouped with spaces, decimals after a comma only when non-zero.
//
//	200000   -> "200 000"
//	1234.5   -> "1 234,50"
func FormatAmount(d decimal.Decimal) string {
	neg := d.Round(2).IsNegative()
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(' ')
		b.WriteString(intPart[i : i+3])
	}
	if frac != "" && frac != "00" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}
