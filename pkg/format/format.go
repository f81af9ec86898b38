// Package format renders money and dates the way the en-IN locale does:
// rupee symbol, lakh/crore digit grouping and day-first dates.
package format

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaskedBalance is shown in place of a hidden balance.
const MaskedBalance = "₹ ••••••"

// FormatINR renders an amount as Indian rupees with two fraction digits and
// Indian grouping: 123456.5 -> "₹1,23,456.50".
func FormatINR(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + "₹" + groupIndian(whole) + "." + frac
}

// groupIndian inserts separators after the last three digits and then every
// two digits.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var b strings.Builder
	first := len(head) % 2
	if first > 0 {
		b.WriteString(head[:first])
	}
	for i := first; i < len(head); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}

// FormatDateTime renders a transaction timestamp: "14 Oct 2026, 03:04 pm".
func FormatDateTime(t time.Time) string {
	return t.Format("02 Jan 2006, 03:04 pm")
}

// FormatDate renders a calendar date: "14 October 2026".
func FormatDate(t time.Time) string {
	return t.Format("02 January 2006")
}
