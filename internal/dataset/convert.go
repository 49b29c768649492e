package dataset

import (
	"strconv"
	"strings"
)

// Census suppression sentinels. The API reports these magic negatives when a
// cell is suppressed or not computable; they must become null, never a value.
// Conversion is centralized here so no adapter grows its own variant.
var suppressionSentinels = map[float64]struct{}{
	-666666666: {},
	-888888888: {},
	-999999999: {},
}

func isSentinel(f float64) bool {
	_, ok := suppressionSentinels[f]
	return ok
}

// NullableFloat parses a numeric source field. Thousands separators, currency
// symbols, and percent signs are stripped first. Empty, unparsable, and
// sentinel values all become nil rather than an error — parse failures are
// data quality noise, not program faults.
func NullableFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || isSentinel(f) {
		return nil
	}
	return &f
}

// NullableInt is NullableFloat for count fields.
func NullableInt(s string) *int64 {
	f := NullableFloat(s)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

// Ratio is the null-safe division shared by every derived rate: nil in,
// nil out; zero denominator, nil out. Never coerces missing data to zero.
func Ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	r := *num / *den
	return &r
}

// Pct is Ratio expressed as a percentage.
func Pct(num, den *float64) *float64 {
	r := Ratio(num, den)
	if r == nil {
		return nil
	}
	p := *r * 100
	return &p
}

// SumStrict adds nullable operands, propagating null: any nil operand makes
// the sum nil.
func SumStrict(vals ...*float64) *float64 {
	var sum float64
	for _, v := range vals {
		if v == nil {
			return nil
		}
		sum += *v
	}
	return &sum
}

// digitOnly strips everything but digits; used to pull a region code out of
// labels like "Zip Code: 33602".
func digitOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
