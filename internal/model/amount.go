package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a fixed-point account value with exactly three decimal digits,
// stored internally as thousandths of a unit (so 1.000 == Amount(1000)).
type Amount int64

// NewAmount builds an Amount from a float, rounding to the nearest
// thousandth. Intended for call sites translating external (HTTP/CLI)
// input; internal arithmetic always stays in Amount.
func NewAmount(f float64) Amount {
	if f >= 0 {
		return Amount(f*1000 + 0.5)
	}
	return Amount(f*1000 - 0.5)
}

// Float64 converts back to a float64, e.g. for HTTP JSON responses that
// prefer plain numbers.
func (a Amount) Float64() float64 {
	return float64(a) / 1000
}

// Fmt3 renders the canonical fixed-3 representation used inside hash
// preimages: a leading "-" for negative values, the integer part, a dot,
// and exactly three fraction digits.
func (a Amount) Fmt3() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	whole, frac := v/1000, v%1000
	if neg {
		return fmt.Sprintf("-%d.%03d", whole, frac)
	}
	return fmt.Sprintf("%d.%03d", whole, frac)
}

func (a Amount) String() string { return a.Fmt3() }

// MarshalJSON emits the fixed-3 value as a bare JSON number, e.g. 100.000.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Fmt3()), nil
}

// UnmarshalJSON accepts any JSON number (with at most three fraction
// digits) or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("model: invalid amount %q: %w", s, err)
	}
	var f int64
	if hasFrac {
		for len(frac) < 3 {
			frac += "0"
		}
		if len(frac) > 3 {
			frac = frac[:3]
		}
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return fmt.Errorf("model: invalid amount %q: %w", s, err)
		}
	}
	v := w*1000 + f
	if neg {
		v = -v
	}
	*a = Amount(v)
	return nil
}
