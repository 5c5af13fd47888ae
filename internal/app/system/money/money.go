// Package money formats amounts stored in minor currency units.
package money

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLocale is the locale receipts and notices are written in.
var DefaultLocale = language.French

// Format renders minor units (cents) in the currency's standard precision
// followed by its symbol, localised for DefaultLocale: 1250 EUR -> "12,50 €".
func Format(minor int64, code string) (string, error) {
	return FormatIn(DefaultLocale, minor, code)
}

// FormatIn is Format for an explicit locale.
func FormatIn(tag language.Tag, minor int64, code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)

	p := message.NewPrinter(tag)
	amount := p.Sprintf(fmt.Sprintf("%%.%df", scale), value)
	return amount + " " + p.Sprint(currency.NarrowSymbol(unit)), nil
}

// MustFormat is Format for amounts in a currency already validated at
// startup. It falls back to the raw minor units on error.
func MustFormat(minor int64, code string) string {
	s, err := Format(minor, code)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, code)
	}
	return s
}

// ParseMinor converts a decimal amount typed in a form ("12.5", "12,50")
// into minor units for a two-decimal currency.
func ParseMinor(s string) (int64, error) {
	var units, cents int64
	var sawSep bool
	var decimals int
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			d := int64(r - '0')
			if sawSep {
				if decimals == 2 {
					return 0, fmt.Errorf("amount %q: too many decimals", s)
				}
				cents = cents*10 + d
				decimals++
			} else {
				units = units*10 + d
			}
		case (r == '.' || r == ',') && !sawSep:
			sawSep = true
		default:
			return 0, fmt.Errorf("amount %q: invalid character %q", s, r)
		}
	}
	if decimals == 1 {
		cents *= 10
	}
	return units*100 + cents, nil
}
