// Package licence holds the federation licence calendar rules.
//
// A licence renewed in year Y before RenewalMonth expires on the first day of
// ExpiryMonth of year Y. Renewed on or after RenewalMonth, it is valid until
// ExpiryMonth of year Y+1.
package licence

import (
	"strings"
	"time"
)

const (
	RenewalMonth = time.September
	ExpiryMonth  = time.October
)

// ExpiryDate returns the expiry date of a licence renewed on renewal.
func ExpiryDate(renewal time.Time) time.Time {
	year := renewal.Year()
	if renewal.Month() >= RenewalMonth {
		year++
	}
	return time.Date(year, ExpiryMonth, 1, 0, 0, 0, 0, time.UTC)
}

// NextExpiryMonthStart returns the first day of ExpiryMonth strictly after
// the day of t. Warning badges expire on that date.
func NextExpiryMonthStart(t time.Time) time.Time {
	d := time.Date(t.Year(), ExpiryMonth, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if !d.After(day) {
		d = d.AddDate(1, 0, 0)
	}
	return d
}

// Info is what the extranet tells about a licence number.
type Info struct {
	Exists      bool
	RenewalDate *time.Time
}

// Expiry returns the expiry date, nil when the renewal date is unknown.
func (i Info) Expiry() *time.Time {
	if i.RenewalDate == nil {
		return nil
	}
	e := ExpiryDate(*i.RenewalDate)
	return &e
}

// ValidAt reports whether the licence exists and has not expired on the day of t.
// A licence with no known renewal date is considered valid.
func (i Info) ValidAt(t time.Time) bool {
	if !i.Exists {
		return false
	}
	e := i.Expiry()
	if e == nil {
		return true
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return e.After(day)
}

// IssuedByClub reports whether the licence number carries the club prefix.
// An empty prefix accepts every licence.
func IssuedByClub(number, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(number), prefix)
}

// Normalize strips spaces from a licence number as typed by a member.
func Normalize(number string) string {
	return strings.Join(strings.Fields(number), "")
}
