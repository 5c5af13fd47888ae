// Package phone checks member phone numbers with libphonenumber metadata.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without an international prefix.
const DefaultRegion = "FR"

// Plausible reports whether number could be dialled: it parses in the
// default region and has a possible length for its country.
func Plausible(number string) bool {
	number = strings.TrimSpace(number)
	if number == "" {
		return false
	}
	n, err := phonenumbers.Parse(number, DefaultRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(n)
}

// E164 formats number as +CCNNN, or returns it unchanged when it cannot be parsed.
func E164(number string) string {
	n, err := phonenumbers.Parse(strings.TrimSpace(number), DefaultRegion)
	if err != nil {
		return number
	}
	return phonenumbers.Format(n, phonenumbers.E164)
}
