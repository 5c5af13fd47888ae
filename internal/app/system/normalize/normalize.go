// Package normalize cleans user-supplied form and query values before they
// reach services and stores.
package normalize

import (
	"strings"
	"unicode"
)

// Email trims and lowercases an e-mail address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims and collapses inner whitespace; case is preserved.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Licence removes every space from a licence number as typed by a member.
func Licence(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Status lowercases a status name (registration status, payment type...).
func Status(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Role lowercases a role name.
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// QueryParam trims a query parameter; case is preserved.
func QueryParam(s string) string {
	return strings.TrimSpace(s)
}

// ID trims an object id parameter. "all" means no filter and maps to "".
func ID(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return ""
	}
	return s
}

// Phone keeps digits and a leading '+'. Plausibility is checked elsewhere.
func Phone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
