package payline

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dalemusser/collectives/internal/domain/models"
	"gopkg.in/yaml.v3"
)

//go:embed codes.yaml
var defaultCodes []byte

// Codes maps processor results to payment statuses.
type Codes struct {
	shortMessages map[string]models.PaymentStatus
	refusedCodes  map[string]models.PaymentStatus
	resetRefund   map[string]bool
}

type codesFile struct {
	ShortMessages map[string]string `yaml:"short_messages"`
	RefusedCodes  map[string]string `yaml:"refused_codes"`
	ResetRefund   []string          `yaml:"reset_refund_codes"`
}

// DefaultCodes returns the embedded table.
func DefaultCodes() (*Codes, error) {
	return ParseCodes(defaultCodes)
}

// ParseCodes reads a codes table.
func ParseCodes(data []byte) (*Codes, error) {
	var f codesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse payline codes: %w", err)
	}
	c := &Codes{
		shortMessages: make(map[string]models.PaymentStatus, len(f.ShortMessages)),
		refusedCodes:  make(map[string]models.PaymentStatus, len(f.RefusedCodes)),
		resetRefund:   make(map[string]bool, len(f.ResetRefund)),
	}
	for _, code := range f.ResetRefund {
		c.resetRefund[strings.TrimSpace(code)] = true
	}
	for msg, name := range f.ShortMessages {
		st, err := parseStatus(name)
		if err != nil {
			return nil, fmt.Errorf("short message %s: %w", msg, err)
		}
		c.shortMessages[strings.ToUpper(msg)] = st
	}
	for code, name := range f.RefusedCodes {
		st, err := parseStatus(name)
		if err != nil {
			return nil, fmt.Errorf("refused code %s: %w", code, err)
		}
		c.refusedCodes[code] = st
	}
	return c, nil
}

func parseStatus(name string) (models.PaymentStatus, error) {
	for _, s := range []models.PaymentStatus{
		models.PaymentInitiated, models.PaymentApproved, models.PaymentCancelled,
		models.PaymentRefused, models.PaymentExpired, models.PaymentRefunded,
	} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown payment status %q", name)
}

// Status maps a processor result to a payment status. Unknown short
// messages leave the payment Initiated so that a later poll can settle it.
func (c *Codes) Status(r Result) models.PaymentStatus {
	msg := strings.ToUpper(strings.TrimSpace(r.ShortMessage))
	if msg == "REFUSED" {
		if st, ok := c.refusedCodes[r.Code]; ok {
			return st
		}
		return models.PaymentRefused
	}
	if st, ok := c.shortMessages[msg]; ok {
		return st
	}
	return models.PaymentInitiated
}

// ResetNeedsRefund reports whether a failed reset means the transaction was
// already remitted, so that it must be refunded instead.
func (c *Codes) ResetNeedsRefund(r Result) bool {
	return c.resetRefund[r.Code]
}
