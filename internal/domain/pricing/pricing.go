// Package pricing selects prices available to a buyer.
//
// A price is available when it is enabled, has uses left, and its optional
// user group contains the buyer (as of the event start). At a given date the
// price's optional [start, end] window must also cover the date; windows are
// day-granular and the end day is inclusive.
package pricing

import (
	"sort"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Buyer carries the facts about one buyer needed to filter prices.
type Buyer struct {
	// Uses maps a price id to its current use count (see RemainingUses).
	Uses map[primitive.ObjectID]int
	// InGroup reports whether the buyer belongs to a user group. It is only
	// called for prices restricted to a group. Nil means "belongs to none".
	InGroup func(groupID primitive.ObjectID) bool
}

// HasRemainingUses reports whether a price can be used once more given its
// current use count. A nil MaxUses is unlimited.
func HasRemainingUses(p models.ItemPrice, used int) bool {
	if p.MaxUses == nil {
		return true
	}
	return used < *p.MaxUses
}

// RemainingUses returns how many uses are left, -1 for unlimited.
func RemainingUses(p models.ItemPrice, used int) int {
	if p.MaxUses == nil {
		return -1
	}
	if left := *p.MaxUses - used; left > 0 {
		return left
	}
	return 0
}

func (b Buyer) accepts(p models.ItemPrice) bool {
	if !p.Enabled {
		return false
	}
	if !HasRemainingUses(p, b.Uses[p.ID]) {
		return false
	}
	if p.UserGroupID != nil {
		if b.InGroup == nil || !b.InGroup(*p.UserGroupID) {
			return false
		}
	}
	return true
}

// CoversDate reports whether the price window contains the day of date.
func CoversDate(p models.ItemPrice, date time.Time) bool {
	day := dayOf(date)
	if p.StartDate != nil && day.Before(dayOf(*p.StartDate)) {
		return false
	}
	if p.EndDate != nil && day.After(dayOf(*p.EndDate)) {
		return false
	}
	return true
}

// AvailablePrices returns the prices of item the buyer may use, ignoring
// date windows.
func AvailablePrices(item models.PaymentItem, b Buyer) []models.ItemPrice {
	var out []models.ItemPrice
	for _, p := range item.Prices {
		if b.accepts(p) {
			out = append(out, p)
		}
	}
	return out
}

// AvailablePricesAt further restricts AvailablePrices to prices whose window
// covers date.
func AvailablePricesAt(item models.PaymentItem, b Buyer, date time.Time) []models.ItemPrice {
	var out []models.ItemPrice
	for _, p := range AvailablePrices(item, b) {
		if CoversDate(p, date) {
			out = append(out, p)
		}
	}
	return out
}

// CheapestAt returns the cheapest price available at date. Ties go to the
// price listed first.
func CheapestAt(item models.PaymentItem, b Buyer, date time.Time) (models.ItemPrice, bool) {
	prices := AvailablePricesAt(item, b, date)
	if len(prices) == 0 {
		return models.ItemPrice{}, false
	}
	best := prices[0]
	for _, p := range prices[1:] {
		if p.Amount < best.Amount {
			best = p
		}
	}
	return best, true
}

// Period is one step of a price timeline. End is inclusive; nil End means the
// period is open-ended. Amount is nil when no price is available.
type Period struct {
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
	Amount *int64     `json:"amount"`
}

// Timeline returns the cheapest available amount over time from now on.
// Boundaries are the price window edges after now; adjacent periods with the
// same amount are merged.
func Timeline(item models.PaymentItem, b Buyer, now time.Time) []Period {
	today := dayOf(now)
	bounds := map[time.Time]bool{today: true}
	for _, p := range AvailablePrices(item, b) {
		if p.StartDate != nil {
			if d := dayOf(*p.StartDate); d.After(today) {
				bounds[d] = true
			}
		}
		if p.EndDate != nil {
			// The day after the last valid day starts a new period.
			if d := dayOf(*p.EndDate).AddDate(0, 0, 1); d.After(today) {
				bounds[d] = true
			}
		}
	}

	days := make([]time.Time, 0, len(bounds))
	for d := range bounds {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var out []Period
	for _, d := range days {
		var amount *int64
		if p, ok := CheapestAt(item, b, d); ok {
			a := p.Amount
			amount = &a
		}
		if n := len(out); n > 0 && sameAmount(out[n-1].Amount, amount) {
			continue
		}
		if n := len(out); n > 0 {
			end := d.AddDate(0, 0, -1)
			out[n-1].End = &end
		}
		out = append(out, Period{Start: d, Amount: amount})
	}
	return out
}

func sameAmount(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// dayOf truncates t to midnight UTC; price windows are stored as UTC dates.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ShiftWindow moves a price's date window by d. Used when copying events.
func ShiftWindow(p models.ItemPrice, d time.Duration) models.ItemPrice {
	if p.StartDate != nil {
		s := p.StartDate.Add(d)
		p.StartDate = &s
	}
	if p.EndDate != nil {
		e := p.EndDate.Add(d)
		p.EndDate = &e
	}
	return p
}
