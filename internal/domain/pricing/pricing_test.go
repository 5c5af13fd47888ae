package pricing_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/pricing"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func price(amount int64, start, end *time.Time) models.ItemPrice {
	return models.ItemPrice{ID: primitive.NewObjectID(), Amount: amount, Enabled: true, StartDate: start, EndDate: end}
}

func ptr[T any](v T) *T { return &v }

func TestAvailablePrices_Filters(t *testing.T) {
	group := primitive.NewObjectID()
	enabled := price(1000, nil, nil)
	disabled := price(500, nil, nil)
	disabled.Enabled = false
	capped := price(700, nil, nil)
	capped.MaxUses = ptr(2)
	grouped := price(300, nil, nil)
	grouped.UserGroupID = &group

	item := models.PaymentItem{Prices: []models.ItemPrice{enabled, disabled, capped, grouped}}

	tests := []struct {
		name  string
		buyer pricing.Buyer
		want  int
	}{
		{"no group, capped has room", pricing.Buyer{Uses: map[primitive.ObjectID]int{capped.ID: 1}}, 2},
		{"capped exhausted", pricing.Buyer{Uses: map[primitive.ObjectID]int{capped.ID: 2}}, 1},
		{"in group", pricing.Buyer{InGroup: func(id primitive.ObjectID) bool { return id == group }}, 3},
		{"not in group", pricing.Buyer{InGroup: func(primitive.ObjectID) bool { return false }}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pricing.AvailablePrices(item, tt.buyer)
			if len(got) != tt.want {
				t.Errorf("got %d prices, want %d", len(got), tt.want)
			}
		})
	}
}

func TestRemainingUses(t *testing.T) {
	p := price(100, nil, nil)
	if got := pricing.RemainingUses(p, 50); got != -1 {
		t.Errorf("unlimited price: got %d, want -1", got)
	}
	p.MaxUses = ptr(3)
	if got := pricing.RemainingUses(p, 1); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := pricing.RemainingUses(p, 5); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if pricing.HasRemainingUses(p, 3) {
		t.Error("use count equal to max must be exhausted")
	}
}

func TestCheapestAt_Windows(t *testing.T) {
	early := price(800, nil, ptr(day(2025, 5, 31)))
	normal := price(1000, nil, nil)
	late := price(1200, ptr(day(2025, 6, 15)), nil)
	item := models.PaymentItem{Prices: []models.ItemPrice{normal, early, late}}

	tests := []struct {
		date time.Time
		want int64
	}{
		{day(2025, 5, 1), 800},
		{day(2025, 5, 31).Add(20 * time.Hour), 800}, // end day is inclusive
		{day(2025, 6, 1), 1000},
		{day(2025, 7, 1), 1000},
	}
	for _, tt := range tests {
		p, ok := pricing.CheapestAt(item, pricing.Buyer{}, tt.date)
		if !ok {
			t.Fatalf("expected a price at %v", tt.date)
		}
		if p.Amount != tt.want {
			t.Errorf("at %v: got %d, want %d", tt.date, p.Amount, tt.want)
		}
	}

	if _, ok := pricing.CheapestAt(models.PaymentItem{}, pricing.Buyer{}, day(2025, 1, 1)); ok {
		t.Error("empty item has no price")
	}
}

func TestTimeline(t *testing.T) {
	now := day(2025, 5, 1).Add(9 * time.Hour)
	early := price(800, nil, ptr(day(2025, 5, 31)))
	late := price(1200, ptr(day(2025, 6, 1)), ptr(day(2025, 6, 30)))
	last := price(1200, ptr(day(2025, 7, 1)), ptr(day(2025, 7, 10)))
	item := models.PaymentItem{Prices: []models.ItemPrice{early, late, last}}

	got := pricing.Timeline(item, pricing.Buyer{}, now)

	if len(got) != 3 {
		t.Fatalf("expected 3 periods, got %d: %+v", len(got), got)
	}
	if *got[0].Amount != 800 || !got[0].Start.Equal(day(2025, 5, 1)) || !got[0].End.Equal(day(2025, 5, 31)) {
		t.Errorf("unexpected first period %+v", got[0])
	}
	// June and July prices have the same amount and are merged.
	if *got[1].Amount != 1200 || !got[1].Start.Equal(day(2025, 6, 1)) || !got[1].End.Equal(day(2025, 7, 10)) {
		t.Errorf("unexpected second period %+v", got[1])
	}
	if got[2].Amount != nil || got[2].End != nil {
		t.Errorf("expected open period with no price, got %+v", got[2])
	}
}

// Disabling a price never makes the cheapest price cheaper.
func TestCheapestAt_MonotoneInEnabledPrices(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	date := day(2025, 6, 15)

	for i := 0; i < 500; i++ {
		var item models.PaymentItem
		for j := rng.Intn(6) + 1; j > 0; j-- {
			var start, end *time.Time
			if rng.Intn(2) == 0 {
				start = ptr(day(2025, 6, 1+rng.Intn(28)))
			}
			if rng.Intn(2) == 0 {
				end = ptr(day(2025, 6, 1+rng.Intn(28)))
			}
			item.Prices = append(item.Prices, price(int64(rng.Intn(50))*100, start, end))
		}

		before, okBefore := pricing.CheapestAt(item, pricing.Buyer{}, date)

		k := rng.Intn(len(item.Prices))
		item.Prices[k].Enabled = false
		after, okAfter := pricing.CheapestAt(item, pricing.Buyer{}, date)

		if okAfter && !okBefore {
			t.Fatalf("disabling a price made one available")
		}
		if okAfter && after.Amount < before.Amount {
			t.Fatalf("disabling a price lowered the cheapest amount: %d -> %d", before.Amount, after.Amount)
		}
	}
}

func TestShiftWindow(t *testing.T) {
	p := price(100, ptr(day(2025, 1, 1)), ptr(day(2025, 1, 10)))
	s := pricing.ShiftWindow(p, 7*24*time.Hour)
	if !s.StartDate.Equal(day(2025, 1, 8)) || !s.EndDate.Equal(day(2025, 1, 17)) {
		t.Errorf("unexpected shifted window %v - %v", s.StartDate, s.EndDate)
	}
	if !p.StartDate.Equal(day(2025, 1, 1)) {
		t.Error("source window was modified")
	}
}
