// Package pricing loads what price selection needs (use counts, group
// membership) and maintains the payment items of events.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	paymentitemstore "github.com/dalemusser/collectives/internal/app/store/paymentitems"
	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	usergroupstore "github.com/dalemusser/collectives/internal/app/store/usergroups"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/pricing"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrInvalidItem is returned when an edited item does not belong to the event.
var ErrInvalidItem = errors.New("payment item does not belong to the event")

// Offer is a price together with the item it belongs to.
type Offer struct {
	Item  models.PaymentItem
	Price models.ItemPrice
}

// Service is the price selection and payment item service.
type Service struct {
	db       *mongo.Database
	events   *eventstore.Store
	items    *paymentitemstore.Store
	payments *paymentstore.Store
	regs     *registrationstore.Store
	groups   *usergroupstore.Store
	log      *zap.Logger
	now      func() time.Time
}

// New creates the service.
func New(db *mongo.Database, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		events:   eventstore.New(db),
		items:    paymentitemstore.New(db),
		payments: paymentstore.New(db),
		regs:     registrationstore.New(db),
		groups:   usergroupstore.New(db),
		log:      logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// UseCounts counts, per price, the outstanding payments (Initiated or
// Approved) whose registration holds a slot, plus those made by leaders
// of the event.
func (s *Service) UseCounts(ctx context.Context, ev models.Event) (map[primitive.ObjectID]int, error) {
	payments, err := s.payments.ForEvent(ctx, ev.ID, paymentstore.Outstanding...)
	if err != nil {
		return nil, err
	}
	regs, err := s.regs.ForEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	holding := make(map[primitive.ObjectID]bool, len(regs))
	for _, r := range regs {
		holding[r.ID] = r.Status.IsHoldingSlot()
	}
	uses := map[primitive.ObjectID]int{}
	for _, p := range payments {
		if holding[p.RegistrationID] || ev.HasLeader(p.BuyerID) {
			uses[p.ItemPriceID]++
		}
	}
	return uses, nil
}

// Buyer gathers the facts about userID needed to filter the prices of ev.
// Group membership is evaluated at the event start.
func (s *Service) Buyer(ctx context.Context, ev models.Event, items []models.PaymentItem, userID primitive.ObjectID) (pricing.Buyer, error) {
	uses, err := s.UseCounts(ctx, ev)
	if err != nil {
		return pricing.Buyer{}, err
	}
	member := map[primitive.ObjectID]bool{}
	for _, it := range items {
		for _, p := range it.Prices {
			if p.UserGroupID == nil {
				continue
			}
			if _, done := member[*p.UserGroupID]; done {
				continue
			}
			ok, err := s.groups.ContainsID(ctx, *p.UserGroupID, userID, ev.Start)
			if err != nil && !errors.Is(err, usergroupstore.ErrNotFound) {
				return pricing.Buyer{}, err
			}
			member[*p.UserGroupID] = ok
		}
	}
	return pricing.Buyer{
		Uses:    uses,
		InGroup: func(id primitive.ObjectID) bool { return member[id] },
	}, nil
}

// Available returns the offers userID may pick on ev right now.
func (s *Service) Available(ctx context.Context, ev models.Event, userID primitive.ObjectID) ([]Offer, error) {
	items, err := s.items.ForEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	b, err := s.Buyer(ctx, ev, items, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Offer
	for _, it := range items {
		for _, p := range pricing.AvailablePricesAt(it, b, now) {
			out = append(out, Offer{Item: it, Price: p})
		}
	}
	return out, nil
}

// Select returns the offer for priceID when userID may use it now. A zero
// priceID selects the cheapest available offer. ok is false when nothing
// matches.
func (s *Service) Select(ctx context.Context, ev models.Event, userID, priceID primitive.ObjectID) (Offer, bool, error) {
	offers, err := s.Available(ctx, ev, userID)
	if err != nil {
		return Offer{}, false, err
	}
	var best *Offer
	for i := range offers {
		o := offers[i]
		if !priceID.IsZero() {
			if o.Price.ID == priceID {
				return o, true, nil
			}
			continue
		}
		if best == nil || o.Price.Amount < best.Price.Amount {
			best = &offers[i]
		}
	}
	if best == nil {
		return Offer{}, false, nil
	}
	return *best, true, nil
}

// HasFreeOffer reports whether userID can register on ev without paying.
func (s *Service) HasFreeOffer(ctx context.Context, ev models.Event, userID primitive.ObjectID) (bool, error) {
	offers, err := s.Available(ctx, ev, userID)
	if err != nil {
		return false, err
	}
	for _, o := range offers {
		if o.Price.Amount == 0 {
			return true, nil
		}
	}
	return false, nil
}

// ItemTimeline is the price timeline of one item, with the prices the
// member may pick today.
type ItemTimeline struct {
	ItemID    primitive.ObjectID `json:"item_id"`
	Title     string             `json:"title"`
	Periods   []pricing.Period   `json:"periods"`
	Available []AvailablePrice   `json:"available"`
}

// AvailablePrice is a price open to the member now. RemainingUses is -1
// when the price is unlimited.
type AvailablePrice struct {
	ID            primitive.ObjectID `json:"id"`
	Title         string             `json:"title"`
	Amount        int64              `json:"amount"`
	RemainingUses int                `json:"remaining_uses"`
}

// Timelines returns, for each item of ev, the cheapest amount userID would
// pay over time and the prices available now.
func (s *Service) Timelines(ctx context.Context, ev models.Event, userID primitive.ObjectID) ([]ItemTimeline, error) {
	items, err := s.items.ForEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	b, err := s.Buyer(ctx, ev, items, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ItemTimeline, 0, len(items))
	for _, it := range items {
		avail := []AvailablePrice{}
		for _, p := range pricing.AvailablePricesAt(it, b, now) {
			avail = append(avail, AvailablePrice{
				ID:            p.ID,
				Title:         p.Title,
				Amount:        p.Amount,
				RemainingUses: pricing.RemainingUses(p, b.Uses[p.ID]),
			})
		}
		out = append(out, ItemTimeline{
			ItemID:    it.ID,
			Title:     it.Title,
			Periods:   pricing.Timeline(it, b, now),
			Available: avail,
		})
	}
	return out, nil
}

// EditPrices replaces the payment items of an event. Items missing from
// items are purged; prices removed from an item are disabled when a payment
// references them and dropped otherwise. The event's requires_payment flag
// follows the result.
func (s *Service) EditPrices(ctx context.Context, actor eventpolicy.Actor, eventID primitive.ObjectID, items []models.PaymentItem) ([]models.PaymentItem, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := eventpolicy.CanEdit(actor, ev); err != nil {
		return nil, err
	}

	var saved []models.PaymentItem
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		saved = saved[:0]
		current, err := s.items.ForEvent(ctx, eventID)
		if err != nil {
			return err
		}
		byID := make(map[primitive.ObjectID]models.PaymentItem, len(current))
		for _, it := range current {
			byID[it.ID] = it
		}

		kept := map[primitive.ObjectID]bool{}
		for _, it := range items {
			it.EventID = eventID
			if it.ID.IsZero() {
				created, err := s.items.Create(ctx, it)
				if err != nil {
					return err
				}
				saved = append(saved, created)
				continue
			}
			old, ok := byID[it.ID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidItem, it.ID.Hex())
			}
			kept[it.ID] = true
			prices, err := s.mergeRemovedPrices(ctx, old.Prices, it.Prices)
			if err != nil {
				return err
			}
			it.Prices = prices
			updated, err := s.items.Replace(ctx, it)
			if err != nil {
				return err
			}
			saved = append(saved, updated)
		}
		for _, it := range current {
			if kept[it.ID] {
				continue
			}
			if err := s.purge(ctx, it); err != nil {
				return err
			}
		}
		return s.syncRequiresPayment(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("prices edited", zap.String("event_id", eventID.Hex()), zap.Int("items", len(saved)))
	return saved, nil
}

// mergeRemovedPrices keeps, disabled, the old prices that are missing from
// next but referenced by a payment.
func (s *Service) mergeRemovedPrices(ctx context.Context, old, next []models.ItemPrice) ([]models.ItemPrice, error) {
	present := map[primitive.ObjectID]bool{}
	for _, p := range next {
		if !p.ID.IsZero() {
			present[p.ID] = true
		}
	}
	var removed []primitive.ObjectID
	for _, p := range old {
		if !present[p.ID] {
			removed = append(removed, p.ID)
		}
	}
	if len(removed) == 0 {
		return next, nil
	}
	used, err := s.payments.PricesReferenced(ctx, removed)
	if err != nil {
		return nil, err
	}
	for _, p := range old {
		if !present[p.ID] && used[p.ID] {
			p.Enabled = false
			p.UpdateTime = s.now().UTC()
			next = append(next, p)
		}
	}
	return next, nil
}

// DeleteItem removes a payment item of eventID. Prices referenced by
// payments survive, disabled, so the payments keep their history; the item
// is deleted only when no such price remains.
func (s *Service) DeleteItem(ctx context.Context, actor eventpolicy.Actor, eventID, itemID primitive.ObjectID) error {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if err := eventpolicy.CanEdit(actor, ev); err != nil {
		return err
	}
	it, err := s.items.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if it.EventID != eventID {
		return fmt.Errorf("%w: %s", ErrInvalidItem, itemID.Hex())
	}
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		if err := s.purge(ctx, it); err != nil {
			return err
		}
		return s.syncRequiresPayment(ctx, eventID)
	})
	if err != nil {
		return err
	}
	s.log.Info("payment item deleted", zap.String("event_id", eventID.Hex()), zap.String("item_id", itemID.Hex()))
	return nil
}

func (s *Service) purge(ctx context.Context, it models.PaymentItem) error {
	ids := make([]primitive.ObjectID, 0, len(it.Prices))
	for _, p := range it.Prices {
		ids = append(ids, p.ID)
	}
	used, err := s.payments.PricesReferenced(ctx, ids)
	if err != nil {
		return err
	}
	var keep []models.ItemPrice
	for _, p := range it.Prices {
		if used[p.ID] {
			p.Enabled = false
			p.UpdateTime = s.now().UTC()
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return s.items.Delete(ctx, it.ID)
	}
	it.Prices = keep
	_, err = s.items.Replace(ctx, it)
	return err
}

// CopyItems deep-copies the payment items of from into to, with fresh ids.
// Price windows move by shift and price user groups are cloned. Payments
// are not copied.
func (s *Service) CopyItems(ctx context.Context, from, to primitive.ObjectID, shift time.Duration) ([]models.PaymentItem, error) {
	items, err := s.items.ForEvent(ctx, from)
	if err != nil {
		return nil, err
	}
	out := make([]models.PaymentItem, 0, len(items))
	for _, it := range items {
		cp := models.PaymentItem{EventID: to, Title: it.Title, Prices: make([]models.ItemPrice, 0, len(it.Prices))}
		for _, p := range it.Prices {
			p = pricing.ShiftWindow(p, shift)
			p.ID = primitive.NilObjectID
			p.UpdateTime = time.Time{}
			if p.UserGroupID != nil {
				g, err := s.groups.CloneForEvent(ctx, *p.UserGroupID, from, to)
				switch {
				case err == nil:
					p.UserGroupID = &g.ID
				case !errors.Is(err, usergroupstore.ErrNotFound):
					return nil, err
				}
			}
			cp.Prices = append(cp.Prices, p)
		}
		created, err := s.items.Create(ctx, cp)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	if err := s.syncRequiresPayment(ctx, to); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) syncRequiresPayment(ctx context.Context, eventID primitive.ObjectID) error {
	has, err := s.items.HasEnabledPrice(ctx, eventID)
	if err != nil {
		return err
	}
	return s.events.SetRequiresPayment(ctx, eventID, has)
}
