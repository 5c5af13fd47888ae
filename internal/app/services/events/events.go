// Package events creates, edits, copies and cancels events.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	eventtypestore "github.com/dalemusser/collectives/internal/app/store/eventtypes"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	usergroupstore "github.com/dalemusser/collectives/internal/app/store/usergroups"
	"github.com/dalemusser/collectives/internal/app/system/markup"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"github.com/dalemusser/collectives/internal/domain/access"
	"github.com/dalemusser/collectives/internal/domain/models"
	regdomain "github.com/dalemusser/collectives/internal/domain/registrations"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrAlreadyCancelled is returned when cancelling a cancelled event.
var ErrAlreadyCancelled = errors.New("event is already cancelled")

// ValidationError lists what makes an event invalid.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Problems, ", ")
}

// Promoter fills online slots opened by an edit.
type Promoter interface {
	PromoteWaiting(ctx context.Context, eventID primitive.ObjectID) ([]models.Registration, error)
}

// Service is the event service.
type Service struct {
	db       *mongo.Database
	events   *eventstore.Store
	types    *eventtypestore.Store
	regs     *registrationstore.Store
	roles    *rolestore.Store
	groups   *usergroupstore.Store
	pricing  *pricingsvc.Service
	payments *paymentsvc.Service
	promoter Promoter
	log      *zap.Logger
}

// New creates the service.
func New(db *mongo.Database, pricing *pricingsvc.Service, payments *paymentsvc.Service, promoter Promoter, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		events:   eventstore.New(db),
		types:    eventtypestore.New(db),
		regs:     registrationstore.New(db),
		roles:    rolestore.New(db),
		groups:   usergroupstore.New(db),
		pricing:  pricing,
		payments: payments,
		promoter: promoter,
		log:      logger,
	}
}

// View is an event with its current occupancy.
type View struct {
	models.Event
	FreeSlots         int `json:"free_slots"`
	FreeOnlineSlots   int `json:"free_online_slots"`
	OnlineRegistered  int `json:"online_registered"`
	WaitingRegistered int `json:"waiting_registered"`
}

// View loads an event and counts its registrations.
func (s *Service) View(ctx context.Context, id primitive.ObjectID) (View, error) {
	ev, err := s.events.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	regs, err := s.regs.ForEvent(ctx, id)
	if err != nil {
		return View{}, err
	}
	return View{
		Event:             ev,
		FreeSlots:         regdomain.FreeSlots(ev, regs),
		FreeOnlineSlots:   max(ev.NumOnlineSlots-regdomain.HoldingCount(regs), 0),
		OnlineRegistered:  regdomain.OnlineCount(regs),
		WaitingRegistered: regdomain.WaitingCount(regs),
	}, nil
}

// Create validates and stores a new event.
func (s *Service) Create(ctx context.Context, actor eventpolicy.Actor, ev models.Event) (models.Event, error) {
	if err := eventpolicy.CanCreate(actor, ev); err != nil {
		return models.Event{}, err
	}
	if err := s.prepare(ctx, &ev); err != nil {
		return models.Event{}, err
	}
	ev.RequiresPayment = false
	created, err := s.events.Create(ctx, ev)
	if err != nil {
		return models.Event{}, err
	}
	s.log.Info("event created",
		zap.String("event_id", created.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()))
	return created, nil
}

// Update validates and saves the editable fields of an event. Online slots
// added by the edit are offered to the waiting list.
func (s *Service) Update(ctx context.Context, actor eventpolicy.Actor, ev models.Event) (models.Event, error) {
	prev, err := s.events.Get(ctx, ev.ID)
	if err != nil {
		return models.Event{}, err
	}
	if err := eventpolicy.CanEdit(actor, prev); err != nil {
		return models.Event{}, err
	}
	if err := s.prepare(ctx, &ev); err != nil {
		return models.Event{}, err
	}
	ev.RequiresPayment = prev.RequiresPayment
	ev.AdmissionSeq = prev.AdmissionSeq
	ev.CreatedAt = prev.CreatedAt
	if err := s.events.Update(ctx, ev); err != nil {
		return models.Event{}, err
	}
	s.log.Info("event updated",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()))

	if ev.NumOnlineSlots > prev.NumOnlineSlots && s.promoter != nil {
		if _, err := s.promoter.PromoteWaiting(ctx, ev.ID); err != nil {
			s.log.Error("promotion after edit", zap.String("event_id", ev.ID.Hex()), zap.Error(err))
		}
	}
	return s.events.Get(ctx, ev.ID)
}

// Copy duplicates an event so that it starts at start. Dates, registration
// window and price windows move by the same amount; the user group is
// cloned; registrations and payments are not copied. The copy is Pending.
func (s *Service) Copy(ctx context.Context, actor eventpolicy.Actor, srcID primitive.ObjectID, start time.Time) (models.Event, error) {
	src, err := s.events.Get(ctx, srcID)
	if err != nil {
		return models.Event{}, err
	}
	if err := eventpolicy.CanEdit(actor, src); err != nil {
		return models.Event{}, err
	}
	shift := start.Sub(src.Start)

	cp := src
	cp.ID = primitive.NilObjectID
	cp.Start = src.Start.Add(shift)
	cp.End = src.End.Add(shift)
	cp.RegistrationOpenTime = shiftPtr(src.RegistrationOpenTime, shift)
	cp.RegistrationCloseTime = shiftPtr(src.RegistrationCloseTime, shift)
	cp.Status = models.EventPending
	cp.RequiresPayment = false
	cp.UserGroupID = nil

	var created models.Event
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		ev, err := s.events.Create(ctx, cp)
		if err != nil {
			return err
		}
		if src.UserGroupID != nil {
			g, err := s.groups.CloneForEvent(ctx, *src.UserGroupID, src.ID, ev.ID)
			if err != nil && !errors.Is(err, usergroupstore.ErrNotFound) {
				return err
			}
			if err == nil {
				if err := s.events.SetUserGroup(ctx, ev.ID, &g.ID); err != nil {
					return err
				}
				ev.UserGroupID = &g.ID
			}
		}
		if _, err := s.pricing.CopyItems(ctx, src.ID, ev.ID, shift); err != nil {
			return err
		}
		created = ev
		return nil
	})
	if err != nil {
		return models.Event{}, err
	}
	s.log.Info("event copied",
		zap.String("from", src.ID.Hex()),
		zap.String("event_id", created.ID.Hex()),
		zap.Duration("shift", shift))
	return s.events.Get(ctx, created.ID)
}

// Cancel marks the event Cancelled and refunds its online payments.
// Refund failures are reported but do not undo the cancellation.
func (s *Service) Cancel(ctx context.Context, actor eventpolicy.Actor, eventID primitive.ObjectID) (paymentsvc.RefundSummary, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return paymentsvc.RefundSummary{}, err
	}
	if err := eventpolicy.CanEdit(actor, ev); err != nil {
		return paymentsvc.RefundSummary{}, err
	}
	if ev.Status == models.EventCancelled {
		return paymentsvc.RefundSummary{}, ErrAlreadyCancelled
	}
	if err := s.events.SetStatus(ctx, ev.ID, models.EventCancelled); err != nil {
		return paymentsvc.RefundSummary{}, err
	}
	s.log.Info("event cancelled",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()))
	if s.payments == nil {
		return paymentsvc.RefundSummary{}, nil
	}
	return s.payments.RefundAll(ctx, actor, ev.ID)
}

// prepare renders the description and validates ev.
func (s *Service) prepare(ctx context.Context, ev *models.Event) error {
	rendered, err := markup.Render(ev.Description)
	if err != nil {
		return err
	}
	ev.Rendered = rendered

	var et *models.EventType
	if ev.EventTypeID != nil {
		t, err := s.types.Get(ctx, *ev.EventTypeID)
		if err != nil {
			return err
		}
		et = &t
	}
	leaderRoles, err := s.roles.ForUsers(ctx, ev.LeaderIDs)
	if err != nil {
		return err
	}
	problems := regdomain.EventValidity(*ev, et, func(leaderID, activityID primitive.ObjectID) bool {
		return access.Leads(leaderRoles[leaderID], activityID)
	})
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func shiftPtr(t *time.Time, d time.Duration) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Add(d)
	return &v
}
