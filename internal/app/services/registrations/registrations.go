// Package registrations admits participants to events and moves their
// registrations through the status lifecycle.
//
// Every admission runs the same protocol inside a transaction: take the next
// admission sequence number of the event, insert the registration with it,
// re-read the registrations of the event and keep the insert only when it is
// neither a duplicate nor beyond the slots it was admitted against.
// Notifications are queued during the transaction and sent once it commits.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	sanctionsvc "github.com/dalemusser/collectives/internal/app/services/sanctions"
	badgestore "github.com/dalemusser/collectives/internal/app/store/badges"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	eventtypestore "github.com/dalemusser/collectives/internal/app/store/eventtypes"
	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	usergroupstore "github.com/dalemusser/collectives/internal/app/store/usergroups"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/phone"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"github.com/dalemusser/collectives/internal/domain/models"
	regdomain "github.com/dalemusser/collectives/internal/domain/registrations"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateRegistration: the user already holds a registration on the event.
	ErrDuplicateRegistration = errors.New("user is already registered to this event")
	// ErrOverbooked: the admission lost the race for the last slot.
	ErrOverbooked = errors.New("no slot left on this event")
	// ErrInvalidPrecondition wraps every PreconditionError.
	ErrInvalidPrecondition = errors.New("registration precondition failed")
)

// PreconditionError names the check that refused an operation.
type PreconditionError struct {
	Check regdomain.Check
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("registration refused: %s", e.Check)
}

func (e *PreconditionError) Unwrap() error { return ErrInvalidPrecondition }

func refuse(c regdomain.Check) error { return &PreconditionError{Check: c} }

// FailedCheck returns the check carried by err, if any.
func FailedCheck(err error) (regdomain.Check, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Check, true
	}
	return regdomain.CheckNone, false
}

// Service is the registration engine.
type Service struct {
	db        *mongo.Database
	events    *eventstore.Store
	types     *eventtypestore.Store
	regs      *registrationstore.Store
	users     *userstore.Store
	badges    *badgestore.Store
	groups    *usergroupstore.Store
	payments  *paymentstore.Store
	pricing   *pricingsvc.Service
	sanctions *sanctionsvc.Service
	settings  *configcache.Cache
	mail      mailer.Sender
	audit     *auditlog.Logger
	log       *zap.Logger
	baseURL   string
	now       func() time.Time
}

// Deps are the collaborators of the service.
type Deps struct {
	Pricing   *pricingsvc.Service
	Sanctions *sanctionsvc.Service
	Settings  *configcache.Cache
	Mail      mailer.Sender
	Audit     *auditlog.Logger
	BaseURL   string
}

// New creates the service.
func New(db *mongo.Database, d Deps, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		events:    eventstore.New(db),
		types:     eventtypestore.New(db),
		regs:      registrationstore.New(db),
		users:     userstore.New(db),
		badges:    badgestore.New(db),
		groups:    usergroupstore.New(db),
		payments:  paymentstore.New(db),
		pricing:   d.Pricing,
		sanctions: d.Sanctions,
		settings:  d.Settings,
		mail:      d.Mail,
		audit:     d.Audit,
		log:       logger,
		baseURL:   d.BaseURL,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Admission is the result of a registration.
type Admission struct {
	Registration models.Registration `json:"registration"`
	// Offer is the price to pay when the registration is PaymentPending.
	Offer *pricingsvc.Offer `json:"offer,omitempty"`
}

// SelfRequest is a member registering themselves.
type SelfRequest struct {
	EventID primitive.ObjectID
	UserID  primitive.ObjectID
	Waiting bool               // ask for a waiting-list slot
	PriceID primitive.ObjectID // zero picks the cheapest available price
}

// SelfRegister registers a member on an event after checking every
// self-registration precondition.
//
// On a paying event the registration starts PaymentPending and the returned
// Offer tells which price to pay, unless the selected price is free: the
// registration is then Active and an approved cash payment of zero is
// recorded.
func (s *Service) SelfRegister(ctx context.Context, req SelfRequest) (Admission, error) {
	ev, err := s.events.Get(ctx, req.EventID)
	if err != nil {
		return Admission{}, err
	}
	et, err := s.eventType(ctx, ev)
	if err != nil {
		return Admission{}, err
	}
	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return Admission{}, err
	}
	regs, err := s.regs.ForEvent(ctx, ev.ID)
	if err != nil {
		return Admission{}, err
	}
	badges, err := s.badges.ForUser(ctx, user.ID)
	if err != nil {
		return Admission{}, err
	}
	inGroup, err := s.inGroup(ctx, ev, user.ID)
	if err != nil {
		return Admission{}, err
	}

	now := s.now().UTC()
	check := regdomain.CheckSelfRegistration(regdomain.SelfRegistration{
		Event:         ev,
		EventType:     et,
		Registrations: regs,
		User:          *user,
		Badges:        badges,
		InGroup:       inGroup,
		Plausible:     phone.Plausible,
		Waiting:       req.Waiting,
		At:            now,
	})
	if check != regdomain.CheckNone {
		return Admission{}, refuse(check)
	}
	if requiresActivity(et) && !s.settings.Bool(ctx, models.ConfSelfRegistrationConflictsOff, false) {
		conflicts, err := s.conflicts(ctx, ev, user.ID)
		if err != nil {
			return Admission{}, err
		}
		if len(conflicts) > 0 {
			return Admission{}, refuse(regdomain.CheckConflict)
		}
	}

	reg := models.Registration{
		EventID:          ev.ID,
		UserID:           user.ID,
		Status:           models.RegActive,
		Level:            models.LevelNormal,
		IsSelf:           true,
		RegistrationTime: now,
	}
	var offer *pricingsvc.Offer
	switch {
	case req.Waiting:
		reg.Status = models.RegWaiting
	case ev.RequiresPayment:
		o, ok, err := s.pricing.Select(ctx, ev, user.ID, req.PriceID)
		if err != nil {
			return Admission{}, err
		}
		if !ok {
			return Admission{}, refuse(regdomain.CheckPrice)
		}
		offer = &o
		if o.Price.Amount > 0 {
			reg.Status = models.RegPaymentPending
		}
	}

	var admitted models.Registration
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		r, err := s.admit(ctx, ev, reg, false)
		if err != nil {
			return err
		}
		if offer != nil && offer.Price.Amount == 0 {
			if _, err := s.payments.Create(ctx, freePayment(r, *offer, now)); err != nil {
				return err
			}
		}
		admitted = r
		return nil
	})
	if err != nil {
		return Admission{}, err
	}

	s.audit.Registered(ctx, nil, admitted)
	s.log.Info("self registration",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("user_id", user.ID.Hex()),
		zap.String("status", admitted.Status.String()))

	adm := Admission{Registration: admitted}
	if admitted.Status == models.RegPaymentPending {
		adm.Offer = offer
	}
	if admitted.Status == models.RegActive {
		mailer.SendLogged(s.mail, mailer.BuildRegistrationEmail(user.Mail, s.emailData(ctx, ev, user)), s.log)
	}
	return adm, nil
}

// RegisterUser registers userID on behalf of a leader. Slot limits and the
// registration window do not apply. Registering again a user who already
// holds an Active registration returns it unchanged.
func (s *Service) RegisterUser(ctx context.Context, actor eventpolicy.Actor, eventID, userID primitive.ObjectID) (Admission, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return Admission{}, err
	}
	if err := eventpolicy.CanManageRegistrations(actor, ev); err != nil {
		return Admission{}, err
	}
	if ev.Status == models.EventCancelled {
		return Admission{}, refuse(regdomain.CheckEventCancelled)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Admission{}, err
	}
	if ev.HasLeader(user.ID) {
		return Admission{}, refuse(regdomain.CheckAlreadyInvolved)
	}
	inGroup, err := s.inGroup(ctx, ev, user.ID)
	if err != nil {
		return Admission{}, err
	}
	if ev.UserGroupID != nil && !inGroup {
		return Admission{}, refuse(regdomain.CheckUserGroup)
	}

	status := models.RegActive
	var offer *pricingsvc.Offer
	if ev.RequiresPayment {
		free, err := s.pricing.HasFreeOffer(ctx, ev, user.ID)
		if err != nil {
			return Admission{}, err
		}
		if !free {
			status = models.RegPaymentPending
			if o, ok, err := s.pricing.Select(ctx, ev, user.ID, primitive.NilObjectID); err != nil {
				return Admission{}, err
			} else if ok {
				offer = &o
			}
		}
	}

	existing, err := s.regs.ForUserOnEvent(ctx, user.ID, ev.ID)
	if err != nil {
		return Admission{}, err
	}
	prior := current(existing)

	var (
		out      mailer.Outbox
		admitted models.Registration
		from     models.RegistrationStatus
		changed  bool
	)
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		out = mailer.Outbox{}
		changed = false
		if prior == nil {
			r, err := s.admit(ctx, ev, models.Registration{
				EventID:          ev.ID,
				UserID:           user.ID,
				Status:           status,
				Level:            models.LevelNormal,
				RegistrationTime: s.now().UTC(),
			}, true)
			admitted = r
			return err
		}

		target := status
		switch prior.Status {
		case models.RegActive:
			admitted = *prior
			return nil
		case models.RegPresent, models.RegJustifiedAbsentee, models.RegUnJustifiedAbsentee:
			return ErrDuplicateRegistration
		case models.RegPaymentPending:
			paid, err := s.hasApprovedPayment(ctx, prior.ID)
			if err != nil {
				return err
			}
			if paid {
				target = models.RegActive
			}
			if target == prior.Status {
				admitted = *prior
				return nil
			}
		}
		from = prior.Status
		r, err := s.setStatus(ctx, ev, *prior, target, actor.ID, &out)
		admitted = r
		changed = err == nil
		return err
	})
	if err != nil {
		return Admission{}, err
	}
	out.Flush(s.mail, s.log)

	if changed {
		s.audit.StatusChanged(ctx, actor.ID, admitted, from)
	} else if prior == nil {
		s.audit.Registered(ctx, &actor.ID, admitted)
	}
	s.log.Info("leader registration",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("user_id", user.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()),
		zap.String("status", admitted.Status.String()))

	adm := Admission{Registration: admitted}
	if admitted.Status == models.RegPaymentPending {
		adm.Offer = offer
	}
	return adm, nil
}

// SelfUnregister withdraws userID from an event. Depending on the event type
// and timing the registration is deleted, marked SelfUnregistered, or marked
// LateSelfUnregistered and sanctioned. A freed slot promotes the waiting list
// and leaders are told.
func (s *Service) SelfUnregister(ctx context.Context, eventID, userID primitive.ObjectID) (regdomain.UnregistrationOutcome, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	et, err := s.eventType(ctx, ev)
	if err != nil {
		return 0, err
	}
	existing, err := s.regs.ForUserOnEvent(ctx, userID, eventID)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	var reg *models.Registration
	for i := range existing {
		if regdomain.CanSelfUnregister(ev, existing[i], now) {
			reg = &existing[i]
			break
		}
	}
	if reg == nil {
		if occupying(existing) != nil {
			return 0, refuse(regdomain.CheckUnregistrationClosed)
		}
		return 0, refuse(regdomain.CheckNotRegistered)
	}

	outcome := regdomain.Unregistration(ev, et, *reg, now, s.settings.RegistrationSettings(ctx))
	var out mailer.Outbox
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		out = mailer.Outbox{}
		updated := *reg
		switch outcome {
		case regdomain.OutcomeDelete:
			if err := s.regs.Delete(ctx, reg.ID); err != nil {
				return err
			}
		case regdomain.OutcomeUnregistered:
			updated.Status = models.RegSelfUnregistered
			if err := s.regs.SetStatus(ctx, reg.ID, updated.Status); err != nil {
				return err
			}
		case regdomain.OutcomeLateUnregistered:
			updated.Status = models.RegLateSelfUnregistered
			if err := s.regs.SetStatus(ctx, reg.ID, updated.Status); err != nil {
				return err
			}
			if _, err := s.sanctions.Apply(ctx, ev, updated, &out); err != nil {
				return err
			}
		}
		if reg.Status.IsHoldingSlot() {
			s.noticeLeaders(ctx, ev, userID, outcome == regdomain.OutcomeLateUnregistered, &out)
			if _, err := s.promote(ctx, ev, &out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	out.Flush(s.mail, s.log)

	s.audit.Unregistered(ctx, *reg, outcome == regdomain.OutcomeLateUnregistered)
	s.log.Info("self unregistration",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("user_id", userID.Hex()),
		zap.Int("outcome", int(outcome)))
	return outcome, nil
}

// ChangeStatus moves a registration to a new status on behalf of a leader.
// Entering a sanctioned status applies sanctions, leaving one reverses them,
// and freeing a slot promotes the waiting list.
func (s *Service) ChangeStatus(ctx context.Context, actor eventpolicy.Actor, regID primitive.ObjectID, to models.RegistrationStatus) (models.Registration, error) {
	reg, err := s.regs.Get(ctx, regID)
	if err != nil {
		return models.Registration{}, err
	}
	ev, err := s.events.Get(ctx, reg.EventID)
	if err != nil {
		return models.Registration{}, err
	}
	if err := eventpolicy.CanManageRegistrations(actor, ev); err != nil {
		return models.Registration{}, err
	}
	if !regdomain.CanTransition(reg.Status, to, ev.RequiresPayment) {
		return models.Registration{}, refuse(regdomain.CheckTransition)
	}

	var (
		out     mailer.Outbox
		updated models.Registration
	)
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		out = mailer.Outbox{}
		r, err := s.setStatus(ctx, ev, reg, to, actor.ID, &out)
		updated = r
		return err
	})
	if err != nil {
		return models.Registration{}, err
	}
	out.Flush(s.mail, s.log)

	s.audit.StatusChanged(ctx, actor.ID, updated, reg.Status)
	s.log.Info("registration status changed",
		zap.String("registration_id", reg.ID.Hex()),
		zap.String("from", reg.Status.String()),
		zap.String("to", to.String()),
		zap.String("actor_id", actor.ID.Hex()))
	return updated, nil
}

// Reject declines a registration and tells the participant.
func (s *Service) Reject(ctx context.Context, actor eventpolicy.Actor, regID primitive.ObjectID) (models.Registration, error) {
	reg, err := s.ChangeStatus(ctx, actor, regID, models.RegRejected)
	if err != nil {
		return models.Registration{}, err
	}
	ev, err := s.events.Get(ctx, reg.EventID)
	if err != nil {
		s.log.Warn("rejection notice: event lookup failed", zap.Error(err))
		return reg, nil
	}
	user, err := s.users.GetByID(ctx, reg.UserID)
	if err != nil {
		s.log.Warn("rejection notice: user lookup failed", zap.Error(err))
		return reg, nil
	}
	mailer.SendLogged(s.mail, mailer.BuildRejectionNotice(user.Mail, s.emailData(ctx, ev, user)), s.log)
	return reg, nil
}

// Delete removes a registration. Sanctions it caused are reversed and a
// freed slot promotes the waiting list.
func (s *Service) Delete(ctx context.Context, actor eventpolicy.Actor, regID primitive.ObjectID) error {
	reg, err := s.regs.Get(ctx, regID)
	if err != nil {
		return err
	}
	ev, err := s.events.Get(ctx, reg.EventID)
	if err != nil {
		return err
	}
	if err := eventpolicy.CanManageRegistrations(actor, ev); err != nil {
		return err
	}

	var out mailer.Outbox
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		out = mailer.Outbox{}
		if err := s.regs.Delete(ctx, reg.ID); err != nil {
			return err
		}
		if reg.Status.IsSanctioned() {
			if _, err := s.sanctions.Reverse(ctx, actor.ID, reg); err != nil {
				return err
			}
		}
		if reg.Status.IsHoldingSlot() {
			if _, err := s.promote(ctx, ev, &out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	out.Flush(s.mail, s.log)

	s.audit.RegistrationDeleted(ctx, &actor.ID, reg)
	s.log.Info("registration deleted",
		zap.String("registration_id", reg.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()))
	return nil
}

// PromoteWaiting moves waiting registrations of the event into free online
// slots, in admission order, and returns the promoted registrations.
func (s *Service) PromoteWaiting(ctx context.Context, eventID primitive.ObjectID) ([]models.Registration, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var (
		out      mailer.Outbox
		promoted []models.Registration
	)
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		out = mailer.Outbox{}
		p, err := s.promote(ctx, ev, &out)
		promoted = p
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Flush(s.mail, s.log)
	return promoted, nil
}

// admit runs the admission protocol for reg, which must not be stored yet.
// It must be called inside a transaction.
func (s *Service) admit(ctx context.Context, ev models.Event, reg models.Registration, allowOverbook bool) (models.Registration, error) {
	seq, err := s.events.NextAdmissionSeq(ctx, ev.ID)
	if err != nil {
		return models.Registration{}, err
	}
	reg.Seq = seq
	inserted, err := s.regs.Insert(ctx, reg)
	if err != nil {
		return models.Registration{}, err
	}
	all, err := s.regs.ForEvent(ctx, ev.ID)
	if err != nil {
		return models.Registration{}, err
	}
	if regdomain.IsDuplicate(all, inserted) {
		s.discard(ctx, inserted)
		return models.Registration{}, ErrDuplicateRegistration
	}
	if !allowOverbook && regdomain.IsOverbooked(ev, all, inserted) {
		s.discard(ctx, inserted)
		return models.Registration{}, ErrOverbooked
	}
	return inserted, nil
}

// discard removes a speculative insert. Inside a transaction the abort
// already does it; without one this is the only cleanup.
func (s *Service) discard(ctx context.Context, reg models.Registration) {
	if err := s.regs.Delete(ctx, reg.ID); err != nil && !errors.Is(err, registrationstore.ErrNotFound) {
		s.log.Warn("discard speculative registration", zap.String("registration_id", reg.ID.Hex()), zap.Error(err))
	}
}

// setStatus writes a transition and its side effects. It must be called
// inside a transaction.
func (s *Service) setStatus(ctx context.Context, ev models.Event, reg models.Registration, to models.RegistrationStatus, actorID primitive.ObjectID, out *mailer.Outbox) (models.Registration, error) {
	from := reg.Status
	if err := s.regs.SetStatus(ctx, reg.ID, to); err != nil {
		return models.Registration{}, err
	}
	reg.Status = to
	reg.UpdatedAt = s.now().UTC()

	if from.IsSanctioned() && !to.IsSanctioned() {
		if _, err := s.sanctions.Reverse(ctx, actorID, reg); err != nil {
			return models.Registration{}, err
		}
	}
	if to.IsSanctioned() && !from.IsSanctioned() {
		et, err := s.eventType(ctx, ev)
		if err != nil {
			return models.Registration{}, err
		}
		if et != nil && et.AttendanceCounted {
			if _, err := s.sanctions.Apply(ctx, ev, reg, out); err != nil {
				return models.Registration{}, err
			}
		}
	}
	if from.IsHoldingSlot() && !to.IsHoldingSlot() {
		if _, err := s.promote(ctx, ev, out); err != nil {
			return models.Registration{}, err
		}
	}
	return reg, nil
}

// promote fills free online slots from the waiting list. Waiting users with
// a conflicting registration, or with no price they may pay, are skipped.
// A promoted user loses their waiting registrations on overlapping events.
func (s *Service) promote(ctx context.Context, ev models.Event, out *mailer.Outbox) ([]models.Registration, error) {
	now := s.now().UTC()
	if !ev.IsRegistrationOpenAt(now) || ev.Status != models.EventConfirmed {
		return nil, nil
	}
	et, err := s.eventType(ctx, ev)
	if err != nil {
		return nil, err
	}
	regs, err := s.regs.ForEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	var promoted []models.Registration
	for _, w := range regdomain.Waiting(regs) {
		if !regdomain.HasFreeOnlineSlots(ev, regs) {
			break
		}
		if requiresActivity(et) {
			conflicts, err := s.conflicts(ctx, ev, w.UserID)
			if err != nil {
				return nil, err
			}
			if len(conflicts) > 0 {
				continue
			}
		}
		status := models.RegActive
		if ev.RequiresPayment {
			offers, err := s.pricing.Available(ctx, ev, w.UserID)
			if err != nil {
				return nil, err
			}
			if len(offers) == 0 {
				continue
			}
			status = models.RegPaymentPending
		}
		if err := s.regs.SetStatus(ctx, w.ID, status); err != nil {
			return nil, err
		}
		w.Status = status
		for i := range regs {
			if regs[i].ID == w.ID {
				regs[i].Status = status
			}
		}
		promoted = append(promoted, w)

		if requiresActivity(et) {
			if err := s.dropOverlappingWaits(ctx, ev, w.UserID); err != nil {
				return nil, err
			}
		}
		s.audit.Promoted(ctx, w)
		s.log.Info("promoted from waiting list",
			zap.String("event_id", ev.ID.Hex()),
			zap.String("user_id", w.UserID.Hex()),
			zap.String("status", status.String()))
		s.noticePromotion(ctx, ev, w.UserID, out)
	}
	return promoted, nil
}

// dropOverlappingWaits deletes the user's waiting registrations on other
// events overlapping ev.
func (s *Service) dropOverlappingWaits(ctx context.Context, ev models.Event, userID primitive.ObjectID) error {
	mine, err := s.regs.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	ids := otherEvents(mine, ev.ID)
	if len(ids) == 0 {
		return nil
	}
	overlapping, err := s.events.Overlapping(ctx, ids, ev.ID, ev.Start, ev.End)
	if err != nil {
		return err
	}
	hit := make(map[primitive.ObjectID]bool, len(overlapping))
	for _, o := range overlapping {
		hit[o.ID] = true
	}
	for _, r := range mine {
		if r.Status == models.RegWaiting && hit[r.EventID] {
			if err := s.regs.Delete(ctx, r.ID); err != nil && !errors.Is(err, registrationstore.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

// conflicts returns the slot-holding registrations of userID on other events
// overlapping ev.
func (s *Service) conflicts(ctx context.Context, ev models.Event, userID primitive.ObjectID) ([]models.Registration, error) {
	mine, err := s.regs.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := otherEvents(mine, ev.ID)
	if len(ids) == 0 {
		return nil, nil
	}
	others, err := s.events.Overlapping(ctx, ids, ev.ID, ev.Start, ev.End)
	if err != nil {
		return nil, err
	}
	return regdomain.Conflicts(ev, others, mine), nil
}

func (s *Service) eventType(ctx context.Context, ev models.Event) (*models.EventType, error) {
	if ev.EventTypeID == nil {
		return nil, nil
	}
	et, err := s.types.Get(ctx, *ev.EventTypeID)
	if errors.Is(err, eventtypestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &et, nil
}

// inGroup evaluates the event user group at the event start. A deleted
// group admits nobody.
func (s *Service) inGroup(ctx context.Context, ev models.Event, userID primitive.ObjectID) (bool, error) {
	if ev.UserGroupID == nil {
		return true, nil
	}
	ok, err := s.groups.ContainsID(ctx, *ev.UserGroupID, userID, ev.Start)
	if errors.Is(err, usergroupstore.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func (s *Service) hasApprovedPayment(ctx context.Context, regID primitive.ObjectID) (bool, error) {
	ps, err := s.payments.ForRegistration(ctx, regID)
	if err != nil {
		return false, err
	}
	for _, p := range ps {
		if p.Status == models.PaymentApproved {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) emailData(ctx context.Context, ev models.Event, user *models.User) mailer.EventEmailData {
	return mailer.EventEmailData{
		ClubName:   s.settings.ClubName(ctx),
		EventTitle: ev.Title,
		EventURL:   mailer.EventLink(s.baseURL, ev.ID.Hex()),
		Start:      ev.Start.Format(mailer.StartLayout),
		UserName:   user.FullName(),
	}
}

func (s *Service) noticePromotion(ctx context.Context, ev models.Event, userID primitive.ObjectID, out *mailer.Outbox) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.log.Warn("promotion notice: user lookup failed", zap.Error(err))
		return
	}
	data := s.emailData(ctx, ev, user)
	out.Add(mailer.BuildPromotionEmail(user.Mail, data))
	for _, l := range s.leaders(ctx, ev) {
		out.Add(mailer.BuildLeaderPromotionEmail(l.Mail, data))
	}
}

func (s *Service) noticeLeaders(ctx context.Context, ev models.Event, userID primitive.ObjectID, late bool, out *mailer.Outbox) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.log.Warn("unregistration notice: user lookup failed", zap.Error(err))
		return
	}
	data := s.emailData(ctx, ev, user)
	for _, l := range s.leaders(ctx, ev) {
		out.Add(mailer.BuildUnregistrationNotice(l.Mail, data, late))
	}
}

func (s *Service) leaders(ctx context.Context, ev models.Event) []models.User {
	if len(ev.LeaderIDs) == 0 {
		return nil
	}
	ls, err := s.users.GetMany(ctx, ev.LeaderIDs)
	if err != nil {
		s.log.Warn("leader lookup failed", zap.String("event_id", ev.ID.Hex()), zap.Error(err))
		return nil
	}
	return ls
}

func freePayment(reg models.Registration, o pricingsvc.Offer, now time.Time) models.Payment {
	return models.Payment{
		RegistrationID:   reg.ID,
		EventID:          reg.EventID,
		ItemID:           o.Item.ID,
		ItemPriceID:      o.Price.ID,
		BuyerID:          reg.UserID,
		Type:             models.PaymentCash,
		Status:           models.PaymentApproved,
		CreationTime:     now,
		FinalizationTime: &now,
	}
}

// occupying returns the registration that occupies the event: any status
// but Rejected, SelfUnregistered and LateSelfUnregistered.
func occupying(regs []models.Registration) *models.Registration {
	for i := range regs {
		switch regs[i].Status {
		case models.RegRejected, models.RegSelfUnregistered, models.RegLateSelfUnregistered:
		default:
			return &regs[i]
		}
	}
	return nil
}

// current returns the occupying registration, else the latest one.
func current(regs []models.Registration) *models.Registration {
	if r := occupying(regs); r != nil {
		return r
	}
	var latest *models.Registration
	for i := range regs {
		if latest == nil || latest.Before(regs[i]) {
			latest = &regs[i]
		}
	}
	return latest
}

func otherEvents(regs []models.Registration, exclude primitive.ObjectID) []primitive.ObjectID {
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	for _, r := range regs {
		if r.EventID == exclude || seen[r.EventID] {
			continue
		}
		seen[r.EventID] = true
		ids = append(ids, r.EventID)
	}
	return ids
}

func requiresActivity(et *models.EventType) bool {
	return et != nil && et.RequiresActivity
}
