// Package registrations holds the slot accounting and status rules for event
// registrations. Everything here is pure: callers load the event, its
// registrations and the user, then ask.
package registrations

import (
	"sort"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// reRegister stands for "PaymentPending on a paying event, Active otherwise".
const reRegister models.RegistrationStatus = -1

var transitions = map[models.RegistrationStatus][]models.RegistrationStatus{
	models.RegActive: {
		models.RegRejected, models.RegUnJustifiedAbsentee, models.RegJustifiedAbsentee,
		models.RegWaiting, models.RegPresent,
	},
	models.RegRejected:       {reRegister, models.RegWaiting},
	models.RegPaymentPending: {models.RegRejected},
	models.RegSelfUnregistered: {
		reRegister, models.RegWaiting, models.RegJustifiedAbsentee, models.RegUnJustifiedAbsentee,
	},
	models.RegLateSelfUnregistered: {
		reRegister, models.RegWaiting, models.RegJustifiedAbsentee, models.RegUnJustifiedAbsentee,
	},
	models.RegJustifiedAbsentee:   {models.RegRejected, models.RegActive, models.RegUnJustifiedAbsentee},
	models.RegUnJustifiedAbsentee: {models.RegRejected, models.RegActive, models.RegJustifiedAbsentee},
	models.RegWaiting:             {models.RegRejected, reRegister},
	models.RegPresent: {
		models.RegRejected, models.RegUnJustifiedAbsentee, models.RegJustifiedAbsentee,
		models.RegWaiting, models.RegActive,
	},
}

// ReRegisterStatus is the status a registration gets when it is (re)admitted.
func ReRegisterStatus(requiresPayment bool) models.RegistrationStatus {
	if requiresPayment {
		return models.RegPaymentPending
	}
	return models.RegActive
}

// ValidTransitions lists the statuses a leader may move a registration to.
func ValidTransitions(from models.RegistrationStatus, requiresPayment bool) []models.RegistrationStatus {
	next := transitions[from]
	out := make([]models.RegistrationStatus, 0, len(next))
	for _, s := range next {
		if s == reRegister {
			s = ReRegisterStatus(requiresPayment)
		}
		out = append(out, s)
	}
	return out
}

// CanTransition reports whether a leader may move a registration from one
// status to another.
func CanTransition(from, to models.RegistrationStatus, requiresPayment bool) bool {
	for _, s := range ValidTransitions(from, requiresPayment) {
		if s == to {
			return true
		}
	}
	return false
}

// HoldingCount is the number of registrations consuming a primary slot.
func HoldingCount(regs []models.Registration) int {
	n := 0
	for _, r := range regs {
		if r.Status.IsHoldingSlot() {
			n++
		}
	}
	return n
}

// OnlineCount is the number of self-registrations holding a slot.
func OnlineCount(regs []models.Registration) int {
	n := 0
	for _, r := range regs {
		if r.IsSelf && r.Status.IsHoldingSlot() {
			n++
		}
	}
	return n
}

// WaitingCount is the size of the waiting list.
func WaitingCount(regs []models.Registration) int {
	n := 0
	for _, r := range regs {
		if r.Status == models.RegWaiting {
			n++
		}
	}
	return n
}

// Waiting returns the waiting registrations in insertion order.
func Waiting(regs []models.Registration) []models.Registration {
	var out []models.Registration
	for _, r := range regs {
		if r.Status == models.RegWaiting {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// FreeSlots is the number of primary slots left, never negative.
func FreeSlots(ev models.Event, regs []models.Registration) int {
	return max(ev.NumSlots-HoldingCount(regs), 0)
}

// HasFreeOnlineSlots reports whether a self-registration may take a primary
// slot. Online slots are a subset of the primary slots.
func HasFreeOnlineSlots(ev models.Event, regs []models.Registration) bool {
	return HoldingCount(regs) < ev.NumOnlineSlots
}

// HasFreeWaitingSlots reports whether the waiting list has room.
func HasFreeWaitingSlots(ev models.Event, regs []models.Registration) bool {
	return WaitingCount(regs) < ev.NumWaitingList
}

// ForUser returns the user's registrations on the event.
func ForUser(regs []models.Registration, userID primitive.ObjectID) []models.Registration {
	var out []models.Registration
	for _, r := range regs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// occupies reports whether the registration blocks another one for the same
// user: it holds a slot or sits on the waiting list.
func occupies(r models.Registration) bool {
	return r.Status.IsHoldingSlot() || r.Status == models.RegWaiting
}

// IsDuplicate reports whether another registration of the same user holds a
// slot or waits, so that reg must not exist alongside it.
func IsDuplicate(regs []models.Registration, reg models.Registration) bool {
	if !occupies(reg) {
		return false
	}
	for _, r := range regs {
		if r.ID != reg.ID && r.UserID == reg.UserID && occupies(r) {
			return true
		}
	}
	return false
}

// IsOverbooked reports whether the registrations, once reg is part of them,
// exceed the event capacity for reg's status. Primary slots are checked for
// slot-holding statuses (online slots as well for self-registrations), the
// waiting list for Waiting.
func IsOverbooked(ev models.Event, regs []models.Registration, reg models.Registration) bool {
	switch {
	case reg.Status.IsHoldingSlot():
		holders := HoldingCount(regs)
		if holders > ev.NumSlots {
			return true
		}
		return reg.IsSelf && holders > ev.NumOnlineSlots
	case reg.Status == models.RegWaiting:
		return WaitingCount(regs) > ev.NumWaitingList
	}
	return false
}

// Settings are the club-wide unregistration thresholds.
type Settings struct {
	// LateThreshold: unregistering less than this before the start is late.
	LateThreshold time.Duration
	// GracePeriod: unregistering within this delay after registering is
	// never late.
	GracePeriod time.Duration
}

// CanSelfUnregister reports whether the user may still withdraw at now.
func CanSelfUnregister(ev models.Event, reg models.Registration, now time.Time) bool {
	if now.After(ev.Start) {
		return false
	}
	switch reg.Status {
	case models.RegActive, models.RegPaymentPending, models.RegWaiting, models.RegPresent:
		return true
	}
	return false
}

// IsLateUnregistration reports whether withdrawing reg at now is late and
// must be sanctioned. Only slot holders of attendance-counted events can be
// late.
func IsLateUnregistration(ev models.Event, et *models.EventType, reg models.Registration, now time.Time, s Settings) bool {
	if et == nil || !et.AttendanceCounted {
		return false
	}
	if !reg.Status.IsHoldingSlot() {
		return false
	}
	limit := ev.Start.Add(-s.LateThreshold)
	if grace := reg.RegistrationTime.Add(s.GracePeriod); grace.After(limit) {
		limit = grace
	}
	return now.After(limit)
}

// UnregistrationOutcome is what a self-unregistration does to the registration.
type UnregistrationOutcome int

const (
	OutcomeDelete UnregistrationOutcome = iota
	OutcomeUnregistered
	OutcomeLateUnregistered
)

func (o UnregistrationOutcome) String() string {
	switch o {
	case OutcomeDelete:
		return "deleted"
	case OutcomeUnregistered:
		return "unregistered"
	case OutcomeLateUnregistered:
		return "late_unregistered"
	}
	return "unknown"
}

// Unregistration decides the outcome of a self-unregistration. Waiting
// registrations and events whose type does not count attendance are simply
// deleted.
func Unregistration(ev models.Event, et *models.EventType, reg models.Registration, now time.Time, s Settings) UnregistrationOutcome {
	if reg.Status == models.RegWaiting || et == nil || !et.AttendanceCounted {
		return OutcomeDelete
	}
	if IsLateUnregistration(ev, et, reg, now, s) {
		return OutcomeLateUnregistered
	}
	return OutcomeUnregistered
}
