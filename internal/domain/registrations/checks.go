package registrations

import (
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Check names a self-registration precondition. The empty Check means every
// precondition holds.
type Check string

const (
	CheckNone             Check = ""
	CheckUserInactive     Check = "user_inactive"
	CheckPhone            Check = "phone"
	CheckEmergencyPhone   Check = "emergency_phone"
	CheckEventStatus      Check = "event_not_confirmed"
	CheckAlreadyInvolved  Check = "already_registered"
	CheckUserGroup        Check = "user_group"
	CheckRegistrationTime Check = "registration_closed"
	CheckLicenceCategory  Check = "licence_category"
	CheckSuspended        Check = "suspended"
	CheckNoSlot           Check = "no_slot"
	CheckConflict         Check = "conflicting_registration"
	CheckPrice            Check = "price_unavailable"

	// Checks of operations other than self-registration.
	CheckNotRegistered        Check = "not_registered"
	CheckUnregistrationClosed Check = "unregistration_closed"
	CheckTransition           Check = "invalid_transition"
	CheckEventCancelled       Check = "event_cancelled"
)

// SelfRegistration gathers what the self-registration checks look at.
type SelfRegistration struct {
	Event         models.Event
	EventType     *models.EventType
	Registrations []models.Registration // all registrations of the event

	User   models.User
	Badges []models.Badge
	// InGroup is the event user group decision as of the event start. It is
	// ignored when the event has no user group.
	InGroup bool
	// Plausible validates phone numbers. Nil accepts any non-empty number.
	Plausible func(string) bool

	Waiting bool // a waiting-list slot is requested
	At      time.Time
}

func (s SelfRegistration) plausible(number string) bool {
	if s.Plausible == nil {
		return number != ""
	}
	return s.Plausible(number)
}

// CheckSelfRegistration evaluates the self-registration preconditions in
// order and returns the first one that fails.
func CheckSelfRegistration(s SelfRegistration) Check {
	ev := s.Event
	switch {
	case !s.User.IsActiveAt(s.At):
		return CheckUserInactive
	case !s.plausible(s.User.Phone):
		return CheckPhone
	case !s.plausible(s.User.EmergencyContactPhone):
		return CheckEmergencyPhone
	case ev.Status != models.EventConfirmed:
		return CheckEventStatus
	case ev.HasLeader(s.User.ID) || len(ForUser(s.Registrations, s.User.ID)) > 0:
		return CheckAlreadyInvolved
	case ev.UserGroupID != nil && !s.InGroup:
		return CheckUserGroup
	case !ev.IsRegistrationOpenAt(s.At):
		return CheckRegistrationTime
	case s.EventType != nil && !s.EventType.AcceptsLicenceCategory(s.User.LicenceCategory):
		return CheckLicenceCategory
	case IsSuspended(s.Badges, s.At):
		return CheckSuspended
	}

	online := HasFreeOnlineSlots(ev, s.Registrations)
	if !s.Waiting {
		if !online {
			return CheckNoSlot
		}
		return CheckNone
	}
	if online || !HasFreeWaitingSlots(ev, s.Registrations) {
		return CheckNoSlot
	}
	return CheckNone
}

// IsSuspended reports whether one of the badges is a Suspended badge still
// valid at t.
func IsSuspended(badges []models.Badge, t time.Time) bool {
	for _, b := range badges {
		if b.Kind == models.BadgeSuspended && !b.ExpiredAt(t) {
			return true
		}
	}
	return false
}

// Conflicts returns the registrations of a user, on other events overlapping
// ev, that still hold a slot.
func Conflicts(ev models.Event, others []models.Event, regs []models.Registration) []models.Registration {
	overlapping := map[primitive.ObjectID]bool{}
	for _, o := range others {
		if o.ID != ev.ID && o.Status != models.EventCancelled && o.Overlaps(ev.Start, ev.End) {
			overlapping[o.ID] = true
		}
	}
	var out []models.Registration
	for _, r := range regs {
		if overlapping[r.EventID] && r.Status.IsHoldingSlot() {
			out = append(out, r)
		}
	}
	return out
}

// Validity problems reported by EventValidity.
const (
	ProblemSlots          = "slots"
	ProblemOnlineSlots    = "online_slots"
	ProblemDates          = "dates"
	ProblemRegistration   = "registration_window"
	ProblemLeaders        = "leaders"
	ProblemMainLeader     = "main_leader"
	ProblemActivity       = "activity"
	ProblemLeaderCoverage = "leader_coverage"
)

// EventValidity lists what makes an event invalid; an empty result means the
// event is valid. leads reports whether a leader can lead an activity; when
// the event type requires an activity, every activity must be led by at
// least one leader.
func EventValidity(ev models.Event, et *models.EventType, leads func(leaderID, activityID primitive.ObjectID) bool) []string {
	var problems []string
	if ev.NumSlots < 0 || ev.NumOnlineSlots < 0 || ev.NumWaitingList < 0 {
		problems = append(problems, ProblemSlots)
	}
	if ev.NumOnlineSlots > ev.NumSlots {
		problems = append(problems, ProblemOnlineSlots)
	}
	if ev.End.Before(ev.Start) {
		problems = append(problems, ProblemDates)
	}
	if ev.NumOnlineSlots > 0 {
		open, cls := ev.RegistrationOpenTime, ev.RegistrationCloseTime
		if open == nil || cls == nil || cls.Before(*open) || ev.End.Before(*open) {
			problems = append(problems, ProblemRegistration)
		}
	}
	if len(ev.LeaderIDs) == 0 {
		problems = append(problems, ProblemLeaders)
	}
	if ev.MainLeaderID != nil && !ev.HasLeader(*ev.MainLeaderID) {
		problems = append(problems, ProblemMainLeader)
	}
	if et != nil && et.RequiresActivity {
		if len(ev.ActivityIDs) == 0 {
			problems = append(problems, ProblemActivity)
		}
		for _, a := range ev.ActivityIDs {
			covered := false
			for _, l := range ev.LeaderIDs {
				if leads != nil && leads(l, a) {
					covered = true
					break
				}
			}
			if !covered {
				problems = append(problems, ProblemLeaderCoverage)
				break
			}
		}
	}
	return problems
}
