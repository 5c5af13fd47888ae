// internal/domain/models/registration.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RegistrationStatus codes are persisted; do not renumber.
type RegistrationStatus int

const (
	RegActive               RegistrationStatus = 0
	RegRejected             RegistrationStatus = 1
	RegPaymentPending       RegistrationStatus = 2
	RegSelfUnregistered     RegistrationStatus = 3
	RegJustifiedAbsentee    RegistrationStatus = 4
	RegUnJustifiedAbsentee  RegistrationStatus = 5
	RegWaiting              RegistrationStatus = 6
	RegPresent              RegistrationStatus = 7
	RegLateSelfUnregistered RegistrationStatus = 8
)

var regStatusNames = map[RegistrationStatus]string{
	RegActive:               "active",
	RegRejected:             "rejected",
	RegPaymentPending:       "payment_pending",
	RegSelfUnregistered:     "self_unregistered",
	RegJustifiedAbsentee:    "justified_absentee",
	RegUnJustifiedAbsentee:  "unjustified_absentee",
	RegWaiting:              "waiting",
	RegPresent:              "present",
	RegLateSelfUnregistered: "late_self_unregistered",
}

func (s RegistrationStatus) String() string {
	if n, ok := regStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseRegistrationStatus maps a status name back to its code.
func ParseRegistrationStatus(name string) (RegistrationStatus, bool) {
	for s, n := range regStatusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// IsHoldingSlot reports whether registrations in this status count against
// the event's primary slots.
func (s RegistrationStatus) IsHoldingSlot() bool {
	switch s {
	case RegActive, RegPaymentPending, RegPresent, RegUnJustifiedAbsentee, RegJustifiedAbsentee:
		return true
	}
	return false
}

// IsValid reports whether the participant is confirmed (active or present).
func (s RegistrationStatus) IsValid() bool {
	return s == RegActive || s == RegPresent
}

// IsSanctioned reports whether entering this status may produce sanction badges.
func (s RegistrationStatus) IsSanctioned() bool {
	return s == RegLateSelfUnregistered || s == RegUnJustifiedAbsentee
}

// RegistrationLevel distinguishes co-leaders from normal participants.
type RegistrationLevel int

const (
	LevelNormal   RegistrationLevel = 0
	LevelCoLeader RegistrationLevel = 1
)

// Registration links a participant to an event.
// Leaders are not registered to their own events.
type Registration struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID          primitive.ObjectID `bson:"event_id" json:"event_id"`
	UserID           primitive.ObjectID `bson:"user_id" json:"user_id"`
	Status           RegistrationStatus `bson:"status" json:"status"`
	Level            RegistrationLevel  `bson:"level" json:"level"`
	IsSelf           bool               `bson:"is_self" json:"is_self"`
	Seq              int64              `bson:"seq" json:"seq"` // insertion order within the event
	RegistrationTime time.Time          `bson:"registration_time" json:"registration_time"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

// Before reports whether r was inserted before o.
func (r Registration) Before(o Registration) bool {
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}
	return r.ID.Hex() < o.ID.Hex()
}
