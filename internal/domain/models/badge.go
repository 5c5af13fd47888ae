// internal/domain/models/badge.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BadgeKind enumerates badge types. Codes are persisted.
type BadgeKind int

const (
	BadgeBenevole                  BadgeKind = 1
	BadgeUnjustifiedAbsenceWarning BadgeKind = 2
	BadgeSuspended                 BadgeKind = 3
	BadgePractitioner              BadgeKind = 4
	BadgeSkill                     BadgeKind = 5
)

// Ordered reports whether levels of this kind are comparable, so that a
// condition on level N is met by any badge of level N or more.
func (k BadgeKind) Ordered() bool {
	return k == BadgePractitioner || k == BadgeSkill
}

// IsSanction reports whether the badge is produced by the sanction logic.
func (k BadgeKind) IsSanction() bool {
	return k == BadgeUnjustifiedAbsenceWarning || k == BadgeSuspended
}

func (k BadgeKind) String() string {
	switch k {
	case BadgeBenevole:
		return "benevole"
	case BadgeUnjustifiedAbsenceWarning:
		return "unjustified_absence_warning"
	case BadgeSuspended:
		return "suspended"
	case BadgePractitioner:
		return "practitioner"
	case BadgeSkill:
		return "skill"
	}
	return "unknown"
}

// Badge is a dated attribute of a user (volunteer, warning, suspension, skill...).
type Badge struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID         primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Kind           BadgeKind           `bson:"kind" json:"kind"`
	ActivityID     *primitive.ObjectID `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	Level          *int                `bson:"level,omitempty" json:"level,omitempty"`
	ExpirationDate *time.Time          `bson:"expiration_date,omitempty" json:"expiration_date,omitempty"`
	CreatedAt      *time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`

	// RegistrationID is set on sanction badges: the registration that caused them.
	RegistrationID *primitive.ObjectID `bson:"registration_id,omitempty" json:"registration_id,omitempty"`
}

// ExpiredAt reports whether the badge is no longer valid on the day of t.
// Badges without an expiration date never expire.
func (b Badge) ExpiredAt(t time.Time) bool {
	if b.ExpirationDate == nil {
		return false
	}
	return dayOf(t).After(dayOf(*b.ExpirationDate))
}

// LevelOrZero returns the badge level, 0 when unset.
func (b Badge) LevelOrZero() int {
	if b.Level == nil {
		return 0
	}
	return *b.Level
}
