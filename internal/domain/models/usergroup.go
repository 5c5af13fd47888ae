// internal/domain/models/usergroup.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserGroup is a dynamic set of users defined by four condition families.
// A user belongs when every non-empty family accepts them.
type UserGroup struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	RoleConditions    []RoleCondition    `bson:"role_conditions" json:"role_conditions"`
	BadgeConditions   []BadgeCondition   `bson:"badge_conditions" json:"badge_conditions"`
	EventConditions   []EventCondition   `bson:"event_conditions" json:"event_conditions"`
	LicenceConditions []LicenceCondition `bson:"licence_conditions" json:"licence_conditions"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// RoleCondition matches users holding a role. Nil fields match anything.
type RoleCondition struct {
	ID         primitive.ObjectID  `bson:"_id" json:"id"`
	RoleKind   *RoleKind           `bson:"role_kind,omitempty" json:"role_kind,omitempty"`
	ActivityID *primitive.ObjectID `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	Invert     bool                `bson:"invert" json:"invert"`
}

// BadgeCondition matches users holding a non-expired badge.
type BadgeCondition struct {
	ID         primitive.ObjectID  `bson:"_id" json:"id"`
	BadgeKind  *BadgeKind          `bson:"badge_kind,omitempty" json:"badge_kind,omitempty"`
	ActivityID *primitive.ObjectID `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	Level      *int                `bson:"level,omitempty" json:"level,omitempty"`
	Invert     bool                `bson:"invert" json:"invert"`
}

// EventCondition matches leaders and/or participants of an event.
// IsLeader nil accepts either.
type EventCondition struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	EventID  primitive.ObjectID `bson:"event_id" json:"event_id"`
	IsLeader *bool              `bson:"is_leader,omitempty" json:"is_leader,omitempty"`
	Invert   bool               `bson:"invert" json:"invert"`
}

// LicenceCondition matches users of one licence category.
type LicenceCondition struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Category string             `bson:"category" json:"category"`
	Invert   bool               `bson:"invert" json:"invert"`
}
