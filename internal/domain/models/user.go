// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserKind tells where a user's identity comes from.
type UserKind int

const (
	UserKindTest            UserKind = 0
	UserKindExtranet        UserKind = 1
	UserKindLocal           UserKind = 2
	UserKindUnverifiedLocal UserKind = 3
)

// Gender as reported by the federation extranet ("qualite").
type Gender int

const (
	GenderUnknown Gender = 0
	GenderWoman   Gender = 1
	GenderMan     Gender = 2
)

// User is a club member (or a local account such as a partner or a test user).
//
// NOTE:
//   - Roles and badges are stored in their own collections (roles, badges).
//   - Mail and licence are unique across the users collection.
type User struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Mail    string             `bson:"mail" json:"mail"` // normalized lowercase
	Licence string             `bson:"licence" json:"licence"`

	FirstName  string `bson:"first_name" json:"first_name"`
	LastName   string `bson:"last_name" json:"last_name"`
	FullNameCI string `bson:"full_name_ci" json:"-"` // folded, for search

	DateOfBirth           time.Time `bson:"date_of_birth" json:"date_of_birth"`
	Gender                Gender    `bson:"gender" json:"gender"`
	Phone                 string    `bson:"phone" json:"phone"`
	EmergencyContactName  string    `bson:"emergency_contact_name" json:"emergency_contact_name"`
	EmergencyContactPhone string    `bson:"emergency_contact_phone" json:"emergency_contact_phone"`

	Enabled           bool       `bson:"enabled" json:"enabled"`
	Kind              UserKind   `bson:"kind" json:"kind"`
	LicenceCategory   string     `bson:"licence_category" json:"licence_category"`
	LicenceExpiryDate *time.Time `bson:"licence_expiry_date,omitempty" json:"licence_expiry_date,omitempty"`
	LastExtranetSync  *time.Time `bson:"last_extranet_sync,omitempty" json:"last_extranet_sync,omitempty"`

	PasswordHash string `bson:"password_hash,omitempty" json:"-"`
	Auth0ID      string `bson:"auth0_id,omitempty" json:"-"` // external identity provider subject

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// FullName returns "First Last".
func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// LicenceValidAt reports whether the user's licence is valid on the day of t.
// Local and test accounts are not bound to a federation licence.
func (u User) LicenceValidAt(t time.Time) bool {
	switch u.Kind {
	case UserKindLocal, UserKindTest:
		return true
	}
	if u.LicenceExpiryDate == nil {
		return false
	}
	return u.LicenceExpiryDate.After(dayOf(t))
}

// IsActiveAt reports whether the account may take part in club life at t:
// enabled, verified, and holding a valid licence.
func (u User) IsActiveAt(t time.Time) bool {
	if !u.Enabled || u.Kind == UserKindUnverifiedLocal {
		return false
	}
	return u.LicenceValidAt(t)
}

// dayOf truncates t to midnight UTC. Dates (expiry, birth) are stored as UTC midnights.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
