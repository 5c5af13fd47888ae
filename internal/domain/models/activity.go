// internal/domain/models/activity.go
package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ActivityKind separates sports from internal services.
type ActivityKind int

const (
	ActivityRegular ActivityKind = 0
	ActivityService ActivityKind = 1
)

// ActivityType is a sport (climbing, alpinism...) or an internal service.
type ActivityType struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Short      string             `bson:"short" json:"short"` // three-letter trigram used in order references
	Kind       ActivityKind       `bson:"kind" json:"kind"`
	Order      int                `bson:"order" json:"order"`
	Deprecated bool               `bson:"deprecated" json:"deprecated"`
}

// EventType classifies events (outing, training, social, purchase...).
type EventType struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name  string             `bson:"name" json:"name"`
	Short string             `bson:"short" json:"short"`

	RequiresActivity  bool `bson:"requires_activity" json:"requires_activity"`
	AttendanceCounted bool `bson:"attendance_counted" json:"attendance_counted"`

	// LicenceCategories restricts registration to these licence categories.
	// Empty means every category may register.
	LicenceCategories []string `bson:"licence_categories,omitempty" json:"licence_categories,omitempty"`

	TermsTitle string `bson:"terms_title,omitempty" json:"terms_title,omitempty"`
	TermsURL   string `bson:"terms_url,omitempty" json:"terms_url,omitempty"`
}

// AcceptsLicenceCategory reports whether a member with the given licence
// category may register to events of this type.
func (t EventType) AcceptsLicenceCategory(category string) bool {
	if len(t.LicenceCategories) == 0 {
		return true
	}
	for _, c := range t.LicenceCategories {
		if c == category {
			return true
		}
	}
	return false
}
