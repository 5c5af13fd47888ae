// internal/domain/models/event.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventStatus is the publication status of an event.
type EventStatus int

const (
	EventConfirmed EventStatus = 0
	EventPending   EventStatus = 1
	EventCancelled EventStatus = 2
)

// EventVisibility controls who can see an event in the catalog.
type EventVisibility int

const (
	VisibilityPublic   EventVisibility = 0
	VisibilityLicensed EventVisibility = 1
	VisibilityActivity EventVisibility = 2
	VisibilityExternal EventVisibility = 3
)

// Event is an outing, training session or any other club event members can
// register to.
//
// NOTE:
//   - Registrations live in the registrations collection (event_id).
//   - Payment items live in the payment_items collection (event_id).
//   - AdmissionSeq is bumped for every admission attempt; registrations
//     record the value they were admitted with (insertion order).
type Event struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"` // markdown source
	Rendered    string             `bson:"rendered_description" json:"rendered_description"`

	Start                 time.Time  `bson:"start" json:"start"`
	End                   time.Time  `bson:"end" json:"end"`
	RegistrationOpenTime  *time.Time `bson:"registration_open_time,omitempty" json:"registration_open_time,omitempty"`
	RegistrationCloseTime *time.Time `bson:"registration_close_time,omitempty" json:"registration_close_time,omitempty"`

	NumSlots       int `bson:"num_slots" json:"num_slots"`
	NumOnlineSlots int `bson:"num_online_slots" json:"num_online_slots"`
	NumWaitingList int `bson:"num_waiting_list" json:"num_waiting_list"`

	Status     EventStatus     `bson:"status" json:"status"`
	Visibility EventVisibility `bson:"visibility" json:"visibility"`

	EventTypeID  *primitive.ObjectID  `bson:"event_type_id,omitempty" json:"event_type_id,omitempty"`
	ActivityIDs  []primitive.ObjectID `bson:"activity_ids" json:"activity_ids"`
	LeaderIDs    []primitive.ObjectID `bson:"leader_ids" json:"leader_ids"`
	MainLeaderID *primitive.ObjectID  `bson:"main_leader_id,omitempty" json:"main_leader_id,omitempty"`
	UserGroupID  *primitive.ObjectID  `bson:"user_group_id,omitempty" json:"user_group_id,omitempty"`
	Tags         []int                `bson:"tags,omitempty" json:"tags,omitempty"`

	// RequiresPayment is maintained from the payment items: true when the event
	// has at least one enabled price.
	RequiresPayment bool `bson:"requires_payment" json:"requires_payment"`

	AdmissionSeq int64 `bson:"admission_seq" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasLeader reports whether userID is one of the event leaders.
func (e Event) HasLeader(userID primitive.ObjectID) bool {
	for _, id := range e.LeaderIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasActivity reports whether the event is associated with the activity.
func (e Event) HasActivity(activityID primitive.ObjectID) bool {
	for _, id := range e.ActivityIDs {
		if id == activityID {
			return true
		}
	}
	return false
}

// IsRegistrationOpenAt reports whether t falls in the registration window
// (inclusive). An event without a window is never open for self-registration.
func (e Event) IsRegistrationOpenAt(t time.Time) bool {
	if e.RegistrationOpenTime == nil || e.RegistrationCloseTime == nil {
		return false
	}
	return !t.Before(*e.RegistrationOpenTime) && !t.After(*e.RegistrationCloseTime)
}

// Overlaps reports whether the event time range intersects [start, end].
func (e Event) Overlaps(start, end time.Time) bool {
	return !e.Start.After(end) && !start.After(e.End)
}
