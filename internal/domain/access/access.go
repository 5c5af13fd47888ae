// Package access derives capabilities from a user's roles.
//
// Roles are (kind, optional activity) pairs. Capabilities combine them:
// supervising an activity, leading an activity, creating or editing events,
// moderating. Functions take the role list explicitly so callers decide how
// roles are loaded.
package access

import (
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// moderatorKinds are the roles with site-wide moderation rights.
var moderatorKinds = []models.RoleKind{
	models.RoleModerator,
	models.RoleAdministrator,
	models.RolePresident,
}

// HasAnyKind reports whether any role has one of the given kinds, whatever
// its activity.
func HasAnyKind(roles []models.Role, kinds ...models.RoleKind) bool {
	for _, r := range roles {
		for _, k := range kinds {
			if r.Kind == k {
				return true
			}
		}
	}
	return false
}

// hasKindFor reports whether a role of the given kind is scoped to activityID.
func hasKindFor(roles []models.Role, activityID primitive.ObjectID, kinds ...models.RoleKind) bool {
	for _, r := range roles {
		if r.ActivityID == nil || *r.ActivityID != activityID {
			continue
		}
		for _, k := range kinds {
			if r.Kind == k {
				return true
			}
		}
	}
	return false
}

// IsAdmin reports whether the user is an administrator.
func IsAdmin(roles []models.Role) bool {
	return HasAnyKind(roles, models.RoleAdministrator)
}

// IsModerator covers Moderator, Administrator and President.
func IsModerator(roles []models.Role) bool {
	return HasAnyKind(roles, moderatorKinds...)
}

// IsHotline reports whether the user may act on other members' accounts.
// Administrators are implicitly hotline.
func IsHotline(roles []models.Role) bool {
	return HasAnyKind(roles, models.RoleHotline, models.RoleAdministrator)
}

// IsAccountant reports whether the user may handle payments of any event.
func IsAccountant(roles []models.Role) bool {
	return HasAnyKind(roles, models.RoleAccountant, models.RoleAdministrator)
}

// Supervises reports whether the user supervises the activity.
// Administrators and presidents supervise every activity.
func Supervises(roles []models.Role, activityID primitive.ObjectID) bool {
	if HasAnyKind(roles, models.RoleAdministrator, models.RolePresident) {
		return true
	}
	return hasKindFor(roles, activityID, models.RoleActivitySupervisor)
}

// Leads reports whether the user can lead events of the activity.
func Leads(roles []models.Role, activityID primitive.ObjectID) bool {
	return hasKindFor(roles, activityID, models.RoleEventLeader, models.RoleActivitySupervisor)
}

// CanCreateEvents reports whether the user may create events at all.
func CanCreateEvents(roles []models.Role) bool {
	return HasAnyKind(roles,
		models.RoleEventLeader,
		models.RoleActivitySupervisor,
		models.RolePresident,
		models.RoleAdministrator,
	)
}

// LedActivities returns the activities the user can lead, without duplicates.
func LedActivities(roles []models.Role) []primitive.ObjectID {
	seen := map[primitive.ObjectID]bool{}
	var out []primitive.ObjectID
	for _, r := range roles {
		if r.ActivityID == nil {
			continue
		}
		if r.Kind != models.RoleEventLeader && r.Kind != models.RoleActivitySupervisor {
			continue
		}
		if !seen[*r.ActivityID] {
			seen[*r.ActivityID] = true
			out = append(out, *r.ActivityID)
		}
	}
	return out
}

// CanEditEvent: a moderator, a leader of the event, or a supervisor of any of
// its activities.
func CanEditEvent(roles []models.Role, userID primitive.ObjectID, ev models.Event) bool {
	if IsModerator(roles) {
		return true
	}
	if ev.HasLeader(userID) {
		return true
	}
	for _, a := range ev.ActivityIDs {
		if Supervises(roles, a) {
			return true
		}
	}
	return false
}

// CanManageRegistrations is the right to register others, reject and
// change statuses on an event. Same rule as editing it.
func CanManageRegistrations(roles []models.Role, userID primitive.ObjectID, ev models.Event) bool {
	return CanEditEvent(roles, userID, ev)
}

// CanHandlePayments covers reporting offline payments and refunds.
func CanHandlePayments(roles []models.Role, userID primitive.ObjectID, ev models.Event) bool {
	return IsAccountant(roles) || CanEditEvent(roles, userID, ev)
}
