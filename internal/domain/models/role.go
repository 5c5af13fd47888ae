// internal/domain/models/role.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RoleKind enumerates the roles a user can hold. Codes are persisted.
type RoleKind int

const (
	RoleModerator          RoleKind = 1
	RoleAdministrator      RoleKind = 2
	RolePresident          RoleKind = 3
	RoleTechnician         RoleKind = 4
	RoleHotline            RoleKind = 5
	RoleAccountant         RoleKind = 6
	RoleStaff              RoleKind = 7
	RoleEventLeader        RoleKind = 10
	RoleActivitySupervisor RoleKind = 11
	RoleTrainee            RoleKind = 12
	RoleActivityStaff      RoleKind = 13
	RoleEquipmentManager   RoleKind = 21
	RoleEquipmentVolunteer RoleKind = 22
)

var roleNames = map[RoleKind]string{
	RoleModerator:          "moderator",
	RoleAdministrator:      "administrator",
	RolePresident:          "president",
	RoleTechnician:         "technician",
	RoleHotline:            "hotline",
	RoleAccountant:         "accountant",
	RoleStaff:              "staff",
	RoleEventLeader:        "event_leader",
	RoleActivitySupervisor: "activity_supervisor",
	RoleTrainee:            "trainee",
	RoleActivityStaff:      "activity_staff",
	RoleEquipmentManager:   "equipment_manager",
	RoleEquipmentVolunteer: "equipment_volunteer",
}

// String returns the snake_case name of the role kind.
func (k RoleKind) String() string {
	if n, ok := roleNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseRoleKind maps a role name back to its kind.
func ParseRoleKind(name string) (RoleKind, bool) {
	for k, n := range roleNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// RelatesToActivity reports whether roles of this kind are scoped to an activity.
func (k RoleKind) RelatesToActivity() bool {
	switch k {
	case RoleEventLeader, RoleActivitySupervisor, RoleTrainee, RoleActivityStaff:
		return true
	}
	return false
}

// Role grants a capability to a user, optionally scoped to one activity.
type Role struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Kind       RoleKind            `bson:"kind" json:"kind"`
	ActivityID *primitive.ObjectID `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	CreatedAt  time.Time           `bson:"created_at" json:"created_at"`
}
