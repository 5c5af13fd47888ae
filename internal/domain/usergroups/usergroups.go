// Package usergroups evaluates dynamic user groups.
//
// A group is a conjunction of four condition families (role, badge, event,
// licence). Inside a family, positive conditions are OR-ed and inverted
// conditions are AND-ed as their negation. Empty families are ignored. Only
// active users can belong to a group.
package usergroups

import (
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Member is everything the evaluator needs to know about one user.
// LedEvents and AttendedEvents only need to cover events referenced by the
// group's event conditions.
type Member struct {
	User   models.User
	Roles  []models.Role
	Badges []models.Badge

	LedEvents      map[primitive.ObjectID]bool // user is a leader of the event
	AttendedEvents map[primitive.ObjectID]bool // user has an Active or Present registration
}

// HasConditions reports whether the group restricts anything. Callers treat
// a group without conditions as "no restriction".
func HasConditions(g models.UserGroup) bool {
	return len(g.RoleConditions)+len(g.BadgeConditions)+len(g.EventConditions)+len(g.LicenceConditions) > 0
}

// Contains reports whether m belongs to g at time at. Badge expiry and user
// activity are evaluated at that instant.
func Contains(g models.UserGroup, m Member, at time.Time) bool {
	if !m.User.IsActiveAt(at) {
		return false
	}

	if !family(len(g.RoleConditions), func(i int) (bool, bool) {
		c := g.RoleConditions[i]
		return c.Invert, matchRole(c, m.Roles)
	}) {
		return false
	}
	if !family(len(g.BadgeConditions), func(i int) (bool, bool) {
		c := g.BadgeConditions[i]
		return c.Invert, matchBadge(c, m.Badges, at)
	}) {
		return false
	}
	if !family(len(g.EventConditions), func(i int) (bool, bool) {
		c := g.EventConditions[i]
		return c.Invert, matchEvent(c, m)
	}) {
		return false
	}
	return family(len(g.LicenceConditions), func(i int) (bool, bool) {
		c := g.LicenceConditions[i]
		return c.Invert, m.User.LicenceCategory == c.Category
	})
}

// family combines n conditions. cond(i) returns (inverted, matched).
func family(n int, cond func(i int) (bool, bool)) bool {
	if n == 0 {
		return true
	}
	hasPositive := false
	anyPositive := false
	for i := 0; i < n; i++ {
		inverted, matched := cond(i)
		if inverted {
			if matched {
				return false
			}
			continue
		}
		hasPositive = true
		if matched {
			anyPositive = true
		}
	}
	return !hasPositive || anyPositive
}

func matchRole(c models.RoleCondition, roles []models.Role) bool {
	for _, r := range roles {
		if c.RoleKind != nil && r.Kind != *c.RoleKind {
			continue
		}
		if c.ActivityID != nil && (r.ActivityID == nil || *r.ActivityID != *c.ActivityID) {
			continue
		}
		return true
	}
	return false
}

func matchBadge(c models.BadgeCondition, badges []models.Badge, at time.Time) bool {
	for _, b := range badges {
		if c.BadgeKind != nil && b.Kind != *c.BadgeKind {
			continue
		}
		if c.ActivityID != nil && (b.ActivityID == nil || *b.ActivityID != *c.ActivityID) {
			continue
		}
		if c.Level != nil {
			if b.Kind.Ordered() {
				if b.LevelOrZero() < *c.Level {
					continue
				}
			} else if b.Level == nil || *b.Level != *c.Level {
				continue
			}
		}
		if b.ExpiredAt(at) {
			continue
		}
		return true
	}
	return false
}

func matchEvent(c models.EventCondition, m Member) bool {
	led := m.LedEvents[c.EventID]
	attended := m.AttendedEvents[c.EventID]
	if c.IsLeader == nil {
		return led || attended
	}
	if *c.IsLeader {
		return led
	}
	return attended
}

// Clone deep-copies g. Every condition gets a fresh id and the copy has no
// id, so both groups can live independently.
func Clone(g models.UserGroup) models.UserGroup {
	out := models.UserGroup{}

	if g.RoleConditions != nil {
		out.RoleConditions = make([]models.RoleCondition, len(g.RoleConditions))
		for i, c := range g.RoleConditions {
			c.ID = primitive.NewObjectID()
			c.RoleKind = copyPtr(c.RoleKind)
			c.ActivityID = copyPtr(c.ActivityID)
			out.RoleConditions[i] = c
		}
	}
	if g.BadgeConditions != nil {
		out.BadgeConditions = make([]models.BadgeCondition, len(g.BadgeConditions))
		for i, c := range g.BadgeConditions {
			c.ID = primitive.NewObjectID()
			c.BadgeKind = copyPtr(c.BadgeKind)
			c.ActivityID = copyPtr(c.ActivityID)
			c.Level = copyPtr(c.Level)
			out.BadgeConditions[i] = c
		}
	}
	if g.EventConditions != nil {
		out.EventConditions = make([]models.EventCondition, len(g.EventConditions))
		for i, c := range g.EventConditions {
			c.ID = primitive.NewObjectID()
			c.IsLeader = copyPtr(c.IsLeader)
			out.EventConditions[i] = c
		}
	}
	if g.LicenceConditions != nil {
		out.LicenceConditions = make([]models.LicenceCondition, len(g.LicenceConditions))
		for i, c := range g.LicenceConditions {
			c.ID = primitive.NewObjectID()
			out.LicenceConditions[i] = c
		}
	}
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ReferencedEvents returns the events named by the group's event conditions.
func ReferencedEvents(g models.UserGroup) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(g.EventConditions))
	for _, c := range g.EventConditions {
		out = append(out, c.EventID)
	}
	return out
}

// Retarget points the event conditions of g that name from at to instead.
// Used on clones of the groups of a duplicated event.
func Retarget(g models.UserGroup, from, to primitive.ObjectID) models.UserGroup {
	for i := range g.EventConditions {
		if g.EventConditions[i].EventID == from {
			g.EventConditions[i].EventID = to
		}
	}
	return g
}
