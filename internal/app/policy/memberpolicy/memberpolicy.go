// Package memberpolicy decides who may act on another member's account.
//
// Authorization rules:
//   - Members can act on their own account
//   - Hotline and administrators can act on every account
//   - Moderators can act on every account
package memberpolicy

import (
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	"github.com/dalemusser/collectives/internal/domain/access"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CanSync checks the right to force an extranet resync of target.
func CanSync(a eventpolicy.Actor, target primitive.ObjectID) error {
	if a.ID == target || access.IsHotline(a.Roles) || access.IsModerator(a.Roles) {
		return nil
	}
	return eventpolicy.ErrPermissionDenied
}
