// Package eventpolicy decides who may act on events, their registrations
// and their payments.
//
// Authorization rules:
//   - Moderators, administrators and presidents can act on every event
//   - Leaders of an event can manage it
//   - Supervisors of one of its activities can manage it
//   - Accountants can handle payments of every event
package eventpolicy

import (
	"context"
	"errors"
	"net/http"

	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/app/system/authz"
	"github.com/dalemusser/collectives/internal/domain/access"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrPermissionDenied is returned when the actor lacks the required right.
var ErrPermissionDenied = errors.New("permission denied")

// Actor is the user performing an operation, with their roles.
type Actor struct {
	ID    primitive.ObjectID
	Roles []models.Role
}

// LoadActor fetches the roles of userID.
func LoadActor(ctx context.Context, rs *rolestore.Store, userID primitive.ObjectID) (Actor, error) {
	rl, err := rs.ForUser(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: userID, Roles: rl}, nil
}

// RequestActor loads the signed-in user of r as an Actor. Anonymous
// requests get ErrPermissionDenied.
func RequestActor(r *http.Request, rs *rolestore.Store) (Actor, error) {
	userID, ok := authz.UserID(r)
	if !ok {
		return Actor{}, ErrPermissionDenied
	}
	return LoadActor(r.Context(), rs, userID)
}

func require(ok bool) error {
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// CanEdit checks the right to edit, copy or cancel ev.
func CanEdit(a Actor, ev models.Event) error {
	return require(access.CanEditEvent(a.Roles, a.ID, ev))
}

// CanManageRegistrations checks the right to register others on ev and
// change their statuses.
func CanManageRegistrations(a Actor, ev models.Event) error {
	return require(access.CanManageRegistrations(a.Roles, a.ID, ev))
}

// CanHandlePayments checks the right to report offline payments and to
// refund on ev.
func CanHandlePayments(a Actor, ev models.Event) error {
	return require(access.CanHandlePayments(a.Roles, a.ID, ev))
}

// CanCreate checks the right to create ev: the actor must be able to create
// events and, unless a moderator, lead or supervise every activity of ev.
func CanCreate(a Actor, ev models.Event) error {
	if !access.CanCreateEvents(a.Roles) {
		return ErrPermissionDenied
	}
	if access.IsModerator(a.Roles) {
		return nil
	}
	for _, act := range ev.ActivityIDs {
		if !access.Leads(a.Roles, act) && !access.Supervises(a.Roles, act) {
			return ErrPermissionDenied
		}
	}
	return nil
}
