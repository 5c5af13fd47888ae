// internal/app/system/authz/authz.go
package authz

import (
	"net/http"
	"strings"

	"github.com/dalemusser/collectives/internal/app/system/auth"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserCtx returns the user's coarse role (lowercased), name, ObjectID and a
// found flag. Without a user, or with a malformed id, it returns
// "visitor", "", NilObjectID, false: ok=true always means a valid id.
func UserCtx(r *http.Request) (role string, name string, userID primitive.ObjectID, ok bool) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		return "visitor", "", primitive.NilObjectID, false
	}
	userID, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return "visitor", "", primitive.NilObjectID, false
	}
	return strings.ToLower(user.Role), user.Name, userID, true
}

// UserID returns the signed-in user's id.
func UserID(r *http.Request) (primitive.ObjectID, bool) {
	_, _, id, ok := UserCtx(r)
	return id, ok
}

// HasAnyRole reports whether the signed-in user's coarse role is one of roles.
func HasAnyRole(r *http.Request, roles ...string) bool {
	role, _, _, ok := UserCtx(r)
	if !ok {
		return false
	}
	for _, want := range roles {
		if role == strings.ToLower(strings.TrimSpace(want)) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the signed-in user is an administrator.
func IsAdmin(r *http.Request) bool {
	return HasAnyRole(r, "admin")
}

// IsModerator covers moderators and administrators.
func IsModerator(r *http.Request) bool {
	return HasAnyRole(r, "admin", "moderator")
}
