// internal/app/features/profile/profile.go
package profile

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	"github.com/dalemusser/collectives/internal/app/services/accounts"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/authz"
	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type profileResponse struct {
	User   models.User    `json:"user"`
	Roles  []models.Role  `json:"roles"`
	Badges []models.Badge `json:"badges"`
}

// ServeProfile handles GET /profile: the signed-in member with roles and
// badges.
func (h *Handler) ServeProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := authz.UserID(r)
	if !ok {
		uierrors.JSON(w, http.StatusUnauthorized, uierrors.Body{Error: "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		h.ErrLog.Respond(w, r, "load user failed", err)
		return
	}
	roles, err := h.Roles.ForUser(ctx, uid)
	if err != nil {
		h.ErrLog.Respond(w, r, "load roles failed", err)
		return
	}
	badges, err := h.Badges.ForUser(ctx, uid)
	if err != nil {
		h.ErrLog.Respond(w, r, "load badges failed", err)
		return
	}
	uierrors.OK(w, profileResponse{User: *u, Roles: roles, Badges: badges})
}

// HandleChangePassword handles POST /profile/password with current_password
// and new_password form values.
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	uid, ok := authz.UserID(r)
	if !ok {
		uierrors.JSON(w, http.StatusUnauthorized, uierrors.Body{Error: "unauthorized"})
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		h.ErrLog.Respond(w, r, "load user failed", err)
		return
	}

	current := r.PostForm.Get("current_password")
	next := r.PostForm.Get("new_password")
	if !userstore.CheckPassword(u, current) {
		uierrors.JSON(w, http.StatusForbidden, uierrors.Body{Error: "Current password is incorrect."})
		return
	}
	if len(next) < accounts.MinPasswordLength {
		h.ErrLog.Respond(w, r, "weak password", accounts.ErrWeakPassword)
		return
	}
	// Don't allow reusing the current password
	if userstore.CheckPassword(u, next) {
		uierrors.JSON(w, http.StatusUnprocessableEntity, uierrors.Body{Error: "New password cannot be the same as your current password."})
		return
	}

	hash, err := userstore.HashPassword(next)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "hash password failed", err, "Failed to update password.")
		return
	}
	if err := h.Users.SetPassword(ctx, uid, hash); err != nil {
		h.ErrLog.LogServerError(w, r, "update password failed", err, "Failed to update password.")
		return
	}
	h.Log.Info("password changed", zap.String("user_id", uid.Hex()))
	uierrors.Status(w, "ok")
}

// HandleForceSync handles POST /profile/user/{id}/force_sync: the member's
// extranet-owned fields are refreshed from the extranet.
func (h *Handler) HandleForceSync(w http.ResponseWriter, r *http.Request) {
	target, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		uierrors.JSON(w, http.StatusNotFound, uierrors.Body{Error: "not found"})
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Remote())
	defer cancel()

	u, err := h.Accounts.ForceSync(ctx, actor, target)
	if err != nil {
		h.ErrLog.Respond(w, r, "force sync failed", err)
		return
	}
	uierrors.OK(w, u)
}
