// internal/app/features/registrations/handler.go
package registrations

import (
	"net/http"
	"strconv"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	regsvc "github.com/dalemusser/collectives/internal/app/services/registrations"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/app/system/authz"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves registration actions.
type Handler struct {
	Regs   *regsvc.Service
	Roles  *rolestore.Store
	ErrLog *uierrors.ErrorLogger
	Log    *zap.Logger
}

// NewHandler creates a registrations Handler.
func NewHandler(regs *regsvc.Service, roles *rolestore.Store, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Regs: regs, Roles: roles, ErrLog: errLog, Log: logger}
}

func pathID(r *http.Request, key string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, key))
	return id, err == nil
}

func (h *Handler) notFound(w http.ResponseWriter) {
	uierrors.JSON(w, http.StatusNotFound, uierrors.Body{Error: "not found"})
}

// HandleRegister handles POST /events/{id}/register: a leader registers
// the member given by the user_id form value.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		h.notFound(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	userID, err := primitive.ObjectIDFromHex(r.PostForm.Get("user_id"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad user id", err, "A valid user_id is required.")
		return
	}

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	adm, err := h.Regs.RegisterUser(r.Context(), actor, eventID, userID)
	if err != nil {
		h.ErrLog.Respond(w, r, "register user failed", err)
		return
	}
	uierrors.OK(w, adm)
}

// HandleSelfRegister handles POST /events/{id}/self_register.
//
// Form values:
//   - waiting: "true" to ask for a waiting-list slot
//   - price_id: the price to pay; empty picks the cheapest available one
func (h *Handler) HandleSelfRegister(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		h.notFound(w)
		return
	}
	userID, _ := authz.UserID(r)
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	req := regsvc.SelfRequest{EventID: eventID, UserID: userID}
	req.Waiting, _ = strconv.ParseBool(r.PostForm.Get("waiting"))
	if raw := r.PostForm.Get("price_id"); raw != "" {
		priceID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			h.ErrLog.LogBadRequest(w, r, "bad price id", err, "Invalid price_id.")
			return
		}
		req.PriceID = priceID
	}

	adm, err := h.Regs.SelfRegister(r.Context(), req)
	if err != nil {
		h.ErrLog.Respond(w, r, "self register failed", err)
		return
	}
	uierrors.OK(w, adm)
}

type unregisterResponse struct {
	Outcome string `json:"outcome"`
}

// HandleSelfUnregister handles POST /events/{id}/self_unregister.
func (h *Handler) HandleSelfUnregister(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		h.notFound(w)
		return
	}
	userID, _ := authz.UserID(r)

	outcome, err := h.Regs.SelfUnregister(r.Context(), eventID, userID)
	if err != nil {
		h.ErrLog.Respond(w, r, "self unregister failed", err)
		return
	}
	uierrors.OK(w, unregisterResponse{Outcome: outcome.String()})
}

// HandleReject handles POST /registrations/{rid}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	regID, ok := pathID(r, "rid")
	if !ok {
		h.notFound(w)
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	reg, err := h.Regs.Reject(r.Context(), actor, regID)
	if err != nil {
		h.ErrLog.Respond(w, r, "reject registration failed", err)
		return
	}
	uierrors.OK(w, reg)
}

// HandleDelete handles POST /registrations/{rid}/delete.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	regID, ok := pathID(r, "rid")
	if !ok {
		h.notFound(w)
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	if err := h.Regs.Delete(r.Context(), actor, regID); err != nil {
		h.ErrLog.Respond(w, r, "delete registration failed", err)
		return
	}
	uierrors.Status(w, "deleted")
}

// HandleStatus handles POST /registrations/{rid}/status. The status form
// value is a status name ("present", "unjustified_absentee", ...).
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	regID, ok := pathID(r, "rid")
	if !ok {
		h.notFound(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	to, ok := models.ParseRegistrationStatus(r.PostForm.Get("status"))
	if !ok {
		h.ErrLog.LogBadRequest(w, r, "unknown status", nil, "Unknown registration status.")
		return
	}

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	reg, err := h.Regs.ChangeStatus(r.Context(), actor, regID, to)
	if err != nil {
		h.ErrLog.Respond(w, r, "change status failed", err)
		return
	}
	uierrors.OK(w, reg)
}
