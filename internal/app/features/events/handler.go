// internal/app/features/events/handler.go
package events

import (
	"encoding/json"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	eventsvc "github.com/dalemusser/collectives/internal/app/services/events"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxEventBody = 1 << 20

// Handler serves event creation and management.
type Handler struct {
	Svc    *eventsvc.Service
	Roles  *rolestore.Store
	ErrLog *uierrors.ErrorLogger
	Log    *zap.Logger
}

// NewHandler creates an events Handler.
func NewHandler(svc *eventsvc.Service, roles *rolestore.Store, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Roles: roles, ErrLog: errLog, Log: logger}
}

func pathID(r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	return id, err == nil
}

func notFound(w http.ResponseWriter) {
	uierrors.JSON(w, http.StatusNotFound, uierrors.Body{Error: "not found"})
}

func (h *Handler) decodeEvent(w http.ResponseWriter, r *http.Request) (models.Event, bool) {
	var ev models.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode event failed", err, "Invalid JSON body.")
		return models.Event{}, false
	}
	return ev, true
}

// ServeEvent handles GET /events/{id}.
func (h *Handler) ServeEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	v, err := h.Svc.View(r.Context(), id)
	if err != nil {
		h.ErrLog.Respond(w, r, "load event failed", err)
		return
	}
	uierrors.OK(w, v)
}

// HandleCreate handles POST /events with the event as JSON.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	ev.ID = primitive.NilObjectID

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	created, err := h.Svc.Create(r.Context(), actor, ev)
	if err != nil {
		h.ErrLog.Respond(w, r, "create event failed", err)
		return
	}
	uierrors.JSON(w, http.StatusCreated, created)
}

// HandleEdit handles POST /events/{id}/edit with the full event as JSON.
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	ev, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	ev.ID = id

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	updated, err := h.Svc.Update(r.Context(), actor, ev)
	if err != nil {
		h.ErrLog.Respond(w, r, "update event failed", err)
		return
	}
	uierrors.OK(w, updated)
}

// HandleCopy handles POST /events/{id}/copy. The start form value is the
// RFC 3339 start of the copy.
func (h *Handler) HandleCopy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	start, err := time.Parse(time.RFC3339, r.PostForm.Get("start"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad start", err, "start must be an RFC 3339 time.")
		return
	}

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	cp, err := h.Svc.Copy(r.Context(), actor, id, start)
	if err != nil {
		h.ErrLog.Respond(w, r, "copy event failed", err)
		return
	}
	uierrors.JSON(w, http.StatusCreated, cp)
}

type cancelResponse struct {
	Status  string                   `json:"status"`
	Refunds paymentsvc.RefundSummary `json:"refunds"`
	Error   string                   `json:"error,omitempty"`
}

// HandleCancel handles POST /events/{id}/cancel. Refunds that fail do not
// undo the cancellation; they are reported in the reply.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	summary, err := h.Svc.Cancel(r.Context(), actor, id)
	if err != nil && summary.Total == 0 {
		h.ErrLog.Respond(w, r, "cancel event failed", err)
		return
	}
	resp := cancelResponse{Status: "cancelled", Refunds: summary}
	if err != nil {
		h.Log.Warn("refunds failed on cancelled event", zap.String("event_id", id.Hex()), zap.Error(err))
		resp.Error = err.Error()
	}
	uierrors.OK(w, resp)
}
