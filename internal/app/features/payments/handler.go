// internal/app/features/payments/handler.go
package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/app/system/authz"
	"github.com/dalemusser/collectives/internal/app/system/money"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// maxPricesBody bounds the JSON accepted by edit_prices.
const maxPricesBody = 1 << 20

// Handler serves price editing, payments and processor callbacks.
type Handler struct {
	Payments *paymentsvc.Service
	Pricing  *pricingsvc.Service
	Events   *eventstore.Store
	Roles    *rolestore.Store
	ErrLog   *uierrors.ErrorLogger
	Log      *zap.Logger
}

// NewHandler creates a payments Handler.
func NewHandler(payments *paymentsvc.Service, pricing *pricingsvc.Service, events *eventstore.Store, roles *rolestore.Store, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		Payments: payments,
		Pricing:  pricing,
		Events:   events,
		Roles:    roles,
		ErrLog:   errLog,
		Log:      logger,
	}
}

func pathID(r *http.Request, key string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, key))
	return id, err == nil
}

func notFound(w http.ResponseWriter) {
	uierrors.JSON(w, http.StatusNotFound, uierrors.Body{Error: "not found"})
}

func optionalID(raw string) (primitive.ObjectID, error) {
	if raw == "" {
		return primitive.NilObjectID, nil
	}
	return primitive.ObjectIDFromHex(raw)
}

type pricesRequest struct {
	Items []models.PaymentItem `json:"items"`
}

// HandleEditPrices handles POST /events/{id}/edit_prices with a JSON body
// {"items": [...]} replacing the event's payment items.
func (h *Handler) HandleEditPrices(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}
	var req pricesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPricesBody))
	if err := dec.Decode(&req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode prices failed", err, "Invalid JSON body.")
		return
	}

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	items, err := h.Pricing.EditPrices(r.Context(), actor, eventID, req.Items)
	if err != nil {
		h.ErrLog.Respond(w, r, "edit prices failed", err)
		return
	}
	uierrors.OK(w, pricesRequest{Items: items})
}

// HandleDeleteItem handles POST /events/{id}/items/{item}/delete.
func (h *Handler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}
	itemID, ok := pathID(r, "item")
	if !ok {
		notFound(w)
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	if err := h.Pricing.DeleteItem(r.Context(), actor, eventID, itemID); err != nil {
		h.ErrLog.Respond(w, r, "delete item failed", err)
		return
	}
	uierrors.Status(w, "deleted")
}

// ServePrices handles GET /events/{id}/prices: the price timeline of each
// item as seen by the signed-in member.
func (h *Handler) ServePrices(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}
	userID, _ := authz.UserID(r)
	ev, err := h.Events.Get(r.Context(), eventID)
	if err != nil {
		h.ErrLog.Respond(w, r, "load event failed", err)
		return
	}
	timelines, err := h.Pricing.Timelines(r.Context(), ev, userID)
	if err != nil {
		h.ErrLog.Respond(w, r, "price timelines failed", err)
		return
	}
	if timelines == nil {
		timelines = []pricingsvc.ItemTimeline{}
	}
	uierrors.OK(w, map[string]any{"items": timelines})
}

// payResponse tells the client where to send the buyer. RedirectURL is
// empty when the payment needs no processor session (free prices).
type payResponse struct {
	Payment     models.Payment `json:"payment"`
	RedirectURL string         `json:"redirect_url,omitempty"`
}

func newPayResponse(p models.Payment) payResponse {
	resp := payResponse{Payment: p}
	if p.Status == models.PaymentInitiated {
		resp.RedirectURL = p.ProcessorURL
	}
	return resp
}

// HandleInitiate handles POST /registrations/{rid}/pay. The optional
// price_id form value selects the price.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	regID, ok := pathID(r, "rid")
	if !ok {
		notFound(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	priceID, err := optionalID(r.PostForm.Get("price_id"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad price id", err, "Invalid price_id.")
		return
	}
	buyerID, _ := authz.UserID(r)

	p, err := h.Payments.Initiate(r.Context(), regID, buyerID, priceID)
	if err != nil {
		h.ErrLog.Respond(w, r, "initiate payment failed", err)
		return
	}
	uierrors.OK(w, newPayResponse(p))
}

// HandlePay handles POST /payments/{id}/pay: resume an Initiated payment.
func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}
	callerID, _ := authz.UserID(r)

	p, err := h.Payments.Resume(r.Context(), paymentID, callerID)
	if err != nil {
		h.ErrLog.Respond(w, r, "resume payment failed", err)
		return
	}
	uierrors.OK(w, newPayResponse(p))
}

// HandleCallback handles GET|POST /payments/{id}/{accept|reject|timeout|process|notify}.
//
// The processor names the token "token" on notifications and
// "paylinetoken" on buyer redirections; both are read from the query
// string first, then from the form. Notifications get an empty JSON reply,
// buyers are redirected to the event.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	kind, ok := paymentsvc.ParseCallback(chi.URLParam(r, "kind"))
	if !ok {
		notFound(w)
		return
	}
	paymentID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}

	param := "paylinetoken"
	if kind == paymentsvc.CallbackNotify {
		param = "token"
	}
	token := r.URL.Query().Get(param)
	if token == "" {
		token = r.PostFormValue(param)
	}
	if token == "" {
		uierrors.JSON(w, http.StatusForbidden, uierrors.Body{Error: "missing payment token"})
		return
	}

	p, err := h.Payments.HandleCallback(r.Context(), kind, paymentID, token)
	if errors.Is(err, paymentsvc.ErrInvalidToken) {
		h.Log.Error("invalid payment token", zap.String("callback", string(kind)), zap.String("payment_id", paymentID.Hex()))
		notFound(w)
		return
	}
	if err != nil {
		h.ErrLog.Respond(w, r, "payment callback failed", err)
		return
	}

	if kind == paymentsvc.CallbackNotify {
		uierrors.OK(w, struct{}{})
		return
	}
	http.Redirect(w, r, "/events/"+p.EventID.Hex(), http.StatusSeeOther)
}

// HandleRefund handles POST /payments/{id}/refund.
func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "id")
	if !ok {
		notFound(w)
		return
	}
	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	p, err := h.Payments.Refund(r.Context(), actor, paymentID)
	if err != nil {
		h.ErrLog.Respond(w, r, "refund failed", err)
		return
	}
	uierrors.OK(w, p)
}

// HandleReportOffline handles POST /registrations/{rid}/report_offline.
//
// Form values:
//   - price_id: the price paid (required)
//   - type: check, cash, card or transfer
//   - amount: decimal amount ("25", "12,50")
//   - make_active: "true" to activate the registration
func (h *Handler) HandleReportOffline(w http.ResponseWriter, r *http.Request) {
	regID, ok := pathID(r, "rid")
	if !ok {
		notFound(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	priceID, err := primitive.ObjectIDFromHex(r.PostForm.Get("price_id"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad price id", err, "A valid price_id is required.")
		return
	}
	typ, ok := models.ParsePaymentType(r.PostForm.Get("type"))
	if !ok {
		h.ErrLog.LogBadRequest(w, r, "unknown payment type", nil, "Unknown payment type.")
		return
	}
	amount, err := money.ParseMinor(r.PostForm.Get("amount"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad amount", err, "Invalid amount.")
		return
	}
	makeActive, _ := strconv.ParseBool(r.PostForm.Get("make_active"))

	actor, err := eventpolicy.RequestActor(r, h.Roles)
	if err != nil {
		h.ErrLog.Respond(w, r, "load actor failed", err)
		return
	}
	p, err := h.Payments.ReportOffline(r.Context(), actor, paymentsvc.OfflineReport{
		RegistrationID: regID,
		PriceID:        priceID,
		Type:           typ,
		Amount:         amount,
		MakeActive:     makeActive,
	})
	if err != nil {
		h.ErrLog.Respond(w, r, "report offline payment failed", err)
		return
	}
	uierrors.OK(w, p)
}
