package payments_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/features/payments"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	"github.com/dalemusser/collectives/internal/app/store/configuration"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func ptr[T any](v T) *T { return &v }

type env struct {
	h        *payments.Handler
	fix      *testutil.Fixtures
	payments *paymentstore.Store
	regs     *registrationstore.Store
	events   *eventstore.Store
}

// newTestEnv wires the handler to a disabled processor client, which
// accepts every payment without network traffic.
func newTestEnv(t *testing.T) env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()
	codes, err := payline.DefaultCodes()
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	pricing := pricingsvc.New(db, log)
	svc := paymentsvc.New(db, paymentsvc.Deps{
		Pricing:  pricing,
		Client:   payline.New(payline.Config{Disabled: true}, log),
		Codes:    codes,
		Settings: configcache.New(configuration.New(db), time.Minute, log),
		Mail:     &mailer.Recorder{},
	}, paymentsvc.Config{BaseURL: "https://club.test", OrderPrefix: "CAF"}, log)

	events := eventstore.New(db)
	return env{
		h:        payments.NewHandler(svc, pricing, events, rolestore.New(db), uierrors.NewErrorLogger(log), log),
		fix:      testutil.NewFixtures(t, db),
		payments: paymentstore.New(db),
		regs:     registrationstore.New(db),
		events:   events,
	}
}

func TestPaymentFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev := e.fix.CreateEvent(ctx, models.Event{})
	e.fix.CreatePaymentItem(ctx, ev.ID, "Outing", models.ItemPrice{Title: "Standard", Amount: 2500, Enabled: true})
	u := e.fix.CreateUser(ctx, "Ada", "Lovelace")
	reg := e.fix.CreateRegistration(ctx, ev.ID, u.ID, models.RegPaymentPending, 1)
	buyer := testutil.MemberUser(u.ID)

	req := testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/pay", "", &buyer)
	req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
	rec := testutil.NewRecorder()
	e.h.HandleInitiate(rec, req)
	rec.AssertStatus(t, http.StatusOK)

	var resp struct {
		Payment     models.Payment `json:"payment"`
		RedirectURL string         `json:"redirect_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "https://club.test/payments/" + resp.Payment.ID.Hex() + "/process"
	if resp.RedirectURL != want {
		t.Errorf("redirect_url = %q, want %q", resp.RedirectURL, want)
	}
	stored, err := e.payments.Get(ctx, resp.Payment.ID)
	if err != nil || stored.ProcessorToken == "" {
		t.Fatalf("stored payment = %+v, %v", stored, err)
	}

	// The buyer comes back from the processor.
	target := "/payments/" + stored.ID.Hex() + "/process?paylinetoken=" + stored.ProcessorToken
	req = httptest.NewRequest(http.MethodGet, target, nil)
	req = testutil.WithChiURLParam(req, "id", stored.ID.Hex())
	req = testutil.WithChiURLParam(req, "kind", "process")
	rec = testutil.NewRecorder()
	e.h.HandleCallback(rec, req)
	rec.AssertRedirect(t, "/events/"+ev.ID.Hex())

	final, _ := e.payments.Get(ctx, stored.ID)
	if final.Status != models.PaymentApproved || final.AmountPaid != 2500 {
		t.Errorf("payment = %v paid %d, want approved 2500", final.Status, final.AmountPaid)
	}
	active, _ := e.regs.Get(ctx, reg.ID)
	if active.Status != models.RegActive {
		t.Errorf("registration = %v, want active", active.Status)
	}

	// A late notification for the finalized payment is acknowledged.
	form := "token=" + stored.ProcessorToken
	req = testutil.NewFormRequest("/payments/"+stored.ID.Hex()+"/notify", form, nil)
	req = testutil.WithChiURLParam(req, "id", stored.ID.Hex())
	req = testutil.WithChiURLParam(req, "kind", "notify")
	rec = testutil.NewRecorder()
	e.h.HandleCallback(rec, req)
	rec.AssertStatus(t, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("notify body = %q, want {}", rec.Body.String())
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	e := newTestEnv(t)
	id := primitive.NewObjectID().Hex()

	tests := []struct {
		name   string
		kind   string
		query  string
		status int
	}{
		{"unknown kind", "steal", "?paylinetoken=x", http.StatusNotFound},
		{"missing token", "process", "", http.StatusForbidden},
		{"notify reads token, not paylinetoken", "notify", "?paylinetoken=x", http.StatusForbidden},
		{"unknown token", "reject", "?paylinetoken=nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/payments/"+id+"/"+tt.kind+tt.query, nil)
			req = testutil.WithChiURLParam(req, "id", id)
			req = testutil.WithChiURLParam(req, "kind", tt.kind)
			rec := testutil.NewRecorder()
			e.h.HandleCallback(rec, req)
			rec.AssertStatus(t, tt.status)
		})
	}
}

func TestHandleInitiate_NotBuyer(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev := e.fix.CreateEvent(ctx, models.Event{})
	e.fix.CreatePaymentItem(ctx, ev.ID, "Outing", models.ItemPrice{Title: "Standard", Amount: 2500, Enabled: true})
	reg := e.fix.CreateRegistration(ctx, ev.ID, e.fix.CreateUser(ctx, "Ada", "Lovelace").ID, models.RegPaymentPending, 1)
	other := testutil.MemberUser(e.fix.CreateUser(ctx, "Eve", "Dropper").ID)

	req := testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/pay", "", &other)
	req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
	rec := testutil.NewRecorder()
	e.h.HandleInitiate(rec, req)
	rec.AssertStatus(t, http.StatusForbidden)
}

func TestHandleEditPrices(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := e.fix.CreateUser(ctx, "Lea", "Der")
	ev := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	caller := testutil.MemberUser(leader.ID)

	body := `{"items":[{"title":"Bus","prices":[{"title":"Seat","amount":1500,"enabled":true}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/events/"+ev.ID.Hex()+"/edit_prices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = testutil.WithUser(req, caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec := testutil.NewRecorder()
	e.h.HandleEditPrices(rec, req)
	rec.AssertStatus(t, http.StatusOK)

	got, _ := e.events.Get(ctx, ev.ID)
	if !got.RequiresPayment {
		t.Error("an enabled price must make the event paying")
	}

	req = testutil.NewAuthenticatedRequest(http.MethodGet, "/events/"+ev.ID.Hex()+"/prices", caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec = testutil.NewRecorder()
	e.h.ServePrices(rec, req)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"title":"Bus"`)

	// Malformed JSON is rejected before any permission check.
	req = httptest.NewRequest(http.MethodPost, "/events/"+ev.ID.Hex()+"/edit_prices", strings.NewReader("{"))
	req = testutil.WithUser(req, caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec = testutil.NewRecorder()
	e.h.HandleEditPrices(rec, req)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestHandleDeleteItem(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := e.fix.CreateUser(ctx, "Lea", "Der")
	ev := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	other := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	item := e.fix.CreatePaymentItem(ctx, ev.ID, "Bus", models.ItemPrice{Title: "Seat", Amount: 800, Enabled: true})
	stranger := e.fix.CreateUser(ctx, "Not", "Leader")

	tests := []struct {
		name    string
		caller  primitive.ObjectID
		eventID string
		itemID  string
		want    int
	}{
		{"bad item id", leader.ID, ev.ID.Hex(), "nope", http.StatusNotFound},
		{"not a leader", stranger.ID, ev.ID.Hex(), item.ID.Hex(), http.StatusForbidden},
		{"item of another event", leader.ID, other.ID.Hex(), item.ID.Hex(), http.StatusUnprocessableEntity},
		{"deleted", leader.ID, ev.ID.Hex(), item.ID.Hex(), http.StatusOK},
		{"already gone", leader.ID, ev.ID.Hex(), item.ID.Hex(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewFormRequest("/events/"+tt.eventID+"/items/"+tt.itemID+"/delete", "", ptr(testutil.MemberUser(tt.caller)))
			req = testutil.WithChiURLParam(req, "id", tt.eventID)
			req = testutil.WithChiURLParam(req, "item", tt.itemID)
			rec := testutil.NewRecorder()
			e.h.HandleDeleteItem(rec, req)
			rec.AssertStatus(t, tt.want)
		})
	}

	got, _ := e.events.Get(ctx, ev.ID)
	if got.RequiresPayment {
		t.Error("an event without items must not require payment")
	}
}

func TestHandleReportOffline(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := e.fix.CreateUser(ctx, "Lea", "Der")
	ev := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	item := e.fix.CreatePaymentItem(ctx, ev.ID, "Outing", models.ItemPrice{Title: "Standard", Amount: 2500, Enabled: true})
	reg := e.fix.CreateRegistration(ctx, ev.ID, e.fix.CreateUser(ctx, "Ada", "Lovelace").ID, models.RegPaymentPending, 1)
	caller := testutil.MemberUser(leader.ID)
	priceID := item.Prices[0].ID.Hex()

	tests := []struct {
		name   string
		form   string
		status int
	}{
		{"bad amount", "price_id=" + priceID + "&type=cash&amount=abc", http.StatusBadRequest},
		{"unknown type", "price_id=" + priceID + "&type=barter&amount=25", http.StatusBadRequest},
		{"online refused", "price_id=" + priceID + "&type=online&amount=25", http.StatusUnprocessableEntity},
		{"cash", "price_id=" + priceID + "&type=cash&amount=25,00&make_active=true", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/report_offline", tt.form, &caller)
			req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
			rec := testutil.NewRecorder()
			e.h.HandleReportOffline(rec, req)
			rec.AssertStatus(t, tt.status)
		})
	}

	got, _ := e.regs.Get(ctx, reg.ID)
	if got.Status != models.RegActive {
		t.Errorf("registration = %v, want active", got.Status)
	}
}
