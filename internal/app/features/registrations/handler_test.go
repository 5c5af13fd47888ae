package registrations_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/features/registrations"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	regsvc "github.com/dalemusser/collectives/internal/app/services/registrations"
	sanctionsvc "github.com/dalemusser/collectives/internal/app/services/sanctions"
	"github.com/dalemusser/collectives/internal/app/store/configuration"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*registrations.Handler, *testutil.Fixtures, *registrationstore.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()
	settings := configcache.New(configuration.New(db), time.Minute, log)
	svc := regsvc.New(db, regsvc.Deps{
		Pricing:   pricingsvc.New(db, log),
		Sanctions: sanctionsvc.New(db, settings, nil, "https://club.test", log),
		Settings:  settings,
		Mail:      &mailer.Recorder{},
		BaseURL:   "https://club.test",
	}, log)
	h := registrations.NewHandler(svc, rolestore.New(db), uierrors.NewErrorLogger(log), log)
	return h, testutil.NewFixtures(t, db), registrationstore.New(db)
}

func decode[T any](t *testing.T, rec *testutil.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleSelfRegister(t *testing.T) {
	h, fix, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev := fix.CreateEvent(ctx, models.Event{})
	u := fix.CreateUser(ctx, "Ada", "Lovelace")
	member := testutil.MemberUser(u.ID)

	req := testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/self_register", "", &member)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec := testutil.NewRecorder()
	h.HandleSelfRegister(rec, req)

	rec.AssertStatus(t, http.StatusOK)
	adm := decode[regsvc.Admission](t, rec)
	if adm.Registration.Status != models.RegActive || adm.Registration.UserID != u.ID {
		t.Errorf("registration = %+v", adm.Registration)
	}

	// A second attempt is refused with the failed check.
	req = testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/self_register", "", &member)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec = testutil.NewRecorder()
	h.HandleSelfRegister(rec, req)

	rec.AssertStatus(t, http.StatusUnprocessableEntity)
	if body := decode[uierrors.Body](t, rec); body.Check != "already_registered" {
		t.Errorf("check = %q, want already_registered", body.Check)
	}
}

func TestHandleSelfRegister_BadEventID(t *testing.T) {
	h, fix, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	member := testutil.MemberUser(fix.CreateUser(ctx, "Ada", "Lovelace").ID)
	req := testutil.NewFormRequest("/events/nope/self_register", "", &member)
	req = testutil.WithChiURLParam(req, "id", "nope")
	rec := testutil.NewRecorder()
	h.HandleSelfRegister(rec, req)
	rec.AssertStatus(t, http.StatusNotFound)

	missing := primitive.NewObjectID().Hex()
	req = testutil.NewFormRequest("/events/"+missing+"/self_register", "", &member)
	req = testutil.WithChiURLParam(req, "id", missing)
	rec = testutil.NewRecorder()
	h.HandleSelfRegister(rec, req)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestHandleSelfUnregister(t *testing.T) {
	h, fix, regs := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	et := fix.CreateEventType(ctx, "Collective", "COL", true)
	ev := fix.CreateEvent(ctx, models.Event{EventTypeID: &et.ID})
	u := fix.CreateUser(ctx, "Ada", "Lovelace")
	reg := fix.CreateRegistration(ctx, ev.ID, u.ID, models.RegActive, 1)
	member := testutil.MemberUser(u.ID)

	req := testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/self_unregister", "", &member)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec := testutil.NewRecorder()
	h.HandleSelfUnregister(rec, req)

	rec.AssertStatus(t, http.StatusOK)
	if got := decode[map[string]string](t, rec)["outcome"]; got != "unregistered" {
		t.Errorf("outcome = %q, want unregistered", got)
	}
	stored, err := regs.Get(ctx, reg.ID)
	if err != nil || stored.Status != models.RegSelfUnregistered {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

func TestHandleRegister_Forbidden(t *testing.T) {
	h, fix, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev := fix.CreateEvent(ctx, models.Event{})
	caller := testutil.MemberUser(fix.CreateUser(ctx, "Not", "Leader").ID)
	target := fix.CreateUser(ctx, "Ada", "Lovelace")

	req := testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/register", "user_id="+target.ID.Hex(), &caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec := testutil.NewRecorder()
	h.HandleRegister(rec, req)

	rec.AssertStatus(t, http.StatusForbidden)
}

func TestHandleRegister_ByLeader(t *testing.T) {
	h, fix, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := fix.CreateUser(ctx, "Lea", "Der")
	ev := fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	target := fix.CreateUser(ctx, "Ada", "Lovelace")
	caller := testutil.MemberUser(leader.ID)

	req := testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/register", "user_id="+target.ID.Hex(), &caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec := testutil.NewRecorder()
	h.HandleRegister(rec, req)

	rec.AssertStatus(t, http.StatusOK)
	adm := decode[regsvc.Admission](t, rec)
	if adm.Registration.IsSelf || adm.Registration.UserID != target.ID {
		t.Errorf("registration = %+v", adm.Registration)
	}

	req = testutil.NewFormRequest("/events/"+ev.ID.Hex()+"/register", "user_id=bogus", &caller)
	req = testutil.WithChiURLParam(req, "id", ev.ID.Hex())
	rec = testutil.NewRecorder()
	h.HandleRegister(rec, req)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestHandleStatus(t *testing.T) {
	h, fix, regs := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := fix.CreateUser(ctx, "Lea", "Der")
	ev := fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	reg := fix.CreateRegistration(ctx, ev.ID, fix.CreateUser(ctx, "Ada", "Lovelace").ID, models.RegActive, 1)
	caller := testutil.MemberUser(leader.ID)

	tests := []struct {
		name   string
		form   string
		status int
	}{
		{"unknown status", "status=lost", http.StatusBadRequest},
		{"present", "status=present", http.StatusOK},
		{"forbidden transition", "status=payment_pending", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/status", tt.form, &caller)
			req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
			rec := testutil.NewRecorder()
			h.HandleStatus(rec, req)
			rec.AssertStatus(t, tt.status)
		})
	}

	stored, _ := regs.Get(ctx, reg.ID)
	if stored.Status != models.RegPresent {
		t.Errorf("status = %v, want present", stored.Status)
	}
}

func TestHandleRejectAndDelete(t *testing.T) {
	h, fix, regs := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := fix.CreateUser(ctx, "Lea", "Der")
	ev := fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{leader.ID}})
	reg := fix.CreateRegistration(ctx, ev.ID, fix.CreateUser(ctx, "Ada", "Lovelace").ID, models.RegActive, 1)
	caller := testutil.MemberUser(leader.ID)

	req := testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/reject", "", &caller)
	req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
	rec := testutil.NewRecorder()
	h.HandleReject(rec, req)
	rec.AssertStatus(t, http.StatusOK)
	if got := decode[models.Registration](t, rec); got.Status != models.RegRejected {
		t.Errorf("status = %v, want rejected", got.Status)
	}

	req = testutil.NewFormRequest("/registrations/"+reg.ID.Hex()+"/delete", "", &caller)
	req = testutil.WithChiURLParam(req, "rid", reg.ID.Hex())
	rec = testutil.NewRecorder()
	h.HandleDelete(rec, req)
	rec.AssertStatus(t, http.StatusOK)
	if _, err := regs.Get(ctx, reg.ID); err == nil {
		t.Error("registration still exists after delete")
	}
}
