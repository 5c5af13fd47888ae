package events_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	eventsvc "github.com/dalemusser/collectives/internal/app/services/events"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	paymentitemstore "github.com/dalemusser/collectives/internal/app/store/paymentitems"
	usergroupstore "github.com/dalemusser/collectives/internal/app/store/usergroups"
	"github.com/dalemusser/collectives/internal/domain/models"
	regdomain "github.com/dalemusser/collectives/internal/domain/registrations"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type recordingPromoter struct {
	mu     sync.Mutex
	events []primitive.ObjectID
}

func (p *recordingPromoter) PromoteWaiting(_ context.Context, eventID primitive.ObjectID) ([]models.Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventID)
	return nil, nil
}

type env struct {
	svc      *eventsvc.Service
	fix      *testutil.Fixtures
	promoter *recordingPromoter
	events   *eventstore.Store
	db       *mongo.Database
}

func setup(t *testing.T) env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()
	p := &recordingPromoter{}
	return env{
		svc:      eventsvc.New(db, pricingsvc.New(db, log), nil, p, log),
		fix:      testutil.NewFixtures(t, db),
		promoter: p,
		events:   eventstore.New(db),
		db:       db,
	}
}

// leader returns an actor leading activity, with the matching role.
func leader(ctx context.Context, e env, activity primitive.ObjectID) eventpolicy.Actor {
	u := e.fix.CreateUser(ctx, "Lea", "Der")
	r := e.fix.AddRole(ctx, u.ID, models.RoleEventLeader, &activity)
	return eventpolicy.Actor{ID: u.ID, Roles: []models.Role{r}}
}

func draft(et models.EventType, activity primitive.ObjectID, leaderID primitive.ObjectID) models.Event {
	start := time.Now().Add(14 * 24 * time.Hour).Truncate(time.Minute)
	open := time.Now().Add(-time.Hour).Truncate(time.Minute)
	cls := start.Add(-24 * time.Hour)
	return models.Event{
		Title:                 "Aiguille du Midi",
		Description:           "Meet at **7am**.",
		Start:                 start,
		End:                   start.Add(10 * time.Hour),
		RegistrationOpenTime:  &open,
		RegistrationCloseTime: &cls,
		NumSlots:              8,
		NumOnlineSlots:        6,
		NumWaitingList:        4,
		EventTypeID:           &et.ID,
		ActivityIDs:           []primitive.ObjectID{activity},
		LeaderIDs:             []primitive.ObjectID{leaderID},
	}
}

func TestCreate(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	et := e.fix.CreateEventType(ctx, "Collective", "COL", true)
	actor := leader(ctx, e, at.ID)

	ev, err := e.svc.Create(ctx, actor, draft(et, at.ID, actor.ID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID.IsZero() || !strings.Contains(ev.Rendered, "<strong>7am</strong>") {
		t.Errorf("event = %+v", ev)
	}
	if ev.RequiresPayment {
		t.Error("a new event has no prices")
	}
}

func TestCreate_Invalid(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	other := e.fix.CreateActivityType(ctx, "Escalade", "ESC")
	et := e.fix.CreateEventType(ctx, "Collective", "COL", true)
	lead := leader(ctx, e, at.ID)
	mod := e.fix.CreateUser(ctx, "Mod", "Erator")
	actor := eventpolicy.Actor{ID: mod.ID, Roles: []models.Role{e.fix.AddRole(ctx, mod.ID, models.RoleModerator, nil)}}

	ev := draft(et, at.ID, lead.ID)
	ev.NumOnlineSlots = 20
	ev.ActivityIDs = append(ev.ActivityIDs, other.ID)

	_, err := e.svc.Create(ctx, actor, ev)
	var ve *eventsvc.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want a validation error", err)
	}
	want := map[string]bool{regdomain.ProblemOnlineSlots: true, regdomain.ProblemLeaderCoverage: true}
	for _, p := range ve.Problems {
		delete(want, p)
	}
	if len(want) != 0 {
		t.Errorf("problems = %v, missing %v", ve.Problems, want)
	}
}

func TestCreate_Forbidden(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	other := e.fix.CreateActivityType(ctx, "Escalade", "ESC")
	et := e.fix.CreateEventType(ctx, "Collective", "COL", true)
	actor := leader(ctx, e, other.ID)

	_, err := e.svc.Create(ctx, actor, draft(et, at.ID, actor.ID))
	if !errors.Is(err, eventpolicy.ErrPermissionDenied) {
		t.Errorf("err = %v, want permission denied", err)
	}

	member := eventpolicy.Actor{ID: e.fix.CreateUser(ctx, "Mem", "Ber").ID}
	if _, err := e.svc.Create(ctx, member, draft(et, at.ID, member.ID)); !errors.Is(err, eventpolicy.ErrPermissionDenied) {
		t.Errorf("member err = %v, want permission denied", err)
	}
}

func TestUpdate_PromotesOnNewSlots(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	et := e.fix.CreateEventType(ctx, "Collective", "COL", true)
	actor := leader(ctx, e, at.ID)
	ev, err := e.svc.Create(ctx, actor, draft(et, at.ID, actor.ID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ev.Title = "Aiguille du Midi, arête des Cosmiques"
	updated, err := e.svc.Update(ctx, actor, ev)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != ev.Title || len(e.promoter.events) != 0 {
		t.Errorf("title = %q, promotions = %d", updated.Title, len(e.promoter.events))
	}

	ev.NumOnlineSlots = 8
	if _, err := e.svc.Update(ctx, actor, ev); err != nil {
		t.Fatalf("Update slots: %v", err)
	}
	if len(e.promoter.events) != 1 || e.promoter.events[0] != ev.ID {
		t.Errorf("promotions = %v, want one for the event", e.promoter.events)
	}
}

func TestCopy(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	et := e.fix.CreateEventType(ctx, "Collective", "COL", true)
	actor := leader(ctx, e, at.ID)
	kind := models.RoleEventLeader
	g := e.fix.CreateUserGroup(ctx, models.UserGroup{RoleConditions: []models.RoleCondition{{RoleKind: &kind}}})

	src := draft(et, at.ID, actor.ID)
	src.UserGroupID = &g.ID
	src = e.fix.CreateEvent(ctx, src)
	priceEnd := src.Start.Add(-48 * time.Hour)
	e.fix.CreatePaymentItem(ctx, src.ID, "Bus", models.ItemPrice{Title: "Early", Amount: 1200, Enabled: true, EndDate: &priceEnd})
	e.fix.CreateRegistration(ctx, src.ID, e.fix.CreateUser(ctx, "Par", "Ticipant").ID, models.RegActive, 1)

	start := src.Start.Add(7 * 24 * time.Hour)
	cp, err := e.svc.Copy(ctx, actor, src.ID, start)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if cp.ID == src.ID || !cp.Start.Equal(start) || !cp.End.Equal(src.End.Add(7*24*time.Hour)) {
		t.Errorf("copy dates = %v..%v", cp.Start, cp.End)
	}
	if cp.Status != models.EventPending {
		t.Errorf("status = %v, want pending", cp.Status)
	}
	if !cp.RegistrationCloseTime.Equal(src.RegistrationCloseTime.Add(7 * 24 * time.Hour)) {
		t.Error("the registration window must move with the event")
	}
	if cp.UserGroupID == nil || *cp.UserGroupID == g.ID {
		t.Error("the user group must be cloned, not shared")
	}
	if !cp.RequiresPayment {
		t.Error("copied prices must keep the event paying")
	}

	items, err := paymentitemstore.New(e.db).ForEvent(ctx, cp.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("items = %v, %v", items, err)
	}
	if end := items[0].Prices[0].EndDate; end == nil || !end.Equal(priceEnd.Add(7*24*time.Hour)) {
		t.Errorf("price end = %v, want shifted by a week", end)
	}

	n, err := e.db.Collection("registrations").CountDocuments(ctx, bson.M{"event_id": cp.ID})
	if err != nil || n != 0 {
		t.Errorf("registrations on copy = %d, %v", n, err)
	}
}

func TestCopy_ClonesPriceGroups(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	lead := e.fix.CreateUser(ctx, "Lea", "Der")
	actor := eventpolicy.Actor{ID: lead.ID}
	src := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{lead.ID}})
	g := e.fix.CreateUserGroup(ctx, models.UserGroup{
		EventConditions: []models.EventCondition{{EventID: src.ID}},
	})
	e.fix.CreatePaymentItem(ctx, src.ID, "Outing",
		models.ItemPrice{Title: "Participants", Amount: 500, Enabled: true, UserGroupID: &g.ID},
		models.ItemPrice{Title: "Normal", Amount: 1500, Enabled: true})
	member := e.fix.CreateUser(ctx, "Par", "Ticipant")
	e.fix.CreateRegistration(ctx, src.ID, member.ID, models.RegActive, 1)

	cp, err := e.svc.Copy(ctx, actor, src.ID, src.Start.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	items, err := paymentitemstore.New(e.db).ForEvent(ctx, cp.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("items = %v, %v", items, err)
	}
	var cloneID primitive.ObjectID
	for _, p := range items[0].Prices {
		if p.Title == "Participants" && p.UserGroupID != nil {
			cloneID = *p.UserGroupID
		}
	}
	if cloneID.IsZero() || cloneID == g.ID {
		t.Fatalf("copied price group = %s, want a clone of %s", cloneID.Hex(), g.ID.Hex())
	}

	groups := usergroupstore.New(e.db)
	clone, err := groups.Get(ctx, cloneID)
	if err != nil {
		t.Fatalf("Get clone: %v", err)
	}
	if len(clone.EventConditions) != 1 || clone.EventConditions[0].EventID != cp.ID {
		t.Errorf("clone conditions = %+v, want the copied event", clone.EventConditions)
	}

	// Editing the copy's group leaves the source price alone.
	clone.EventConditions = nil
	clone.LicenceConditions = []models.LicenceCondition{{Category: "J2"}}
	if err := groups.Update(ctx, clone); err != nil {
		t.Fatalf("Update clone: %v", err)
	}
	orig, err := groups.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get source group: %v", err)
	}
	if len(orig.EventConditions) != 1 || orig.EventConditions[0].EventID != src.ID || len(orig.LicenceConditions) != 0 {
		t.Errorf("source group changed: %+v", orig)
	}
	off, ok, err := pricingsvc.New(e.db, zap.NewNop()).Select(ctx, src, member.ID, primitive.NilObjectID)
	if err != nil || !ok {
		t.Fatalf("Select = %v, %v", ok, err)
	}
	if off.Price.Amount != 500 {
		t.Errorf("source price for a participant = %d, want 500", off.Price.Amount)
	}
}

func TestCancel(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	at := e.fix.CreateActivityType(ctx, "Alpinisme", "ALP")
	actor := leader(ctx, e, at.ID)
	ev := e.fix.CreateEvent(ctx, models.Event{LeaderIDs: []primitive.ObjectID{actor.ID}})

	if _, err := e.svc.Cancel(ctx, actor, ev.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := e.events.Get(ctx, ev.ID)
	if got.Status != models.EventCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}
	if _, err := e.svc.Cancel(ctx, actor, ev.ID); !errors.Is(err, eventsvc.ErrAlreadyCancelled) {
		t.Errorf("err = %v, want ErrAlreadyCancelled", err)
	}
}
