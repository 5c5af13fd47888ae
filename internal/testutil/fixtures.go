package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok || rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

var licenceSeq atomic.Int64

// NextLicence returns a licence number unique within the test binary.
func NextLicence() string {
	return fmt.Sprintf("7401%08d", licenceSeq.Add(1))
}

// ValidPhone is a plausible French mobile number.
const ValidPhone = "0612345678"

// CreateUser creates an active extranet member with a licence valid for a
// year and plausible phone numbers.
func (f *Fixtures) CreateUser(ctx context.Context, firstName, lastName string) models.User {
	f.t.Helper()
	licence := NextLicence()
	return f.InsertUser(ctx, models.User{
		FirstName: firstName,
		LastName:  lastName,
		Licence:   licence,
		Mail:      licence + "@example.com",
	})
}

// CreateDisabledUser creates a member whose account is disabled.
func (f *Fixtures) CreateDisabledUser(ctx context.Context, firstName, lastName string) models.User {
	f.t.Helper()
	licence := NextLicence()
	u := f.InsertUser(ctx, models.User{
		FirstName: firstName,
		LastName:  lastName,
		Licence:   licence,
		Mail:      licence + "@example.com",
	})
	if _, err := f.db.Collection("users").UpdateByID(ctx, u.ID, bson.M{"$set": bson.M{"enabled": false}}); err != nil {
		f.t.Fatalf("failed to disable test user: %v", err)
	}
	u.Enabled = false
	return u
}

// InsertUser inserts u, enabled, after filling the fields a usable member
// needs. A zero Kind becomes an extranet member.
func (f *Fixtures) InsertUser(ctx context.Context, u models.User) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Kind == models.UserKindTest {
		u.Kind = models.UserKindExtranet
	}
	u.Enabled = true
	if u.Phone == "" {
		u.Phone = ValidPhone
	}
	if u.EmergencyContactPhone == "" {
		u.EmergencyContactPhone = ValidPhone
	}
	if u.EmergencyContactName == "" {
		u.EmergencyContactName = "Contact"
	}
	if u.LicenceExpiryDate == nil && u.Kind == models.UserKindExtranet {
		expiry := time.Date(now.Year()+1, time.October, 1, 0, 0, 0, 0, time.UTC)
		u.LicenceExpiryDate = &expiry
	}
	if u.LicenceCategory == "" {
		u.LicenceCategory = "T1"
	}
	u.FullNameCI = text.Fold(u.FullName())
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// AddRole grants a role to a user.
func (f *Fixtures) AddRole(ctx context.Context, userID primitive.ObjectID, kind models.RoleKind, activityID *primitive.ObjectID) models.Role {
	f.t.Helper()
	r := models.Role{
		ID:         primitive.NewObjectID(),
		UserID:     userID,
		Kind:       kind,
		ActivityID: activityID,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := f.db.Collection("roles").InsertOne(ctx, r); err != nil {
		f.t.Fatalf("failed to create test role: %v", err)
	}
	return r
}

// AddBadge stores a badge as given.
func (f *Fixtures) AddBadge(ctx context.Context, b models.Badge) models.Badge {
	f.t.Helper()
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	if b.CreatedAt == nil {
		now := time.Now().UTC()
		b.CreatedAt = &now
	}
	if _, err := f.db.Collection("badges").InsertOne(ctx, b); err != nil {
		f.t.Fatalf("failed to create test badge: %v", err)
	}
	return b
}

// CreateActivityType creates a sport with the given trigram.
func (f *Fixtures) CreateActivityType(ctx context.Context, name, short string) models.ActivityType {
	f.t.Helper()
	a := models.ActivityType{ID: primitive.NewObjectID(), Name: name, Short: short}
	if _, err := f.db.Collection("activity_types").InsertOne(ctx, a); err != nil {
		f.t.Fatalf("failed to create test activity type: %v", err)
	}
	return a
}

// CreateEventType creates an event type requiring an activity.
func (f *Fixtures) CreateEventType(ctx context.Context, name, short string, attendanceCounted bool) models.EventType {
	f.t.Helper()
	et := models.EventType{
		ID:                primitive.NewObjectID(),
		Name:              name,
		Short:             short,
		RequiresActivity:  true,
		AttendanceCounted: attendanceCounted,
	}
	if _, err := f.db.Collection("event_types").InsertOne(ctx, et); err != nil {
		f.t.Fatalf("failed to create test event type: %v", err)
	}
	return et
}

// CreateEvent inserts ev after filling defaults: confirmed, starting in a
// week for eight hours, registration open since yesterday until an hour
// before the start, 10 slots (all online) and 5 waiting-list slots.
func (f *Fixtures) CreateEvent(ctx context.Context, ev models.Event) models.Event {
	f.t.Helper()

	now := time.Now().UTC()
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	if ev.Title == "" {
		ev.Title = "Test event"
	}
	if ev.Start.IsZero() {
		ev.Start = now.Add(7 * 24 * time.Hour).Truncate(time.Minute)
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(8 * time.Hour)
	}
	if ev.RegistrationOpenTime == nil {
		open := now.Add(-24 * time.Hour)
		ev.RegistrationOpenTime = &open
	}
	if ev.RegistrationCloseTime == nil {
		cls := ev.Start.Add(-time.Hour)
		ev.RegistrationCloseTime = &cls
	}
	if ev.NumSlots == 0 && ev.NumOnlineSlots == 0 && ev.NumWaitingList == 0 {
		ev.NumSlots, ev.NumOnlineSlots, ev.NumWaitingList = 10, 10, 5
	}
	if ev.ActivityIDs == nil {
		ev.ActivityIDs = []primitive.ObjectID{}
	}
	if ev.LeaderIDs == nil {
		ev.LeaderIDs = []primitive.ObjectID{}
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now

	if _, err := f.db.Collection("events").InsertOne(ctx, ev); err != nil {
		f.t.Fatalf("failed to create test event: %v", err)
	}
	return ev
}

// CreateRegistration inserts a registration with the given status and seq.
func (f *Fixtures) CreateRegistration(ctx context.Context, eventID, userID primitive.ObjectID, status models.RegistrationStatus, seq int64) models.Registration {
	f.t.Helper()
	now := time.Now().UTC()
	r := models.Registration{
		ID:               primitive.NewObjectID(),
		EventID:          eventID,
		UserID:           userID,
		Status:           status,
		IsSelf:           true,
		Seq:              seq,
		RegistrationTime: now,
		UpdatedAt:        now,
	}
	if _, err := f.db.Collection("registrations").InsertOne(ctx, r); err != nil {
		f.t.Fatalf("failed to create test registration: %v", err)
	}
	if _, err := f.db.Collection("events").UpdateByID(ctx, eventID,
		bson.M{"$max": bson.M{"admission_seq": seq}}); err != nil {
		f.t.Fatalf("failed to bump admission seq: %v", err)
	}
	return r
}

// CreateUserGroup stores a group with fresh condition ids.
func (f *Fixtures) CreateUserGroup(ctx context.Context, g models.UserGroup) models.UserGroup {
	f.t.Helper()
	g.ID = primitive.NewObjectID()
	g.CreatedAt = time.Now().UTC()
	for i := range g.RoleConditions {
		g.RoleConditions[i].ID = primitive.NewObjectID()
	}
	for i := range g.BadgeConditions {
		g.BadgeConditions[i].ID = primitive.NewObjectID()
	}
	for i := range g.EventConditions {
		g.EventConditions[i].ID = primitive.NewObjectID()
	}
	for i := range g.LicenceConditions {
		g.LicenceConditions[i].ID = primitive.NewObjectID()
	}
	if _, err := f.db.Collection("user_groups").InsertOne(ctx, g); err != nil {
		f.t.Fatalf("failed to create test user group: %v", err)
	}
	return g
}

// CreatePaymentItem stores an item with the given prices (ids assigned) and
// marks the event as requiring payment when a price is enabled.
func (f *Fixtures) CreatePaymentItem(ctx context.Context, eventID primitive.ObjectID, title string, prices ...models.ItemPrice) models.PaymentItem {
	f.t.Helper()
	now := time.Now().UTC()
	enabled := false
	for i := range prices {
		if prices[i].ID.IsZero() {
			prices[i].ID = primitive.NewObjectID()
		}
		prices[i].UpdateTime = now
		enabled = enabled || prices[i].Enabled
	}
	item := models.PaymentItem{ID: primitive.NewObjectID(), EventID: eventID, Title: title, Prices: prices}
	if _, err := f.db.Collection("payment_items").InsertOne(ctx, item); err != nil {
		f.t.Fatalf("failed to create test payment item: %v", err)
	}
	if enabled {
		if _, err := f.db.Collection("events").UpdateByID(ctx, eventID,
			bson.M{"$set": bson.M{"requires_payment": true}}); err != nil {
			f.t.Fatalf("failed to flag event as paying: %v", err)
		}
	}
	return item
}
