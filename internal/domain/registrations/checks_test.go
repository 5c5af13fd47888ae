package registrations_test

import (
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/registrations"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ptr[T any](v T) *T { return &v }

func baseSelfRegistration() registrations.SelfRegistration {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	return registrations.SelfRegistration{
		Event: models.Event{
			ID:                    primitive.NewObjectID(),
			Start:                 now.Add(10 * 24 * time.Hour),
			End:                   now.Add(10*24*time.Hour + 8*time.Hour),
			RegistrationOpenTime:  ptr(now.Add(-24 * time.Hour)),
			RegistrationCloseTime: ptr(now.Add(24 * time.Hour)),
			NumSlots:              2,
			NumOnlineSlots:        2,
			NumWaitingList:        1,
			LeaderIDs:             []primitive.ObjectID{primitive.NewObjectID()},
		},
		User: models.User{
			ID:                    primitive.NewObjectID(),
			Enabled:               true,
			Kind:                  models.UserKindExtranet,
			LicenceExpiryDate:     &expiry,
			LicenceCategory:       "T1",
			Phone:                 "0612345678",
			EmergencyContactPhone: "0698765432",
		},
		At: now,
	}
}

func TestCheckSelfRegistration(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *registrations.SelfRegistration)
		want   registrations.Check
	}{
		{"all good", func(*registrations.SelfRegistration) {}, registrations.CheckNone},
		{"disabled user", func(s *registrations.SelfRegistration) { s.User.Enabled = false }, registrations.CheckUserInactive},
		{"expired licence", func(s *registrations.SelfRegistration) {
			s.User.LicenceExpiryDate = ptr(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC))
		}, registrations.CheckUserInactive},
		{"bad phone", func(s *registrations.SelfRegistration) {
			s.Plausible = func(n string) bool { return n != s.User.Phone }
		}, registrations.CheckPhone},
		{"no emergency phone", func(s *registrations.SelfRegistration) { s.User.EmergencyContactPhone = "" }, registrations.CheckEmergencyPhone},
		{"pending event", func(s *registrations.SelfRegistration) { s.Event.Status = models.EventPending }, registrations.CheckEventStatus},
		{"leader", func(s *registrations.SelfRegistration) { s.Event.LeaderIDs = append(s.Event.LeaderIDs, s.User.ID) }, registrations.CheckAlreadyInvolved},
		{"rejected before", func(s *registrations.SelfRegistration) {
			s.Registrations = []models.Registration{{UserID: s.User.ID, Status: models.RegRejected}}
		}, registrations.CheckAlreadyInvolved},
		{"not in group", func(s *registrations.SelfRegistration) { s.Event.UserGroupID = ptr(primitive.NewObjectID()) }, registrations.CheckUserGroup},
		{"in group", func(s *registrations.SelfRegistration) {
			s.Event.UserGroupID = ptr(primitive.NewObjectID())
			s.InGroup = true
		}, registrations.CheckNone},
		{"closed", func(s *registrations.SelfRegistration) { s.At = s.Event.RegistrationCloseTime.Add(time.Second) }, registrations.CheckRegistrationTime},
		{"licence category", func(s *registrations.SelfRegistration) {
			s.EventType = &models.EventType{LicenceCategories: []string{"J1"}}
		}, registrations.CheckLicenceCategory},
		{"suspended", func(s *registrations.SelfRegistration) {
			s.Badges = []models.Badge{{Kind: models.BadgeSuspended, ExpirationDate: ptr(s.At.Add(72 * time.Hour))}}
		}, registrations.CheckSuspended},
		{"expired suspension", func(s *registrations.SelfRegistration) {
			s.Badges = []models.Badge{{Kind: models.BadgeSuspended, ExpirationDate: ptr(s.At.Add(-72 * time.Hour))}}
		}, registrations.CheckNone},
		{"full", func(s *registrations.SelfRegistration) {
			s.Registrations = []models.Registration{
				{UserID: primitive.NewObjectID(), Status: models.RegActive},
				{UserID: primitive.NewObjectID(), Status: models.RegActive},
			}
		}, registrations.CheckNoSlot},
		{"waiting while online slots free", func(s *registrations.SelfRegistration) { s.Waiting = true }, registrations.CheckNoSlot},
		{"waiting when full", func(s *registrations.SelfRegistration) {
			s.Waiting = true
			s.Registrations = []models.Registration{
				{UserID: primitive.NewObjectID(), Status: models.RegActive},
				{UserID: primitive.NewObjectID(), Status: models.RegPaymentPending},
			}
		}, registrations.CheckNone},
		{"waiting list full", func(s *registrations.SelfRegistration) {
			s.Waiting = true
			s.Registrations = []models.Registration{
				{UserID: primitive.NewObjectID(), Status: models.RegActive},
				{UserID: primitive.NewObjectID(), Status: models.RegActive},
				{UserID: primitive.NewObjectID(), Status: models.RegWaiting},
			}
		}, registrations.CheckNoSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSelfRegistration()
			tt.modify(&s)
			if got := registrations.CheckSelfRegistration(s); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConflicts(t *testing.T) {
	start := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	ev := models.Event{ID: primitive.NewObjectID(), Start: start, End: start.Add(8 * time.Hour)}
	overlapping := models.Event{ID: primitive.NewObjectID(), Start: start.Add(4 * time.Hour), End: start.Add(30 * time.Hour)}
	later := models.Event{ID: primitive.NewObjectID(), Start: start.Add(48 * time.Hour), End: start.Add(50 * time.Hour)}

	regs := []models.Registration{
		{EventID: overlapping.ID, Status: models.RegActive},
		{EventID: later.ID, Status: models.RegActive},
	}
	got := registrations.Conflicts(ev, []models.Event{ev, overlapping, later}, regs)
	if len(got) != 1 || got[0].EventID != overlapping.ID {
		t.Fatalf("unexpected conflicts %+v", got)
	}

	regs[0].Status = models.RegSelfUnregistered
	if got := registrations.Conflicts(ev, []models.Event{overlapping}, regs); len(got) != 0 {
		t.Errorf("released registrations do not conflict, got %+v", got)
	}
}

func TestEventValidity(t *testing.T) {
	start := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	leader, activity := primitive.NewObjectID(), primitive.NewObjectID()
	valid := models.Event{
		Start:                 start,
		End:                   start.Add(8 * time.Hour),
		NumSlots:              8,
		NumOnlineSlots:        6,
		RegistrationOpenTime:  ptr(start.Add(-240 * time.Hour)),
		RegistrationCloseTime: ptr(start.Add(-24 * time.Hour)),
		LeaderIDs:             []primitive.ObjectID{leader},
		ActivityIDs:           []primitive.ObjectID{activity},
	}
	et := &models.EventType{RequiresActivity: true}
	leads := func(l, a primitive.ObjectID) bool { return l == leader && a == activity }

	if p := registrations.EventValidity(valid, et, leads); len(p) != 0 {
		t.Fatalf("expected valid event, got %v", p)
	}

	tests := []struct {
		name   string
		modify func(e *models.Event)
		want   string
	}{
		{"online above slots", func(e *models.Event) { e.NumOnlineSlots = 9 }, registrations.ProblemOnlineSlots},
		{"negative slots", func(e *models.Event) { e.NumWaitingList = -1 }, registrations.ProblemSlots},
		{"end before start", func(e *models.Event) { e.End = e.Start.Add(-time.Hour) }, registrations.ProblemDates},
		{"close before open", func(e *models.Event) { e.RegistrationCloseTime = ptr(start.Add(-300 * time.Hour)) }, registrations.ProblemRegistration},
		{"no leader", func(e *models.Event) { e.LeaderIDs = nil }, registrations.ProblemLeaders},
		{"main leader not a leader", func(e *models.Event) { e.MainLeaderID = ptr(primitive.NewObjectID()) }, registrations.ProblemMainLeader},
		{"no activity", func(e *models.Event) { e.ActivityIDs = nil }, registrations.ProblemActivity},
		{"uncovered activity", func(e *models.Event) { e.ActivityIDs = []primitive.ObjectID{primitive.NewObjectID()} }, registrations.ProblemLeaderCoverage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.modify(&e)
			problems := registrations.EventValidity(e, et, leads)
			found := false
			for _, p := range problems {
				if p == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("expected problem %q, got %v", tt.want, problems)
			}
		})
	}
}
