package eventstore_test

import (
	"sync"
	"testing"
	"time"

	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func day(d int) time.Time {
	return time.Date(2027, time.March, d, 8, 0, 0, 0, time.UTC)
}

func TestStore_CreateUpdate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := eventstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := primitive.NewObjectID()
	ev, err := store.Create(ctx, models.Event{
		Title:     "Arête des Cosmiques",
		Start:     day(10),
		End:       day(11),
		NumSlots:  4,
		LeaderIDs: []primitive.ObjectID{leader},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ev.ID.IsZero() || ev.CreatedAt.IsZero() || ev.ActivityIDs == nil {
		t.Errorf("unexpected created event: %+v", ev)
	}

	if _, err := store.NextAdmissionSeq(ctx, ev.ID); err != nil {
		t.Fatalf("NextAdmissionSeq failed: %v", err)
	}

	ev.Title = "Aiguille du Midi"
	ev.NumSlots = 6
	ev.AdmissionSeq = 0
	if err := store.Update(ctx, ev); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := store.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Aiguille du Midi" || got.NumSlots != 6 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.AdmissionSeq != 1 {
		t.Errorf("AdmissionSeq = %d, want 1 (kept across updates)", got.AdmissionSeq)
	}

	if err := store.SetStatus(ctx, ev.ID, models.EventCancelled); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := store.SetRequiresPayment(ctx, ev.ID, true); err != nil {
		t.Fatalf("SetRequiresPayment failed: %v", err)
	}
	got, _ = store.Get(ctx, ev.ID)
	if got.Status != models.EventCancelled || !got.RequiresPayment {
		t.Errorf("status/payment flags not applied: %+v", got)
	}

	if err := store.SetStatus(ctx, primitive.NewObjectID(), models.EventConfirmed); err != eventstore.ErrNotFound {
		t.Errorf("SetStatus on missing event err = %v, want ErrNotFound", err)
	}
}

func TestStore_NextAdmissionSeq_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := eventstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev, err := store.Create(ctx, models.Event{Title: "x", Start: day(1), End: day(1)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const n = 20
	seen := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.NextAdmissionSeq(ctx, ev.ID)
			if err != nil {
				t.Errorf("NextAdmissionSeq failed: %v", err)
				return
			}
			seen <- v
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for v := range seen {
		unique[v] = true
	}
	if len(unique) != n {
		t.Errorf("expected %d distinct sequence values, got %d", n, len(unique))
	}
	if _, err := store.NextAdmissionSeq(ctx, primitive.NewObjectID()); err != eventstore.ErrNotFound {
		t.Errorf("NextAdmissionSeq on missing event err = %v, want ErrNotFound", err)
	}
}

func TestStore_Overlapping(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := eventstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	mk := func(start, end int, status models.EventStatus) models.Event {
		ev, err := store.Create(ctx, models.Event{Title: "e", Start: day(start), End: day(end), Status: status})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return ev
	}
	target := mk(10, 12, models.EventConfirmed)
	overlap := mk(11, 13, models.EventConfirmed)
	before := mk(1, 2, models.EventConfirmed)
	cancelled := mk(10, 12, models.EventCancelled)

	got, err := store.Overlapping(ctx,
		[]primitive.ObjectID{target.ID, overlap.ID, before.ID, cancelled.ID},
		target.ID, target.Start, target.End)
	if err != nil {
		t.Fatalf("Overlapping failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != overlap.ID {
		t.Errorf("expected only the overlapping event, got %+v", got)
	}

	upcoming, err := store.Upcoming(ctx, day(5), 0)
	if err != nil {
		t.Fatalf("Upcoming failed: %v", err)
	}
	if len(upcoming) != 2 || upcoming[0].ID != target.ID {
		t.Errorf("unexpected upcoming events: %d", len(upcoming))
	}
}

func TestStore_LedBy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := eventstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	leader := primitive.NewObjectID()
	a, _ := store.Create(ctx, models.Event{Title: "a", LeaderIDs: []primitive.ObjectID{leader}})
	_, _ = store.Create(ctx, models.Event{Title: "b", LeaderIDs: []primitive.ObjectID{primitive.NewObjectID()}})

	ids, err := store.LedBy(ctx, leader)
	if err != nil {
		t.Fatalf("LedBy failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("LedBy = %v, want [%v]", ids, a.ID)
	}
}
