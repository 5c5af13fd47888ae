package eventtypestore_test

import (
	"testing"

	eventtypestore "github.com/dalemusser/collectives/internal/app/store/eventtypes"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Seed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := eventtypestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	seed := []models.EventType{
		{Name: "Collective", Short: "COL", RequiresActivity: true, AttendanceCounted: true},
		{Name: "Formation", Short: "FOR", RequiresActivity: true, AttendanceCounted: true, LicenceCategories: []string{"T1", "J1"}},
		{Name: "Soirée", Short: "SOI"},
	}
	n, err := store.Seed(ctx, seed)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Seed added %d, want 3", n)
	}
	if n, _ := store.Seed(ctx, seed); n != 0 {
		t.Errorf("second Seed added %d, want 0", n)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 types, got %d", len(list))
	}

	training, err := store.GetByShort(ctx, "FOR")
	if err != nil {
		t.Fatalf("GetByShort failed: %v", err)
	}
	if !training.AttendanceCounted || training.AcceptsLicenceCategory("A1") {
		t.Errorf("unexpected training type: %+v", training)
	}
	got, err := store.Get(ctx, training.ID)
	if err != nil || got.Name != "Formation" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := store.Get(ctx, primitive.NewObjectID()); err != eventtypestore.ErrNotFound {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}
