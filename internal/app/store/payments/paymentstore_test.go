package paymentstore_test

import (
	"testing"
	"time"

	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newPayment(event, price primitive.ObjectID) models.Payment {
	return models.Payment{
		RegistrationID: primitive.NewObjectID(),
		EventID:        event,
		ItemID:         primitive.NewObjectID(),
		ItemPriceID:    price,
		BuyerID:        primitive.NewObjectID(),
		Type:           models.PaymentOnline,
		Status:         models.PaymentInitiated,
		AmountCharged:  2500,
	}
}

func TestStore_FinalizeOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := paymentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	p, err := store.Create(ctx, newPayment(primitive.NewObjectID(), primitive.NewObjectID()))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.SetProcessor(ctx, p.ID, "tok-1", "https://pay.example/tok-1", "CAF20270310ALP0001"); err != nil {
		t.Fatalf("SetProcessor failed: %v", err)
	}

	got, err := store.GetByToken(ctx, "tok-1")
	if err != nil || got.ID != p.ID {
		t.Fatalf("GetByToken = %v, %v", got.ID, err)
	}

	done, err := store.Finalize(ctx, p.ID, models.PaymentApproved, 2500, `{"result":"00000"}`)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if done.Status != models.PaymentApproved || done.FinalizationTime == nil || done.AmountPaid != 2500 {
		t.Errorf("unexpected finalized payment: %+v", done)
	}

	if _, err := store.Finalize(ctx, p.ID, models.PaymentRefused, 0, ""); err != paymentstore.ErrStateChanged {
		t.Errorf("second Finalize err = %v, want ErrStateChanged", err)
	}
	if err := store.SetProcessor(ctx, p.ID, "tok-2", "", ""); err != paymentstore.ErrStateChanged {
		t.Errorf("SetProcessor on finalized err = %v, want ErrStateChanged", err)
	}
	if _, err := store.Finalize(ctx, primitive.NewObjectID(), models.PaymentApproved, 0, ""); err != paymentstore.ErrNotFound {
		t.Errorf("Finalize on missing err = %v, want ErrNotFound", err)
	}

	refunded, err := store.MarkRefunded(ctx, p.ID, `{"result":"00000"}`)
	if err != nil {
		t.Fatalf("MarkRefunded failed: %v", err)
	}
	if refunded.Status != models.PaymentRefunded || refunded.RefundTime == nil {
		t.Errorf("unexpected refunded payment: %+v", refunded)
	}
	if _, err := store.MarkRefunded(ctx, p.ID, ""); err != paymentstore.ErrStateChanged {
		t.Errorf("second MarkRefunded err = %v, want ErrStateChanged", err)
	}
}

func TestStore_Stale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := paymentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	event := primitive.NewObjectID()
	old := newPayment(event, primitive.NewObjectID())
	old.CreationTime = time.Now().UTC().Add(-2 * time.Hour)
	old.ProcessorToken = "old"
	old, _ = store.Create(ctx, old)

	recent := newPayment(event, primitive.NewObjectID())
	recent.ProcessorToken = "recent"
	_, _ = store.Create(ctx, recent)

	offline := newPayment(event, primitive.NewObjectID())
	offline.Type = models.PaymentCheck
	offline.CreationTime = old.CreationTime
	_, _ = store.Create(ctx, offline)

	stale, err := store.Stale(ctx, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("Stale failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("expected only the old online payment, got %d", len(stale))
	}
}

func TestStore_EventQueries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := paymentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	event := primitive.NewObjectID()
	used, unused := primitive.NewObjectID(), primitive.NewObjectID()
	a, _ := store.Create(ctx, newPayment(event, used))
	b := newPayment(event, used)
	b.Status = models.PaymentRefused
	_, _ = store.Create(ctx, b)

	outstanding, err := store.ForEvent(ctx, event, paymentstore.Outstanding...)
	if err != nil {
		t.Fatalf("ForEvent failed: %v", err)
	}
	if len(outstanding) != 1 || outstanding[0].ID != a.ID {
		t.Errorf("expected one outstanding payment, got %d", len(outstanding))
	}
	all, _ := store.ForEvent(ctx, event)
	if len(all) != 2 {
		t.Errorf("expected 2 payments, got %d", len(all))
	}

	refs, err := store.PricesReferenced(ctx, []primitive.ObjectID{used, unused})
	if err != nil {
		t.Fatalf("PricesReferenced failed: %v", err)
	}
	if !refs[used] || refs[unused] {
		t.Errorf("unexpected references: %v", refs)
	}

	forReg, err := store.ForRegistration(ctx, a.RegistrationID)
	if err != nil || len(forReg) != 1 {
		t.Errorf("ForRegistration = %v, %v", forReg, err)
	}
}
