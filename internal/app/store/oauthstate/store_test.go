package oauthstate_test

import (
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/app/store/oauthstate"
	"github.com/dalemusser/collectives/internal/testutil"
)

func TestStore_SaveValidate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	if err := store.Save(ctx, "state-1", "nonce-1", "/events/42", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, valid, err := store.Validate(ctx, "state-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !valid {
		t.Fatal("expected state to be valid")
	}
	if st.Nonce != "nonce-1" || st.ReturnURL != "/events/42" {
		t.Errorf("unexpected state %+v", st)
	}

	// one-time use
	if _, valid, _ := store.Validate(ctx, "state-1"); valid {
		t.Error("state should not validate twice")
	}
}

func TestStore_Validate_Invalid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Save(ctx, "expired", "n", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tests := []string{"expired", "unknown"}
	for _, state := range tests {
		t.Run(state, func(t *testing.T) {
			_, valid, err := store.Validate(ctx, state)
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if valid {
				t.Errorf("state %q should be invalid", state)
			}
		})
	}
}
