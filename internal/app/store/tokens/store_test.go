package tokenstore_test

import (
	"errors"
	"testing"
	"time"

	tokenstore "github.com/dalemusser/collectives/internal/app/store/tokens"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_CreateConsume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tokenstore.New(db, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if store.Expiry() != tokenstore.DefaultExpiry {
		t.Errorf("Expiry = %v, want default", store.Expiry())
	}

	userID := primitive.NewObjectID()
	tok, err := store.Create(ctx, models.TokenRecoverAccount, "740012345678", &userID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(tok.Token) != 36 {
		t.Errorf("expected uuid token, got %q", tok.Token)
	}
	if d := tok.ExpiresAt.Sub(tok.CreatedAt); d != 2*time.Hour {
		t.Errorf("validity = %v, want 2h", d)
	}

	if err := store.SetEmailStatus(ctx, tok.ID, models.EmailSuccess); err != nil {
		t.Fatalf("SetEmailStatus failed: %v", err)
	}
	got, err := store.Get(ctx, tok.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EmailStatus != models.EmailSuccess || got.ExistingUserID == nil || *got.ExistingUserID != userID {
		t.Errorf("unexpected token %+v", got)
	}

	if _, err := store.Consume(ctx, tok.Token); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, tok.Token); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("second Consume err = %v, want ErrNotFound", err)
	}
}

func TestStore_NewTokenReplacesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tokenstore.New(db, time.Hour)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	first, _ := store.Create(ctx, models.TokenActivateAccount, "740012345678", nil)
	second, err := store.Create(ctx, models.TokenActivateAccount, "740012345678", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Get(ctx, first.Token); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("previous token still valid: %v", err)
	}
	if _, err := store.Get(ctx, second.Token); err != nil {
		t.Errorf("new token not found: %v", err)
	}
}

func TestStore_ExpiredToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tokenstore.New(db, time.Hour)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tok, _ := store.Create(ctx, models.TokenActivateAccount, "740099999999", nil)
	_, err := db.Collection("confirmation_tokens").UpdateByID(ctx, tok.ID,
		bson.M{"$set": bson.M{"expires_at": time.Now().UTC().Add(-time.Minute)}})
	if err != nil {
		t.Fatalf("expire token: %v", err)
	}
	if _, err := store.Consume(ctx, tok.Token); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("expired token consumed: %v", err)
	}
}
