package indexes_test

import (
	"testing"

	"github.com/dalemusser/collectives/internal/app/system/indexes"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func indexNames(t *testing.T, db *mongo.Database, coll string) map[string]bool {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cur, err := db.Collection(coll).Indexes().List(ctx)
	if err != nil {
		t.Fatalf("list indexes on %s: %v", coll, err)
	}
	defer cur.Close(ctx)

	names := map[string]bool{}
	for cur.Next(ctx) {
		var idx struct {
			Name string `bson:"name"`
		}
		if err := cur.Decode(&idx); err != nil {
			t.Fatalf("decode index: %v", err)
		}
		names[idx.Name] = true
	}
	return names
}

func TestEnsureAll_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("first EnsureAll failed: %v", err)
	}
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("second EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_CreatesIndexes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	want := map[string][]string{
		"users":               {"uniq_users_mail", "uniq_users_licence", "uniq_users_auth0_id"},
		"registrations":       {"idx_registrations_event_seq", "idx_registrations_user_status"},
		"payments":            {"uniq_payments_processor_token", "idx_payments_status_type_created"},
		"confirmation_tokens": {"uniq_confirmation_tokens_token", "ttl_confirmation_tokens_expires_at"},
		"badges":              {"idx_badges_user_kind", "idx_badges_registration"},
	}
	for coll, names := range want {
		got := indexNames(t, db, coll)
		for _, n := range names {
			if !got[n] {
				t.Errorf("%s: missing index %s (have %v)", coll, n, got)
			}
		}
	}
}

func TestEnsureAll_UniqueAllowsEmptyValues(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	users := db.Collection("users")
	// Two users without auth0 link and without licence are fine.
	for _, mail := range []string{"a@example.org", "b@example.org"} {
		if _, err := users.InsertOne(ctx, bson.M{"mail": mail, "licence": "", "auth0_id": ""}); err != nil {
			t.Fatalf("insert %s: %v", mail, err)
		}
	}
	// A duplicated mail is refused.
	if _, err := users.InsertOne(ctx, bson.M{"mail": "a@example.org"}); err == nil {
		t.Error("expected duplicate mail to be rejected")
	}
}
