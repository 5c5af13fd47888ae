// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/collectives/internal/app/store/audit"
	"github.com/dalemusser/collectives/internal/app/store/oauthstate"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup and by the migrate command. Each ensure*
function is idempotent. Errors are aggregated so any problem is visible and
startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	sets := []struct {
		name   string
		ensure func(context.Context, *mongo.Database) error
	}{
		{"users", ensureUsers},
		{"roles", ensureRoles},
		{"badges", ensureBadges},
		{"activity_types", ensureActivityTypes},
		{"event_types", ensureEventTypes},
		{"events", ensureEvents},
		{"registrations", ensureRegistrations},
		{"payment_items", ensurePaymentItems},
		{"payments", ensurePayments},
		{"user_groups", ensureUserGroups},
		{"confirmation_tokens", ensureConfirmationTokens},
	}
	for _, s := range sets {
		if err := s.ensure(ctx, db); err != nil {
			problems = append(problems, s.name+": "+err.Error())
		}
	}
	if err := audit.New(db).EnsureIndexes(ctx); err != nil {
		problems = append(problems, "audit_events: "+err.Error())
	}
	if err := oauthstate.New(db).EnsureIndexes(ctx); err != nil {
		problems = append(problems, "oauth_states: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func isUnique(b *bool) bool { return b != nil && *b }

func listIndexes(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]existingIndex{}
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()), zap.Error(err))
			continue
		}
		out[keySig(idx.Key)] = idx
	}
	return out, cur.Err()
}

// ensureIndexSet creates the desired indexes. An index with the same keys and
// uniqueness is reused (renamed when the name differs); one with different
// uniqueness is dropped and recreated.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	existing, err := listIndexes(ctx, coll)
	if err != nil {
		// Collection may not exist yet; every index will be created.
		existing = map[string]existingIndex{}
	}

	for _, m := range models {
		var name string
		var unique *bool
		if m.Options != nil {
			if m.Options.Name != nil {
				name = *m.Options.Name
			}
			unique = m.Options.Unique
		}
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.Bool("unique", isUnique(unique)))

		if ex, ok := existing[sig]; ok {
			if isUnique(unique) == isUnique(ex.Unique) && (name == "" || ex.Name == name) {
				log.Debug("reusing existing index")
				continue
			}
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), name, err))
				continue
			}
			log.Info("dropped index for recreation", zap.String("old_name", ex.Name))
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if wafflemongo.IsDup(err) && isUnique(unique) {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)", coll.Name(), name))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			}
			log.Warn("index ensure failed", zap.Error(err))
			continue
		}
		log.Info("index ensured", zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// nonEmpty restricts a unique index to documents where field is a non-empty string.
func nonEmpty(field string) bson.M {
	return bson.M{field: bson.M{"$gt": ""}}
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("users"), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "mail", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_mail").
				SetPartialFilterExpression(nonEmpty("mail")),
		},
		{
			Keys: bson.D{{Key: "licence", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_licence").
				SetPartialFilterExpression(nonEmpty("licence")),
		},
		{
			Keys: bson.D{{Key: "auth0_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_auth0_id").
				SetPartialFilterExpression(nonEmpty("auth0_id")),
		},
		{
			Keys:    bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_users_fullnameci_id"),
		},
		{
			Keys:    bson.D{{Key: "licence_category", Value: 1}},
			Options: options.Index().SetName("idx_users_licence_category"),
		},
	})
}

func ensureRoles(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("roles"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetName("idx_roles_user_kind"),
		},
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "activity_id", Value: 1}},
			Options: options.Index().SetName("idx_roles_kind_activity"),
		},
	})
}

func ensureBadges(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("badges"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetName("idx_badges_user_kind"),
		},
		{
			Keys:    bson.D{{Key: "registration_id", Value: 1}},
			Options: options.Index().SetName("idx_badges_registration").SetSparse(true),
		},
	})
}

func ensureActivityTypes(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("activity_types"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_activity_types_name"),
		},
		{
			Keys:    bson.D{{Key: "order", Value: 1}},
			Options: options.Index().SetName("idx_activity_types_order"),
		},
	})
}

func ensureEventTypes(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("event_types"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "short", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_types_short"),
		},
	})
}

func ensureEvents(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("events"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "start", Value: 1}, {Key: "end", Value: 1}},
			Options: options.Index().SetName("idx_events_start_end"),
		},
		{
			Keys:    bson.D{{Key: "leader_ids", Value: 1}, {Key: "start", Value: 1}},
			Options: options.Index().SetName("idx_events_leaders_start"),
		},
		{
			Keys:    bson.D{{Key: "activity_ids", Value: 1}, {Key: "start", Value: 1}},
			Options: options.Index().SetName("idx_events_activities_start"),
		},
	})
}

func ensureRegistrations(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("registrations"), []mongo.IndexModel{
		// admission re-read and waiting list order
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("idx_registrations_event_seq"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_registrations_user_status"),
		},
	})
}

func ensurePaymentItems(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("payment_items"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_payment_items_event"),
		},
		{
			Keys:    bson.D{{Key: "prices._id", Value: 1}},
			Options: options.Index().SetName("idx_payment_items_price_id"),
		},
	})
}

func ensurePayments(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("payments"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "registration_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_payments_registration_status"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_payments_event_status"),
		},
		{
			Keys:    bson.D{{Key: "item_price_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_payments_price_status"),
		},
		{
			Keys: bson.D{{Key: "processor_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_payments_processor_token").
				SetPartialFilterExpression(nonEmpty("processor_token")),
		},
		// stale payment poller
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "creation_time", Value: 1}},
			Options: options.Index().SetName("idx_payments_status_type_created"),
		},
	})
}

func ensureUserGroups(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("user_groups"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_conditions.event_id", Value: 1}},
			Options: options.Index().SetName("idx_user_groups_event_conditions"),
		},
	})
}

func ensureConfirmationTokens(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("confirmation_tokens"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_confirmation_tokens_token"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_confirmation_tokens_expires_at"),
		},
	})
}
