// internal/app/store/configuration/store.go
package configuration

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a configuration item does not exist.
var ErrNotFound = errors.New("configuration item not found")

// Store provides access to the configuration collection. Items are keyed by name.
type Store struct {
	c *mongo.Collection
}

// New creates a new configuration store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("configuration")}
}

// Get returns one item by name.
func (s *Store) Get(ctx context.Context, name string) (models.ConfigurationItem, error) {
	var item models.ConfigurationItem
	err := s.c.FindOne(ctx, bson.M{"_id": name}).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return models.ConfigurationItem{}, ErrNotFound
	}
	return item, err
}

// List returns every item sorted by name. Hidden items are included.
func (s *Store) List(ctx context.Context) ([]models.ConfigurationItem, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ConfigurationItem
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetValue updates the value of an existing item.
func (s *Store) SetValue(ctx context.Context, name, value string) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": name}, bson.M{
		"$set": bson.M{"value": value, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Seed upserts default items. Type, description and visibility always follow
// the defaults; the value is only written for new items unless force is set.
// It returns how many items were inserted.
func (s *Store) Seed(ctx context.Context, items []models.ConfigurationItem, force bool) (int, error) {
	now := time.Now().UTC()
	inserted := 0
	for _, it := range items {
		set := bson.M{
			"type":        it.Type,
			"description": it.Description,
			"hidden":      it.Hidden,
			"updated_at":  now,
		}
		setOnInsert := bson.M{}
		if force {
			set["value"] = it.Value
		} else {
			setOnInsert["value"] = it.Value
		}
		update := bson.M{"$set": set}
		if len(setOnInsert) > 0 {
			update["$setOnInsert"] = setOnInsert
		}
		res, err := s.c.UpdateOne(ctx, bson.M{"_id": it.Name}, update, options.Update().SetUpsert(true))
		if err != nil {
			return inserted, err
		}
		if res.UpsertedCount > 0 {
			inserted++
		}
	}
	return inserted, nil
}
