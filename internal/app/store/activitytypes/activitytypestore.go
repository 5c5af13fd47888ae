package activitytypestore

import (
	"context"
	"errors"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("activity type not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("activity_types")}
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.ActivityType, error) {
	var a models.ActivityType
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return a, ErrNotFound
	}
	return a, err
}

// GetByName looks up an activity type by its exact name.
func (s *Store) GetByName(ctx context.Context, name string) (models.ActivityType, error) {
	var a models.ActivityType
	err := s.c.FindOne(ctx, bson.M{"name": name}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return a, ErrNotFound
	}
	return a, err
}

// List returns activity types in display order. Deprecated types are
// included only when withDeprecated is true.
func (s *Store) List(ctx context.Context, withDeprecated bool) ([]models.ActivityType, error) {
	filter := bson.M{}
	if !withDeprecated {
		filter["deprecated"] = false
	}
	return s.find(ctx, filter)
}

// GetMany loads activity types by id, in display order.
func (s *Store) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.ActivityType, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// Seed inserts the activity types whose name is not yet known and returns
// how many were added. Existing types are left untouched.
func (s *Store) Seed(ctx context.Context, types []models.ActivityType) (int, error) {
	added := 0
	for _, t := range types {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"name": t.Name},
			bson.M{"$setOnInsert": bson.M{
				"name":       t.Name,
				"short":      t.Short,
				"kind":       t.Kind,
				"order":      t.Order,
				"deprecated": t.Deprecated,
			}},
			options.Update().SetUpsert(true))
		if err != nil {
			return added, err
		}
		if res.UpsertedCount > 0 {
			added++
		}
	}
	return added, nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.ActivityType, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "order", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ActivityType
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
