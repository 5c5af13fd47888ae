package eventtypestore

import (
	"context"
	"errors"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("event type not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("event_types")}
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.EventType, error) {
	var t models.EventType
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return t, ErrNotFound
	}
	return t, err
}

// GetByShort looks up an event type by its short code.
func (s *Store) GetByShort(ctx context.Context, short string) (models.EventType, error) {
	var t models.EventType
	err := s.c.FindOne(ctx, bson.M{"short": short}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return t, ErrNotFound
	}
	return t, err
}

func (s *Store) List(ctx context.Context) ([]models.EventType, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.EventType
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seed inserts the event types whose short code is not yet known and
// returns how many were added.
func (s *Store) Seed(ctx context.Context, types []models.EventType) (int, error) {
	added := 0
	for _, t := range types {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"short": t.Short},
			bson.M{"$setOnInsert": bson.M{
				"name":               t.Name,
				"short":              t.Short,
				"requires_activity":  t.RequiresActivity,
				"attendance_counted": t.AttendanceCounted,
				"licence_categories": t.LicenceCategories,
				"terms_title":        t.TermsTitle,
				"terms_url":          t.TermsURL,
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
