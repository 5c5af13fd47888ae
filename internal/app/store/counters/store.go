// internal/app/store/counters/store.go
package counterstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store hands out monotonically increasing numbers per counter name.
type Store struct {
	c *mongo.Collection
}

// New creates a counters store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("counters")}
}

// Next increments the named counter and returns the new value, starting at 1.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Value, err
}
