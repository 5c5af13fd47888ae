package badgestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("badge not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("badges")}
}

// ForUser returns every badge of the user, expired ones included, oldest first.
func (s *Store) ForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Badge, error) {
	return s.find(ctx, bson.M{"user_id": userID})
}

// ForUsers groups the badges of several users by user id.
func (s *Store) ForUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID][]models.Badge, error) {
	out := make(map[primitive.ObjectID][]models.Badge, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	badges, err := s.find(ctx, bson.M{"user_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	for _, b := range badges {
		out[b.UserID] = append(out[b.UserID], b)
	}
	return out, nil
}

// Insert stores new badges. Missing ids and creation times are filled in.
func (s *Store) Insert(ctx context.Context, badges ...models.Badge) ([]models.Badge, error) {
	if len(badges) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	docs := make([]any, len(badges))
	out := make([]models.Badge, len(badges))
	for i, b := range badges {
		if b.ID.IsZero() {
			b.ID = primitive.NewObjectID()
		}
		if b.CreatedAt == nil {
			b.CreatedAt = &now
		}
		docs[i] = b
		out[i] = b
	}
	if _, err := s.c.InsertMany(ctx, docs); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteIDs removes badges by id and returns how many were deleted.
func (s *Store) DeleteIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Delete removes one badge.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	n, err := s.DeleteIDs(ctx, []primitive.ObjectID{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Badge, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Badge
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
