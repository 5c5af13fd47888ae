package rolestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound  = errors.New("role not found")
	ErrDuplicate = errors.New("user already holds this role")
	// ErrActivityScope is returned when the activity does not match the role kind.
	ErrActivityScope = errors.New("role kind and activity scope do not match")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("roles")}
}

// ForUser returns every role held by the user.
func (s *Store) ForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Role, error) {
	return s.find(ctx, bson.M{"user_id": userID})
}

// ForUsers groups the roles of several users by user id.
func (s *Store) ForUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID][]models.Role, error) {
	out := make(map[primitive.ObjectID][]models.Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	roles, err := s.find(ctx, bson.M{"user_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		out[r.UserID] = append(out[r.UserID], r)
	}
	return out, nil
}

// UsersWith returns the ids of users holding a role of kind, optionally
// restricted to one activity.
func (s *Store) UsersWith(ctx context.Context, kind models.RoleKind, activityID *primitive.ObjectID) ([]primitive.ObjectID, error) {
	filter := bson.M{"kind": kind}
	if activityID != nil {
		filter["activity_id"] = *activityID
	}
	ids, err := s.c.Distinct(ctx, "user_id", filter)
	if err != nil {
		return nil, err
	}
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, v := range ids {
		if oid, ok := v.(primitive.ObjectID); ok {
			out = append(out, oid)
		}
	}
	return out, nil
}

// Add grants a role. Activity-scoped kinds require an activity, others refuse one.
func (s *Store) Add(ctx context.Context, userID primitive.ObjectID, kind models.RoleKind, activityID *primitive.ObjectID) (models.Role, error) {
	if kind.RelatesToActivity() != (activityID != nil) {
		return models.Role{}, ErrActivityScope
	}
	dup := bson.M{"user_id": userID, "kind": kind, "activity_id": activityID}
	if activityID == nil {
		dup["activity_id"] = bson.M{"$exists": false}
	}
	n, err := s.c.CountDocuments(ctx, dup)
	if err != nil {
		return models.Role{}, err
	}
	if n > 0 {
		return models.Role{}, ErrDuplicate
	}

	r := models.Role{
		ID:         primitive.NewObjectID(),
		UserID:     userID,
		Kind:       kind,
		ActivityID: activityID,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, r); err != nil {
		return models.Role{}, err
	}
	return r, nil
}

// Remove deletes a role by id.
func (s *Store) Remove(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Role, error) {
	cur, err := s.c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Role
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
