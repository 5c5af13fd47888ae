// internal/app/store/tokens/store.go
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// DefaultExpiry is how long a confirmation link stays valid.
const DefaultExpiry = 2 * time.Hour

// ErrNotFound is returned when a token does not exist or has expired.
var ErrNotFound = errors.New("confirmation token not found or expired")

// Store manages one-shot confirmation tokens. Expired documents are removed
// by the TTL index on expires_at; lookups also filter on expiry so a token is
// unusable as soon as it expires.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
	now    func() time.Time
}

// New creates a store. If expiry is 0 or negative, DefaultExpiry is used.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		c:      db.Collection("confirmation_tokens"),
		expiry: expiry,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Expiry returns the validity duration of new tokens.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Create stores a new token bound to a licence number and, for recovery, to
// the existing account. Previous tokens of the same licence are removed.
func (s *Store) Create(ctx context.Context, typ models.TokenType, licence string, existingUserID *primitive.ObjectID) (models.ConfirmationToken, error) {
	now := s.now()
	t := models.ConfirmationToken{
		ID:             primitive.NewObjectID(),
		Token:          uuid.NewString(),
		Type:           typ,
		Licence:        licence,
		ExistingUserID: existingUserID,
		EmailStatus:    models.EmailPending,
		ExpiresAt:      now.Add(s.expiry),
		CreatedAt:      now,
	}

	if _, err := s.c.DeleteMany(ctx, bson.M{"licence": licence}); err != nil {
		return models.ConfirmationToken{}, fmt.Errorf("delete previous tokens: %w", err)
	}
	if _, err := s.c.InsertOne(ctx, t); err != nil {
		return models.ConfirmationToken{}, fmt.Errorf("insert token: %w", err)
	}
	return t, nil
}

// Get returns a valid token without consuming it.
func (s *Store) Get(ctx context.Context, token string) (models.ConfirmationToken, error) {
	var t models.ConfirmationToken
	err := s.c.FindOne(ctx, bson.M{
		"token":      token,
		"expires_at": bson.M{"$gt": s.now()},
	}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return t, ErrNotFound
	}
	return t, err
}

// Consume atomically deletes and returns a valid token (single use).
func (s *Store) Consume(ctx context.Context, token string) (models.ConfirmationToken, error) {
	var t models.ConfirmationToken
	err := s.c.FindOneAndDelete(ctx, bson.M{
		"token":      token,
		"expires_at": bson.M{"$gt": s.now()},
	}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return t, ErrNotFound
	}
	return t, err
}

// SetEmailStatus records the outcome of sending the confirmation e-mail.
func (s *Store) SetEmailStatus(ctx context.Context, id primitive.ObjectID, status models.EmailStatus) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{"email_status": status}})
	return err
}
