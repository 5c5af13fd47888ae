package userstore

import (
	"context"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"github.com/dalemusser/collectives/internal/domain/access"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Fetcher implements auth.UserFetcher to load fresh user data on each request.
type Fetcher struct {
	users *mongo.Collection
	roles *mongo.Collection
	now   func() time.Time
}

// NewFetcher creates a UserFetcher that queries the given database.
func NewFetcher(db *mongo.Database) *Fetcher {
	return &Fetcher{
		users: db.Collection("users"),
		roles: db.Collection("roles"),
		now:   time.Now,
	}
}

// FetchUser returns nil if the user is not found, not active, or on any error.
func (f *Fetcher) FetchUser(ctx context.Context, userID string) *auth.SessionUser {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	var u models.User
	proj := options.FindOne().SetProjection(bson.M{"password_hash": 0})
	if err := f.users.FindOne(ctx, bson.M{"_id": oid}, proj).Decode(&u); err != nil {
		return nil
	}
	if !u.IsActiveAt(f.now()) {
		return nil
	}

	var roles []models.Role
	cur, err := f.roles.Find(ctx, bson.M{"user_id": oid})
	if err == nil {
		_ = cur.All(ctx, &roles)
	}

	loginID := u.Licence
	if loginID == "" {
		loginID = u.Mail
	}
	return &auth.SessionUser{
		ID:      u.ID.Hex(),
		Name:    u.FullName(),
		LoginID: loginID,
		Role:    SessionRole(roles),
	}
}

// SessionRole maps a user's roles to the coarse label used by route guards.
func SessionRole(roles []models.Role) string {
	switch {
	case access.IsAdmin(roles):
		return "admin"
	case access.IsModerator(roles):
		return "moderator"
	}
	return "member"
}
