package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/normalize"
	"github.com/dalemusser/collectives/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when the mail, licence or external id is already used.
	ErrDuplicate  = errors.New("a user with this mail or licence already exists")
	errNoIdentity = errors.New("user needs a mail or a licence")
)

// BcryptCost for password hashes.
const BcryptCost = 12

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := s.c.FindOne(ctx, filter).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByLicence looks up a user by licence number (spaces ignored).
func (s *Store) GetByLicence(ctx context.Context, licence string) (*models.User, error) {
	licence = normalize.Licence(licence)
	if licence == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"licence": licence})
}

// GetByMail looks up a user by case-insensitive mail.
func (s *Store) GetByMail(ctx context.Context, mail string) (*models.User, error) {
	mail = normalize.Email(mail)
	if mail == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"mail": mail})
}

// GetByAuth0ID looks up a user linked to an identity provider subject.
func (s *Store) GetByAuth0ID(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"auth0_id": sub})
}

// GetMany loads users by id; missing ids are skipped.
func (s *Store) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCandidates returns users that may be active: enabled and verified.
// Licence validity is checked by the caller at the relevant date.
func (s *Store) ListCandidates(ctx context.Context) ([]models.User, error) {
	cur, err := s.c.Find(ctx, bson.M{
		"enabled": true,
		"kind":    bson.M{"$ne": models.UserKindUnverifiedLocal},
	}, options.Find().SetSort(bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new user after normalizing fields.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Mail = normalize.Email(u.Mail)
	u.Licence = normalize.Licence(u.Licence)
	u.FirstName = normalize.Name(u.FirstName)
	u.LastName = normalize.Name(u.LastName)
	u.FullNameCI = text.Fold(u.FullName())
	if u.Mail == "" && u.Licence == "" {
		return models.User{}, errNoIdentity
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicate
		}
		return models.User{}, err
	}
	return u, nil
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the user's hash.
func CheckPassword(u *models.User, password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// SetPassword stores a new password hash.
func (s *Store) SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	return s.set(ctx, id, bson.M{"password_hash": hash})
}

// SetEnabled enables or disables an account.
func (s *Store) SetEnabled(ctx context.Context, id primitive.ObjectID, enabled bool) error {
	return s.set(ctx, id, bson.M{"enabled": enabled})
}

// LinkAuth0 records the identity provider subject of a user.
func (s *Store) LinkAuth0(ctx context.Context, id primitive.ObjectID, sub string) error {
	err := s.set(ctx, id, bson.M{"auth0_id": sub})
	if wafflemongo.IsDup(err) {
		return ErrDuplicate
	}
	return err
}

// DisableByAuth0ID disables the user linked to sub and clears the link.
// It returns ErrNotFound when no user is linked.
func (s *Store) DisableByAuth0ID(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, ErrNotFound
	}
	var u models.User
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"auth0_id": sub},
		bson.M{
			"$set":   bson.M{"enabled": false, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"auth0_id": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) set(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
