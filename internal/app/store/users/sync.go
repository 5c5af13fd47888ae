// internal/app/store/users/sync.go
package userstore

import (
	"context"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/normalize"
	"github.com/dalemusser/collectives/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ExtranetFields are the user attributes owned by the federation extranet.
// They overwrite local values on every synchronisation.
type ExtranetFields struct {
	Licence               string
	FirstName             string
	LastName              string
	Mail                  string
	DateOfBirth           time.Time
	Gender                models.Gender
	Phone                 string
	EmergencyContactName  string
	EmergencyContactPhone string
	LicenceCategory       string
	LicenceExpiryDate     *time.Time
}

func (f ExtranetFields) set(now time.Time) bson.M {
	first := normalize.Name(f.FirstName)
	last := normalize.Name(f.LastName)
	return bson.M{
		"licence":                 normalize.Licence(f.Licence),
		"first_name":              first,
		"last_name":               last,
		"full_name_ci":            text.Fold(models.User{FirstName: first, LastName: last}.FullName()),
		"mail":                    normalize.Email(f.Mail),
		"date_of_birth":           f.DateOfBirth,
		"gender":                  f.Gender,
		"phone":                   normalize.Phone(f.Phone),
		"emergency_contact_name":  normalize.Name(f.EmergencyContactName),
		"emergency_contact_phone": normalize.Phone(f.EmergencyContactPhone),
		"licence_category":        f.LicenceCategory,
		"licence_expiry_date":     f.LicenceExpiryDate,
		"last_extranet_sync":      now,
		"updated_at":              now,
	}
}

// ApplyExtranet overwrites the extranet-owned fields of an existing user.
func (s *Store) ApplyExtranet(ctx context.Context, id primitive.ObjectID, f ExtranetFields) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": f.set(time.Now().UTC())})
	if wafflemongo.IsDup(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateFromExtranet inserts an enabled extranet user with a password hash.
func (s *Store) CreateFromExtranet(ctx context.Context, f ExtranetFields, passwordHash string) (models.User, error) {
	now := time.Now().UTC()
	first := normalize.Name(f.FirstName)
	last := normalize.Name(f.LastName)
	u := models.User{
		ID:                    primitive.NewObjectID(),
		Mail:                  normalize.Email(f.Mail),
		Licence:               normalize.Licence(f.Licence),
		FirstName:             first,
		LastName:              last,
		DateOfBirth:           f.DateOfBirth,
		Gender:                f.Gender,
		Phone:                 normalize.Phone(f.Phone),
		EmergencyContactName:  normalize.Name(f.EmergencyContactName),
		EmergencyContactPhone: normalize.Phone(f.EmergencyContactPhone),
		Enabled:               true,
		Kind:                  models.UserKindExtranet,
		LicenceCategory:       f.LicenceCategory,
		LicenceExpiryDate:     f.LicenceExpiryDate,
		LastExtranetSync:      &now,
		PasswordHash:          passwordHash,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	u.FullNameCI = text.Fold(u.FullName())

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicate
		}
		return models.User{}, err
	}
	return u, nil
}
