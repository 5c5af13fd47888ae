package registrationstore

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

var ErrNotFound = errors.New("registration not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("registrations")}
}

// bySeq orders registrations by insertion.
var bySeq = options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})

// Insert stores a new registration. The caller assigns Seq.
func (s *Store) Insert(ctx context.Context, reg models.Registration) (models.Registration, error) {
	now := time.Now().UTC()
	if reg.ID.IsZero() {
		reg.ID = primitive.NewObjectID()
	}
	if reg.RegistrationTime.IsZero() {
		reg.RegistrationTime = now
	}
	reg.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, reg); err != nil {
		return models.Registration{}, err
	}
	return reg, nil
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Registration, error) {
	var r models.Registration
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return r, ErrNotFound
	}
	return r, err
}

// ForEvent returns every registration of the event in insertion order.
func (s *Store) ForEvent(ctx context.Context, eventID primitive.ObjectID) ([]models.Registration, error) {
	return s.find(ctx, bson.M{"event_id": eventID})
}

// ForUser returns every registration of the user in insertion order.
func (s *Store) ForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Registration, error) {
	return s.find(ctx, bson.M{"user_id": userID})
}

// ForUserOnEvent returns the registrations of one user on one event.
func (s *Store) ForUserOnEvent(ctx context.Context, userID, eventID primitive.ObjectID) ([]models.Registration, error) {
	return s.find(ctx, bson.M{"user_id": userID, "event_id": eventID})
}

// SetStatus changes the status of a registration.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, status models.RegistrationStatus) error {
	return s.set(ctx, id, bson.M{"status": status})
}

// SetLevel changes the registration level.
func (s *Store) SetLevel(ctx context.Context, id primitive.ObjectID, level models.RegistrationLevel) error {
	return s.set(ctx, id, bson.M{"level": level})
}

// Delete removes a registration.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AttendedEvents returns the ids of events where the user holds a valid
// registration (active or present).
func (s *Store) AttendedEvents(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	vals, err := s.c.Distinct(ctx, "event_id", bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": []models.RegistrationStatus{models.RegActive, models.RegPresent}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]primitive.ObjectID, 0, len(vals))
	for _, v := range vals {
		if oid, ok := v.(primitive.ObjectID); ok {
			out = append(out, oid)
		}
	}
	return out, nil
}

func (s *Store) set(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Registration, error) {
	cur, err := s.c.Find(ctx, filter, bySeq)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Registration
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
