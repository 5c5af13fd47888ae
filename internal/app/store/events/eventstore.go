package eventstore

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

var ErrNotFound = errors.New("event not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("events")}
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Event, error) {
	var ev models.Event
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if err == mongo.ErrNoDocuments {
		return ev, ErrNotFound
	}
	return ev, err
}

// GetMany loads events by id; missing ids are skipped.
func (s *Store) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
}

// Create inserts an event with a fresh id and admission sequence.
func (s *Store) Create(ctx context.Context, ev models.Event) (models.Event, error) {
	now := time.Now().UTC()
	ev.ID = primitive.NewObjectID()
	ev.AdmissionSeq = 0
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if ev.ActivityIDs == nil {
		ev.ActivityIDs = []primitive.ObjectID{}
	}
	if ev.LeaderIDs == nil {
		ev.LeaderIDs = []primitive.ObjectID{}
	}
	if _, err := s.c.InsertOne(ctx, ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

// Update replaces the editable fields of an event. The admission sequence
// and creation time are kept.
func (s *Store) Update(ctx context.Context, ev models.Event) error {
	if ev.ActivityIDs == nil {
		ev.ActivityIDs = []primitive.ObjectID{}
	}
	if ev.LeaderIDs == nil {
		ev.LeaderIDs = []primitive.ObjectID{}
	}
	set := bson.M{
		"title":                   ev.Title,
		"description":             ev.Description,
		"rendered_description":    ev.Rendered,
		"start":                   ev.Start,
		"end":                     ev.End,
		"registration_open_time":  ev.RegistrationOpenTime,
		"registration_close_time": ev.RegistrationCloseTime,
		"num_slots":               ev.NumSlots,
		"num_online_slots":        ev.NumOnlineSlots,
		"num_waiting_list":        ev.NumWaitingList,
		"status":                  ev.Status,
		"visibility":              ev.Visibility,
		"event_type_id":           ev.EventTypeID,
		"activity_ids":            ev.ActivityIDs,
		"leader_ids":              ev.LeaderIDs,
		"main_leader_id":          ev.MainLeaderID,
		"user_group_id":           ev.UserGroupID,
		"tags":                    ev.Tags,
		"updated_at":              time.Now().UTC(),
	}
	return s.update(ctx, ev.ID, bson.M{"$set": set})
}

// SetStatus changes the publication status.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, status models.EventStatus) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
}

// SetRequiresPayment records whether the event has at least one enabled price.
func (s *Store) SetRequiresPayment(ctx context.Context, id primitive.ObjectID, requires bool) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"requires_payment": requires}})
}

// SetUserGroup attaches or detaches (nil) the event user group.
func (s *Store) SetUserGroup(ctx context.Context, id primitive.ObjectID, groupID *primitive.ObjectID) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"user_group_id": groupID, "updated_at": time.Now().UTC()}})
}

// NextAdmissionSeq atomically increments the event admission sequence and
// returns the new value. Inside a transaction the write also makes
// concurrent admissions on the same event conflict.
func (s *Store) NextAdmissionSeq(ctx context.Context, id primitive.ObjectID) (int64, error) {
	var ev struct {
		Seq int64 `bson:"admission_seq"`
	}
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"admission_seq": int64(1)}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"admission_seq": 1}),
	).Decode(&ev)
	if err == mongo.ErrNoDocuments {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return ev.Seq, nil
}

// Overlapping returns the events among ids, other than exclude, that are
// not cancelled and intersect [start, end].
func (s *Store) Overlapping(ctx context.Context, ids []primitive.ObjectID, exclude primitive.ObjectID, start, end time.Time) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{
		"_id":    bson.M{"$in": ids, "$ne": exclude},
		"status": bson.M{"$ne": models.EventCancelled},
		"start":  bson.M{"$lte": end},
		"end":    bson.M{"$gte": start},
	}, nil)
}

// LedBy returns the ids of events the user leads.
func (s *Store) LedBy(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	evs, err := s.find(ctx, bson.M{"leader_ids": userID}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	out := make([]primitive.ObjectID, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out, nil
}

// Upcoming lists non-cancelled events ending after from, soonest first.
func (s *Store) Upcoming(ctx context.Context, from time.Time, limit int64) ([]models.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.find(ctx, bson.M{
		"end":    bson.M{"$gte": from},
		"status": bson.M{"$ne": models.EventCancelled},
	}, opts)
}

func (s *Store) update(ctx context.Context, id primitive.ObjectID, upd bson.M) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, upd)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Event, error) {
	if opts == nil {
		opts = options.Find().SetSort(bson.D{{Key: "start", Value: 1}, {Key: "_id", Value: 1}})
	}
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
