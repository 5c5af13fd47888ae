package paymentstore

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

var (
	ErrNotFound = errors.New("payment not found")
	// ErrStateChanged is returned by compare-and-set updates when the payment
	// is no longer in the expected status.
	ErrStateChanged = errors.New("payment status changed concurrently")
)

// Outstanding are the statuses that consume a price use.
var Outstanding = []models.PaymentStatus{models.PaymentInitiated, models.PaymentApproved}

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("payments")}
}

// Create inserts a payment.
func (s *Store) Create(ctx context.Context, p models.Payment) (models.Payment, error) {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.CreationTime.IsZero() {
		p.CreationTime = time.Now().UTC()
	}
	if _, err := s.c.InsertOne(ctx, p); err != nil {
		return models.Payment{}, err
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Payment, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByToken looks up a payment by processor token.
func (s *Store) GetByToken(ctx context.Context, token string) (models.Payment, error) {
	if token == "" {
		return models.Payment{}, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"processor_token": token})
}

// ForRegistration returns the payments of a registration, oldest first.
func (s *Store) ForRegistration(ctx context.Context, regID primitive.ObjectID) ([]models.Payment, error) {
	return s.find(ctx, bson.M{"registration_id": regID})
}

// ForEvent returns the payments of an event, optionally restricted to statuses.
func (s *Store) ForEvent(ctx context.Context, eventID primitive.ObjectID, statuses ...models.PaymentStatus) ([]models.Payment, error) {
	filter := bson.M{"event_id": eventID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return s.find(ctx, filter)
}

// SetProcessor records the processor session of an initiated payment.
func (s *Store) SetProcessor(ctx context.Context, id primitive.ObjectID, token, url, orderRef string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.PaymentInitiated},
		bson.M{"$set": bson.M{
			"processor_token":     token,
			"processor_url":       url,
			"processor_order_ref": orderRef,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStateChanged
	}
	return nil
}

// Finalize moves an Initiated payment to a terminal status. It returns
// ErrStateChanged when the payment was already finalized.
func (s *Store) Finalize(ctx context.Context, id primitive.ObjectID, status models.PaymentStatus, amountPaid int64, rawMetadata string) (models.Payment, error) {
	now := time.Now().UTC()
	return s.transition(ctx, id, models.PaymentInitiated, bson.M{
		"status":            status,
		"amount_paid":       amountPaid,
		"raw_metadata":      rawMetadata,
		"finalization_time": now,
	})
}

// MarkRefunded moves an Approved payment to Refunded.
func (s *Store) MarkRefunded(ctx context.Context, id primitive.ObjectID, refundMetadata string) (models.Payment, error) {
	now := time.Now().UTC()
	return s.transition(ctx, id, models.PaymentApproved, bson.M{
		"status":          models.PaymentRefunded,
		"refund_metadata": refundMetadata,
		"refund_time":     now,
	})
}

// Stale returns online payments still Initiated and created before cutoff.
func (s *Store) Stale(ctx context.Context, cutoff time.Time, limit int64) ([]models.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "creation_time", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, bson.M{
		"status":          models.PaymentInitiated,
		"type":            models.PaymentOnline,
		"creation_time":   bson.M{"$lt": cutoff},
		"processor_token": bson.M{"$gt": ""},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Payment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PricesReferenced reports which of the prices are used by at least one payment.
func (s *Store) PricesReferenced(ctx context.Context, priceIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	out := map[primitive.ObjectID]bool{}
	if len(priceIDs) == 0 {
		return out, nil
	}
	vals, err := s.c.Distinct(ctx, "item_price_id", bson.M{"item_price_id": bson.M{"$in": priceIDs}})
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		if oid, ok := v.(primitive.ObjectID); ok {
			out[oid] = true
		}
	}
	return out, nil
}

func (s *Store) transition(ctx context.Context, id primitive.ObjectID, from models.PaymentStatus, set bson.M) (models.Payment, error) {
	var p models.Payment
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err == mongo.ErrNoDocuments {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return models.Payment{}, gerr
		}
		return models.Payment{}, ErrStateChanged
	}
	if err != nil {
		return models.Payment{}, err
	}
	return p, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Payment, error) {
	var p models.Payment
	err := s.c.FindOne(ctx, filter).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return p, ErrNotFound
	}
	return p, err
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Payment, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "creation_time", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Payment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
