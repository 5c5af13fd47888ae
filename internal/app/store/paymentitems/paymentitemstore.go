package paymentitemstore

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

var ErrNotFound = errors.New("payment item not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("payment_items")}
}

// ForEvent returns the items of an event in creation order.
func (s *Store) ForEvent(ctx context.Context, eventID primitive.ObjectID) ([]models.PaymentItem, error) {
	cur, err := s.c.Find(ctx, bson.M{"event_id": eventID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.PaymentItem
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.PaymentItem, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByPrice returns the item holding the price.
func (s *Store) GetByPrice(ctx context.Context, priceID primitive.ObjectID) (models.PaymentItem, error) {
	return s.findOne(ctx, bson.M{"prices._id": priceID})
}

// Create inserts an item. Prices without an id get one.
func (s *Store) Create(ctx context.Context, item models.PaymentItem) (models.PaymentItem, error) {
	item.ID = primitive.NewObjectID()
	item.Prices = stampPrices(item.Prices)
	if _, err := s.c.InsertOne(ctx, item); err != nil {
		return models.PaymentItem{}, err
	}
	return item, nil
}

// Replace overwrites the title and prices of an item.
func (s *Store) Replace(ctx context.Context, item models.PaymentItem) (models.PaymentItem, error) {
	item.Prices = stampPrices(item.Prices)
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{"$set": bson.M{
		"title":  item.Title,
		"prices": item.Prices,
	}})
	if err != nil {
		return models.PaymentItem{}, err
	}
	if res.MatchedCount == 0 {
		return models.PaymentItem{}, ErrNotFound
	}
	return item, nil
}

// Delete removes an item and its prices.
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

// HasEnabledPrice reports whether any item of the event has an enabled price.
func (s *Store) HasEnabledPrice(ctx context.Context, eventID primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"event_id":       eventID,
		"prices.enabled": true,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.PaymentItem, error) {
	var it models.PaymentItem
	err := s.c.FindOne(ctx, filter).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return it, ErrNotFound
	}
	return it, err
}

func stampPrices(prices []models.ItemPrice) []models.ItemPrice {
	now := time.Now().UTC()
	out := make([]models.ItemPrice, len(prices))
	for i, p := range prices {
		if p.ID.IsZero() {
			p.ID = primitive.NewObjectID()
		}
		if p.UpdateTime.IsZero() {
			p.UpdateTime = now
		}
		out[i] = p
	}
	return out
}
