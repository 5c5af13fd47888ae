package usergroupstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/usergroups"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("user group not found")

// Store persists user groups and evaluates membership against the users,
// roles, badges, events and registrations collections.
type Store struct {
	c             *mongo.Collection
	users         *mongo.Collection
	roles         *mongo.Collection
	badges        *mongo.Collection
	events        *mongo.Collection
	registrations *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:             db.Collection("user_groups"),
		users:         db.Collection("users"),
		roles:         db.Collection("roles"),
		badges:        db.Collection("badges"),
		events:        db.Collection("events"),
		registrations: db.Collection("registrations"),
	}
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.UserGroup, error) {
	var g models.UserGroup
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return g, ErrNotFound
	}
	return g, err
}

// Create inserts a group. Conditions without an id get one.
func (s *Store) Create(ctx context.Context, g models.UserGroup) (models.UserGroup, error) {
	g.ID = primitive.NewObjectID()
	g.CreatedAt = time.Now().UTC()
	stampConditions(&g)
	if _, err := s.c.InsertOne(ctx, g); err != nil {
		return models.UserGroup{}, err
	}
	return g, nil
}

// Update replaces every condition of a group.
func (s *Store) Update(ctx context.Context, g models.UserGroup) error {
	stampConditions(&g)
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": g.ID}, bson.M{"$set": bson.M{
		"role_conditions":    g.RoleConditions,
		"badge_conditions":   g.BadgeConditions,
		"event_conditions":   g.EventConditions,
		"licence_conditions": g.LicenceConditions,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

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

// Clone stores a deep copy of the group and returns it.
func (s *Store) Clone(ctx context.Context, id primitive.ObjectID) (models.UserGroup, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return models.UserGroup{}, err
	}
	return s.Create(ctx, usergroups.Clone(g))
}

// CloneForEvent is Clone for a group attached to a duplicated event: event
// conditions naming from name to in the copy.
func (s *Store) CloneForEvent(ctx context.Context, id, from, to primitive.ObjectID) (models.UserGroup, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return models.UserGroup{}, err
	}
	return s.Create(ctx, usergroups.Retarget(usergroups.Clone(g), from, to))
}

// Contains loads the user's snapshot and evaluates the group at time at.
// A missing user belongs to no group.
func (s *Store) Contains(ctx context.Context, g models.UserGroup, userID primitive.ObjectID, at time.Time) (bool, error) {
	var u models.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	members, err := s.snapshots(ctx, g, []models.User{u})
	if err != nil {
		return false, err
	}
	return usergroups.Contains(g, members[0], at), nil
}

// ContainsID is Contains for a group referenced by id.
func (s *Store) ContainsID(ctx context.Context, groupID, userID primitive.ObjectID, at time.Time) (bool, error) {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return false, err
	}
	return s.Contains(ctx, g, userID, at)
}

// Members lists the users belonging to the group at time at, sorted by
// name. A group without conditions has no members.
func (s *Store) Members(ctx context.Context, g models.UserGroup, at time.Time) ([]models.User, error) {
	if !usergroups.HasConditions(g) {
		return nil, nil
	}

	cur, err := s.users.Find(ctx,
		bson.M{"enabled": true, "kind": bson.M{"$ne": models.UserKindUnverifiedLocal}},
		options.Find().SetSort(bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var candidates []models.User
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, err
	}

	snaps, err := s.snapshots(ctx, g, candidates)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for _, m := range snaps {
		if usergroups.Contains(g, m, at) {
			out = append(out, m.User)
		}
	}
	return out, nil
}

// snapshots builds the evaluator input for each user. Only the collections
// a non-empty condition family needs are read.
func (s *Store) snapshots(ctx context.Context, g models.UserGroup, users []models.User) ([]usergroups.Member, error) {
	ids := make([]primitive.ObjectID, len(users))
	idx := make(map[primitive.ObjectID]int, len(users))
	out := make([]usergroups.Member, len(users))
	for i, u := range users {
		ids[i] = u.ID
		idx[u.ID] = i
		out[i] = usergroups.Member{
			User:           u,
			LedEvents:      map[primitive.ObjectID]bool{},
			AttendedEvents: map[primitive.ObjectID]bool{},
		}
	}
	if len(users) == 0 {
		return out, nil
	}

	if len(g.RoleConditions) > 0 {
		var roles []models.Role
		if err := s.findAll(ctx, s.roles, bson.M{"user_id": bson.M{"$in": ids}}, &roles); err != nil {
			return nil, err
		}
		for _, r := range roles {
			out[idx[r.UserID]].Roles = append(out[idx[r.UserID]].Roles, r)
		}
	}

	if len(g.BadgeConditions) > 0 {
		var badges []models.Badge
		if err := s.findAll(ctx, s.badges, bson.M{"user_id": bson.M{"$in": ids}}, &badges); err != nil {
			return nil, err
		}
		for _, b := range badges {
			out[idx[b.UserID]].Badges = append(out[idx[b.UserID]].Badges, b)
		}
	}

	if evIDs := usergroups.ReferencedEvents(g); len(evIDs) > 0 {
		var events []models.Event
		if err := s.findAll(ctx, s.events, bson.M{"_id": bson.M{"$in": evIDs}}, &events); err != nil {
			return nil, err
		}
		for _, ev := range events {
			for _, l := range ev.LeaderIDs {
				if i, ok := idx[l]; ok {
					out[i].LedEvents[ev.ID] = true
				}
			}
		}

		var regs []models.Registration
		err := s.findAll(ctx, s.registrations, bson.M{
			"event_id": bson.M{"$in": evIDs},
			"user_id":  bson.M{"$in": ids},
			"status":   bson.M{"$in": []models.RegistrationStatus{models.RegActive, models.RegPresent}},
		}, &regs)
		if err != nil {
			return nil, err
		}
		for _, r := range regs {
			out[idx[r.UserID]].AttendedEvents[r.EventID] = true
		}
	}
	return out, nil
}

func (s *Store) findAll(ctx context.Context, c *mongo.Collection, filter bson.M, out any) error {
	cur, err := c.Find(ctx, filter)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func stampConditions(g *models.UserGroup) {
	for i := range g.RoleConditions {
		if g.RoleConditions[i].ID.IsZero() {
			g.RoleConditions[i].ID = primitive.NewObjectID()
		}
	}
	for i := range g.BadgeConditions {
		if g.BadgeConditions[i].ID.IsZero() {
			g.BadgeConditions[i].ID = primitive.NewObjectID()
		}
	}
	for i := range g.EventConditions {
		if g.EventConditions[i].ID.IsZero() {
			g.EventConditions[i].ID = primitive.NewObjectID()
		}
	}
	for i := range g.LicenceConditions {
		if g.LicenceConditions[i].ID.IsZero() {
			g.LicenceConditions[i].ID = primitive.NewObjectID()
		}
	}
}
