// Package sanctions applies and withdraws the warning and suspension badges
// that follow late unregistrations and unjustified absences.
package sanctions

import (
	"context"
	"time"

	badgestore "github.com/dalemusser/collectives/internal/app/store/badges"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/sanctions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Service writes sanction badges. Its methods run inside the caller's
// transaction and queue notifications on the caller's outbox.
type Service struct {
	badges   *badgestore.Store
	users    *userstore.Store
	settings *configcache.Cache
	audit    *auditlog.Logger
	log      *zap.Logger
	baseURL  string
	now      func() time.Time
}

// New creates the service.
func New(db *mongo.Database, settings *configcache.Cache, audit *auditlog.Logger, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		badges:   badgestore.New(db),
		users:    userstore.New(db),
		settings: settings,
		audit:    audit,
		log:      logger,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Apply creates the badges earned by reg, which has just entered a
// sanctioned status on ev. It returns the created badges, none when the
// user is already suspended or reg was already sanctioned.
func (s *Service) Apply(ctx context.Context, ev models.Event, reg models.Registration, out *mailer.Outbox) ([]models.Badge, error) {
	existing, err := s.badges.ForUser(ctx, reg.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	settings := s.settings.SanctionSettings(ctx)
	planned := sanctions.Plan(existing, reg, now, settings)
	if len(planned) == 0 {
		return nil, nil
	}
	created, err := s.badges.Insert(ctx, planned...)
	if err != nil {
		return nil, err
	}

	suspended := false
	warnings := 0
	for _, b := range created {
		s.audit.SanctionApplied(ctx, b)
		switch b.Kind {
		case models.BadgeSuspended:
			suspended = true
		case models.BadgeUnjustifiedAbsenceWarning:
			warnings = b.LevelOrZero()
		}
	}
	s.log.Info("sanction applied",
		zap.String("user_id", reg.UserID.Hex()),
		zap.String("registration_id", reg.ID.Hex()),
		zap.Int("warnings", warnings),
		zap.Bool("suspended", suspended))

	user, err := s.users.GetByID(ctx, reg.UserID)
	if err != nil {
		s.log.Warn("sanction notice: user lookup failed", zap.Error(err))
		return created, nil
	}
	out.Add(mailer.BuildSanctionEmail(user.Mail, mailer.SanctionEmailData{
		EventEmailData: mailer.EventEmailData{
			ClubName:   s.settings.ClubName(ctx),
			EventTitle: ev.Title,
			EventURL:   mailer.EventLink(s.baseURL, ev.ID.Hex()),
			Start:      ev.Start.Format(mailer.StartLayout),
			UserName:   user.FullName(),
		},
		Warnings:          warnings,
		WarningsThreshold: settings.WarningsBeforeSuspension,
		Suspended:         suspended,
		SuspensionWeeks:   int(settings.SuspensionDuration / (7 * 24 * time.Hour)),
	}))
	return created, nil
}

// Reverse deletes the badges caused by reg after it left a sanctioned
// status, and returns how many were removed.
func (s *Service) Reverse(ctx context.Context, actorID primitive.ObjectID, reg models.Registration) (int, error) {
	existing, err := s.badges.ForUser(ctx, reg.UserID)
	if err != nil {
		return 0, err
	}
	ids := sanctions.PlanReversal(existing, reg)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.badges.DeleteIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.audit.SanctionReversed(ctx, actorID, reg, int(n))
	return int(n), nil
}
