// Package accounts handles extranet-backed signup, account recovery, local
// login and the resynchronisation of member profiles with the extranet.
package accounts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	"github.com/dalemusser/collectives/internal/app/policy/memberpolicy"
	activitytypestore "github.com/dalemusser/collectives/internal/app/store/activitytypes"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	tokenstore "github.com/dalemusser/collectives/internal/app/store/tokens"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/extranet"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/normalize"
	"github.com/dalemusser/collectives/internal/app/system/ratelimit"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"github.com/dalemusser/collectives/internal/domain/licence"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken      = errors.New("invalid or expired confirmation token")
	ErrMismatch          = errors.New("mail or date of birth do not match the licence")
	ErrMailChanged       = errors.New("email changed in extranet")
	ErrLicenceInvalid    = errors.New("licence is not valid")
	ErrNotClubLicence    = errors.New("licence is not issued by this club")
	ErrNoExtranetMail    = errors.New("no e-mail recorded in the extranet")
	ErrAccountExists     = errors.New("an account already exists for this licence")
	ErrNoAccount         = errors.New("no account matches these identifiers")
	ErrAmbiguousAccount  = errors.New("several accounts match these identifiers")
	ErrTooManyRequests   = errors.New("too many requests for this licence")
	ErrWeakPassword      = errors.New("password is too short")
	ErrBadCredentials    = errors.New("invalid login or password")
	ErrAccountDisabled   = errors.New("account is disabled")
	ErrNotExtranetMember = errors.New("account is not managed by the extranet")
)

// MinPasswordLength is the shortest password accepted on confirmation.
const MinPasswordLength = 8

// Config holds the service settings.
type Config struct {
	BaseURL       string
	LicencePrefix string // club prefix of licence numbers; empty accepts all
}

// Deps are the collaborators of the service.
type Deps struct {
	Extranet extranet.Client
	RoleMap  *extranet.RoleMap
	Settings *configcache.Cache
	Mail     mailer.Sender
	Audit    *auditlog.Logger
	// Throttle limits confirmation requests per licence. Nil disables it.
	Throttle *ratelimit.Limiter
}

// Service is the account service.
type Service struct {
	db         *mongo.Database
	users      *userstore.Store
	roles      *rolestore.Store
	activities *activitytypestore.Store
	tokens     *tokenstore.Store
	extranet   extranet.Client
	roleMap    *extranet.RoleMap
	settings   *configcache.Cache
	mail       mailer.Sender
	audit      *auditlog.Logger
	throttle   *ratelimit.Limiter
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
}

// New creates the service. tokens carries the confirmation token TTL.
func New(db *mongo.Database, tokens *tokenstore.Store, d Deps, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		db:         db,
		users:      userstore.New(db),
		roles:      rolestore.New(db),
		activities: activitytypestore.New(db),
		tokens:     tokens,
		extranet:   d.Extranet,
		roleMap:    d.RoleMap,
		settings:   d.Settings,
		mail:       d.Mail,
		audit:      d.Audit,
		throttle:   d.Throttle,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Request is what a member types to activate or recover an account.
type Request struct {
	Licence     string
	Mail        string
	DateOfBirth time.Time
}

// RequestSignup checks the identifiers against the extranet and mails an
// activation link.
func (s *Service) RequestSignup(ctx context.Context, req Request) (models.ConfirmationToken, error) {
	return s.request(ctx, req, false)
}

// RequestRecovery is RequestSignup for an existing account, matched by
// licence or mail. The licence may be a new one; it replaces the stored
// licence on confirmation.
func (s *Service) RequestRecovery(ctx context.Context, req Request) (models.ConfirmationToken, error) {
	return s.request(ctx, req, true)
}

func (s *Service) request(ctx context.Context, req Request, recovery bool) (models.ConfirmationToken, error) {
	number := licence.Normalize(req.Licence)
	if number == "" || !licence.IssuedByClub(number, s.cfg.LicencePrefix) {
		return models.ConfirmationToken{}, ErrNotClubLicence
	}
	if s.throttle != nil && !s.throttle.Allow(number) {
		return models.ConfirmationToken{}, ErrTooManyRequests
	}

	var existing *primitive.ObjectID
	if recovery {
		id, err := s.matchAccount(ctx, number, req.Mail)
		if err != nil {
			return models.ConfirmationToken{}, err
		}
		existing = &id
	} else {
		_, err := s.users.GetByLicence(ctx, number)
		if err == nil {
			return models.ConfirmationToken{}, ErrAccountExists
		}
		if !errors.Is(err, userstore.ErrNotFound) {
			return models.ConfirmationToken{}, err
		}
	}

	info, err := s.extranet.CheckLicence(ctx, number)
	if err != nil {
		return models.ConfirmationToken{}, err
	}
	if !info.ValidAt(s.now()) {
		return models.ConfirmationToken{}, ErrLicenceInvalid
	}
	ui, err := s.extranet.FetchUserInfo(ctx, number)
	if err != nil {
		return models.ConfirmationToken{}, err
	}
	if ui.Email == "" {
		return models.ConfirmationToken{}, ErrNoExtranetMail
	}
	if !sameDay(ui.DateOfBirth, req.DateOfBirth) || normalize.Email(ui.Email) != normalize.Email(req.Mail) {
		return models.ConfirmationToken{}, ErrMismatch
	}

	typ := models.TokenActivateAccount
	if recovery {
		typ = models.TokenRecoverAccount
	}
	tok, err := s.tokens.Create(ctx, typ, number, existing)
	if err != nil {
		return models.ConfirmationToken{}, err
	}

	email := mailer.BuildConfirmationEmail(ui.Email, mailer.ConfirmationEmailData{
		ClubName:  s.settings.ClubName(ctx),
		Link:      strings.TrimRight(s.cfg.BaseURL, "/") + "/auth/process_confirmation/" + tok.Token,
		ExpiresIn: humanDuration(s.tokens.Expiry()),
		Recovery:  recovery,
	})
	status := models.EmailSuccess
	if err := s.mail.Send(email); err != nil {
		s.log.Warn("confirmation e-mail failed", zap.String("licence", number), zap.Error(err))
		status = models.EmailFailed
	}
	if err := s.tokens.SetEmailStatus(ctx, tok.ID, status); err != nil {
		s.log.Warn("record confirmation e-mail status", zap.Error(err))
	}
	tok.EmailStatus = status
	return tok, nil
}

// matchAccount finds the single account holding the licence or the mail.
func (s *Service) matchAccount(ctx context.Context, number, mail string) (primitive.ObjectID, error) {
	ids := map[primitive.ObjectID]bool{}
	if u, err := s.users.GetByLicence(ctx, number); err == nil {
		ids[u.ID] = true
	} else if !errors.Is(err, userstore.ErrNotFound) {
		return primitive.NilObjectID, err
	}
	if u, err := s.users.GetByMail(ctx, mail); err == nil {
		ids[u.ID] = true
	} else if !errors.Is(err, userstore.ErrNotFound) {
		return primitive.NilObjectID, err
	}
	switch len(ids) {
	case 0:
		return primitive.NilObjectID, ErrNoAccount
	case 1:
		for id := range ids {
			return id, nil
		}
	}
	return primitive.NilObjectID, ErrAmbiguousAccount
}

// Token returns a pending confirmation token without consuming it.
func (s *Service) Token(ctx context.Context, token string) (models.ConfirmationToken, error) {
	tok, err := s.tokens.Get(ctx, token)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return tok, ErrInvalidToken
	}
	return tok, err
}

// Confirm consumes a confirmation token: the account is created (or, for
// recovery, updated) from the extranet record and given password.
func (s *Service) Confirm(ctx context.Context, token, password string) (models.User, error) {
	if len(password) < MinPasswordLength {
		return models.User{}, ErrWeakPassword
	}
	tok, err := s.tokens.Get(ctx, token)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}

	info, err := s.extranet.CheckLicence(ctx, tok.Licence)
	if err != nil {
		return models.User{}, err
	}
	if !info.ValidAt(s.now()) {
		return models.User{}, ErrLicenceInvalid
	}
	ui, err := s.extranet.FetchUserInfo(ctx, tok.Licence)
	if err != nil {
		return models.User{}, err
	}
	if !ui.Valid {
		return models.User{}, extranet.ErrUnavailable
	}
	hash, err := userstore.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	fields := extranetFields(tok.Licence, ui, info)

	var user models.User
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		if _, err := s.tokens.Consume(ctx, token); err != nil {
			if errors.Is(err, tokenstore.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if tok.Type == models.TokenRecoverAccount && tok.ExistingUserID != nil {
			id := *tok.ExistingUserID
			if err := s.users.ApplyExtranet(ctx, id, fields); err != nil {
				return err
			}
			if err := s.users.SetPassword(ctx, id, hash); err != nil {
				return err
			}
			u, err := s.users.GetByID(ctx, id)
			if err != nil {
				return err
			}
			user = *u
			return nil
		}
		u, err := s.users.CreateFromExtranet(ctx, fields, hash)
		if err != nil {
			return err
		}
		user = u
		return s.grantRoles(ctx, u.ID, ui.Fonctions)
	})
	if err != nil {
		return models.User{}, err
	}

	s.log.Info("account confirmed",
		zap.String("user_id", user.ID.Hex()),
		zap.Bool("recovery", tok.Type == models.TokenRecoverAccount))
	return user, nil
}

// grantRoles creates the roles mapped from the member's extranet duties.
func (s *Service) grantRoles(ctx context.Context, userID primitive.ObjectID, fonctions []extranet.Fonction) error {
	for _, g := range s.roleMap.Grants(fonctions) {
		var activityID *primitive.ObjectID
		if g.Activity != "" {
			at, err := s.activities.GetByName(ctx, g.Activity)
			if errors.Is(err, activitytypestore.ErrNotFound) {
				s.log.Warn("role grant for unknown activity", zap.String("activity", g.Activity))
				continue
			}
			if err != nil {
				return err
			}
			activityID = &at.ID
		}
		if _, err := s.roles.Add(ctx, userID, g.Kind, activityID); err != nil && !errors.Is(err, rolestore.ErrDuplicate) {
			return err
		}
	}
	return nil
}

// ForceSync resynchronises target on behalf of actor.
func (s *Service) ForceSync(ctx context.Context, actor eventpolicy.Actor, target primitive.ObjectID) (models.User, error) {
	if err := memberpolicy.CanSync(actor, target); err != nil {
		return models.User{}, err
	}
	return s.SyncUser(ctx, &actor.ID, target)
}

// SyncUser overwrites the extranet-owned profile fields of userID with the
// extranet record. It fails with ErrMailChanged when the extranet mail
// differs from the local one, and with ErrLicenceInvalid when the licence
// lapsed; the member must then go through recovery.
func (s *Service) SyncUser(ctx context.Context, actorID *primitive.ObjectID, userID primitive.ObjectID) (models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if u.Kind != models.UserKindExtranet {
		return models.User{}, ErrNotExtranetMember
	}
	synced, err := s.sync(ctx, u)
	s.audit.UserSynced(ctx, actorID, u.ID, err)
	return synced, err
}

func (s *Service) sync(ctx context.Context, u *models.User) (models.User, error) {
	info, err := s.extranet.CheckLicence(ctx, u.Licence)
	if err != nil {
		return models.User{}, err
	}
	if !info.ValidAt(s.now()) {
		return models.User{}, ErrLicenceInvalid
	}
	ui, err := s.extranet.FetchUserInfo(ctx, u.Licence)
	if err != nil {
		return models.User{}, err
	}
	if normalize.Email(ui.Email) != u.Mail {
		return models.User{}, ErrMailChanged
	}
	if err := s.users.ApplyExtranet(ctx, u.ID, extranetFields(u.Licence, ui, info)); err != nil {
		return models.User{}, err
	}
	updated, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return models.User{}, err
	}
	return *updated, nil
}

// Login checks local credentials. The login is a mail or a licence number.
func (s *Service) Login(ctx context.Context, login, password string) (models.User, error) {
	var (
		u   *models.User
		err error
	)
	if strings.Contains(login, "@") {
		u, err = s.users.GetByMail(ctx, login)
	} else {
		u, err = s.users.GetByLicence(ctx, licence.Normalize(login))
	}
	if errors.Is(err, userstore.ErrNotFound) {
		return models.User{}, ErrBadCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if !userstore.CheckPassword(u, password) {
		return models.User{}, ErrBadCredentials
	}
	if !u.Enabled {
		return models.User{}, ErrAccountDisabled
	}
	return *u, nil
}

func extranetFields(number string, ui extranet.UserInfo, info licence.Info) userstore.ExtranetFields {
	return userstore.ExtranetFields{
		Licence:               number,
		FirstName:             ui.FirstName,
		LastName:              ui.LastName,
		Mail:                  ui.Email,
		DateOfBirth:           ui.DateOfBirth,
		Gender:                ui.Gender,
		Phone:                 ui.Phone,
		EmergencyContactName:  ui.EmergencyContactName,
		EmergencyContactPhone: ui.EmergencyContactPhone,
		LicenceCategory:       ui.LicenceCategory,
		LicenceExpiryDate:     info.Expiry(),
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func humanDuration(d time.Duration) string {
	if h := int(d.Hours()); h >= 1 {
		if h == 1 {
			return "1 hour"
		}
		return strconv.Itoa(h) + " hours"
	}
	return strconv.Itoa(int(d.Minutes())) + " minutes"
}
