// internal/app/features/profile/handler.go
package profile

import (
	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/services/accounts"
	badgestore "github.com/dalemusser/collectives/internal/app/store/badges"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler owns all user profile handlers.
type Handler struct {
	Accounts *accounts.Service
	Users    *userstore.Store
	Roles    *rolestore.Store
	Badges   *badgestore.Store
	Log      *zap.Logger
	ErrLog   *uierrors.ErrorLogger
}

// NewHandler constructs a Handler bound to the given Mongo database and logger.
func NewHandler(db *mongo.Database, svc *accounts.Service, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		Accounts: svc,
		Users:    userstore.New(db),
		Roles:    rolestore.New(db),
		Badges:   badgestore.New(db),
		Log:      logger,
		ErrLog:   errLog,
	}
}
