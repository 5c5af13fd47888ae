// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	authoauthfeature "github.com/dalemusser/collectives/internal/app/features/authoauth"
	errorsfeature "github.com/dalemusser/collectives/internal/app/features/errors"
	eventsfeature "github.com/dalemusser/collectives/internal/app/features/events"
	healthfeature "github.com/dalemusser/collectives/internal/app/features/health"
	loginfeature "github.com/dalemusser/collectives/internal/app/features/login"
	logoutfeature "github.com/dalemusser/collectives/internal/app/features/logout"
	paymentsfeature "github.com/dalemusser/collectives/internal/app/features/payments"
	profilefeature "github.com/dalemusser/collectives/internal/app/features/profile"
	registrationsfeature "github.com/dalemusser/collectives/internal/app/features/registrations"
	webhooksfeature "github.com/dalemusser/collectives/internal/app/features/webhooks"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	"github.com/dalemusser/collectives/internal/app/store/oauthstate"
	rolestore "github.com/dalemusser/collectives/internal/app/store/roles"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/dalemusser/collectives/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed. Every route answers JSON or redirects;
// the session middleware makes the current member available to all
// handlers via auth.CurrentUser(r).
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	s := appServices
	if s == nil {
		var err error
		if s, err = buildServices(appCfg, deps, logger); err != nil {
			return nil, err
		}
		appServices = s
	}
	return newRouter(coreCfg.Env == "prod", appCfg, deps, s, logger)
}

func newRouter(secure bool, appCfg AppConfig, deps DBDeps, s *services, logger *zap.Logger) (http.Handler, error) {
	db := deps.MongoDatabase

	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// Fresh user data on each request: role changes and disabled accounts
	// take effect immediately.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(db))

	errLog := errorsfeature.NewErrorLogger(logger)
	users := userstore.New(db)
	roles := rolestore.New(db)
	events := eventstore.New(db)

	r := chi.NewRouter()
	r.Use(sessionMgr.LoadSessionUser)

	healthHandler := healthfeature.NewHandler(deps.MongoClient, !appCfg.ExtranetDisabled, !appCfg.PaymentsDisabled, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Authentication
	loginHandler := loginfeature.NewHandler(s.accounts, sessionMgr, ratelimit.NewLoginLimiter(), s.audit, errLog, logger)
	r.Mount("/auth", loginfeature.Routes(loginHandler))

	auth0Handler := authoauthfeature.NewHandler(authoauthfeature.Config{
		Domain:       appCfg.Auth0Domain,
		ClientID:     appCfg.Auth0ClientID,
		ClientSecret: appCfg.Auth0ClientSecret,
		BaseURL:      appCfg.BaseURL,
	}, sessionMgr, s.audit, oauthstate.New(db), users, logger)
	r.Mount("/auth/auth0", authoauthfeature.Routes(auth0Handler))

	logoutfeature.MountRoutes(r, logoutfeature.NewHandler(sessionMgr, s.audit, logger), sessionMgr)

	// Profile and extranet sync
	profilefeature.MountRoutes(r, profilefeature.NewHandler(db, s.accounts, errLog, logger), sessionMgr)

	// Events, registrations and payments
	eventsfeature.MountRoutes(r, eventsfeature.NewHandler(s.events, roles, errLog, logger), sessionMgr)
	registrationsfeature.MountRoutes(r, registrationsfeature.NewHandler(s.registrations, roles, errLog, logger), sessionMgr)
	paymentsfeature.MountRoutes(r, paymentsfeature.NewHandler(s.payments, s.pricing, events, roles, errLog, logger), sessionMgr)

	// Identity provider webhooks
	webhooksfeature.MountRoutes(r, webhooksfeature.NewHandler(users, s.audit, webhooksfeature.Config{
		Enabled: appCfg.Auth0WebhookEnabled,
		Secret:  appCfg.Auth0WebhookSecret,
	}, logger))

	// Error targets of the session middleware
	errorsHandler := errorsfeature.NewHandler()
	r.Get("/forbidden", errorsHandler.Forbidden)
	r.Get("/unauthorized", errorsHandler.Unauthorized)
	r.NotFound(errorsHandler.NotFound)

	return r, nil
}
