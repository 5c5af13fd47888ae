// internal/app/features/authoauth/handler.go
package authoauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/collectives/internal/app/store/oauthstate"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config holds the Auth0 application settings.
type Config struct {
	Domain       string // tenant domain, e.g. "club.eu.auth0.com"
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// Handler handles Auth0 OAuth authentication.
type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	AuditLog   *auditlog.Logger
	StateStore *oauthstate.Store
	Users      *userstore.Store

	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "https://club.example/auth/auth0/callback"
	Issuer       string
	Endpoint     oauth2.Endpoint
}

// NewHandler creates a new Auth0 handler.
func NewHandler(
	cfg Config,
	sessionMgr *auth.SessionManager,
	audit *auditlog.Logger,
	stateStore *oauthstate.Store,
	users *userstore.Store,
	logger *zap.Logger,
) *Handler {
	base := "https://" + strings.TrimSuffix(cfg.Domain, "/")
	return &Handler{
		Log:          logger,
		SessionMgr:   sessionMgr,
		AuditLog:     audit,
		StateStore:   stateStore,
		Users:        users,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/auth0/callback",
		Issuer:       base + "/",
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/authorize",
			TokenURL: base + "/oauth/token",
		},
	}
}

func (h *Handler) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RedirectURL:  h.RedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     h.Endpoint,
	}
}

// IsConfigured returns true if Auth0 is configured.
func (h *Handler) IsConfigured() bool {
	return h.ClientID != "" && h.ClientSecret != "" && h.Endpoint.TokenURL != ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/auth0/login                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Auth0 not configured")
		redirectToLogin(w, r, "auth0_not_configured")
		return
	}

	state, err := randomString()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	nonce, err := randomString()
	if err != nil {
		h.Log.Error("failed to generate OAuth nonce", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	returnURL := query.Get(r, "return")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	expiresAt := time.Now().UTC().Add(10 * time.Minute)
	if err := h.StateStore.Save(ctx, state, nonce, returnURL, expiresAt); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}

	url := h.oauth2Config().AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	h.Log.Debug("initiating Auth0 flow", zap.String("return_url", returnURL))
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/auth0/callback                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		h.Log.Warn("Auth0 error",
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		redirectToLogin(w, r, "auth0_denied")
		return
	}

	state := q.Get("state")
	if state == "" {
		redirectToLogin(w, r, "invalid_state")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Remote())
	defer cancel()

	st, valid, err := h.StateStore.Validate(ctx, state)
	if err != nil {
		h.Log.Error("failed to validate OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		redirectToLogin(w, r, "invalid_state")
		return
	}

	code := q.Get("code")
	if code == "" {
		redirectToLogin(w, r, "invalid_code")
		return
	}
	token, err := h.oauth2Config().Exchange(ctx, code)
	if err != nil {
		h.Log.Error("failed to exchange OAuth code", zap.Error(err))
		redirectToLogin(w, r, "token_exchange")
		return
	}
	raw, _ := token.Extra("id_token").(string)
	claims, err := h.parseIDToken(raw, st.Nonce)
	if err != nil {
		h.Log.Warn("rejected ID token", zap.Error(err))
		redirectToLogin(w, r, "invalid_token")
		return
	}

	u, err := h.findUser(ctx, claims)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		h.Log.Info("Auth0: no linked account", zap.String("sub", claims.Subject))
		h.AuditLog.LoginFailed(ctx, r, nil, claims.Email, "no account")
		redirectToLogin(w, r, "no_account")
		return
	case err != nil:
		h.Log.Error("failed to look up user", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	if !u.Enabled {
		h.AuditLog.LoginFailed(ctx, r, &u.ID, claims.Email, "account disabled")
		redirectToLogin(w, r, "account_disabled")
		return
	}

	if err := h.SessionMgr.SignIn(w, r, u.ID.Hex()); err != nil {
		h.Log.Error("save session failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		redirectToLogin(w, r, "session")
		return
	}
	h.AuditLog.LoginSuccess(ctx, r, u.ID, "auth0", claims.Email)
	h.Log.Info("user logged in via Auth0", zap.String("user_id", u.ID.Hex()))

	http.Redirect(w, r, urlutil.SafeReturn(st.ReturnURL, "", "/"), http.StatusSeeOther)
}

/*─────────────────────────────────────────────────────────────────────────────*
| ID token and user lookup                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

type idClaims struct {
	jwt.RegisteredClaims
	Nonce         string `json:"nonce"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// parseIDToken verifies an HS256 ID token signed with the client secret.
func (h *Handler) parseIDToken(raw, nonce string) (*idClaims, error) {
	if raw == "" {
		return nil, errors.New("no id_token in token response")
	}
	var c idClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return []byte(h.ClientSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(h.Issuer),
		jwt.WithAudience(h.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse id_token: %w", err)
	}
	if c.Subject == "" {
		return nil, errors.New("id_token has no subject")
	}
	if c.Nonce != nonce {
		return nil, errors.New("id_token nonce mismatch")
	}
	return &c, nil
}

// findUser returns the account linked to the subject. An unlinked account
// whose mail matches a verified Auth0 mail is linked on first use.
func (h *Handler) findUser(ctx context.Context, c *idClaims) (*models.User, error) {
	u, err := h.Users.GetByAuth0ID(ctx, c.Subject)
	if err == nil || !errors.Is(err, userstore.ErrNotFound) {
		return u, err
	}
	if !c.EmailVerified {
		return nil, userstore.ErrNotFound
	}
	u, err = h.Users.GetByMail(ctx, c.Email)
	if err != nil {
		return nil, err
	}
	if u.Auth0ID != "" {
		return nil, userstore.ErrNotFound
	}
	if err := h.Users.LinkAuth0(ctx, u.ID, c.Subject); err != nil {
		return nil, err
	}
	u.Auth0ID = c.Subject
	return u, nil
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/auth/login?error="+code, http.StatusSeeOther)
}

func randomString() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
