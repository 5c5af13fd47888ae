// internal/app/features/login/handler.go
package login

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Login / login: What members type to sign in, an e-mail or a licence number

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/services/accounts"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/dalemusser/collectives/internal/app/system/ratelimit"
	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/waffle/toolkit/validate"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Accounts   *accounts.Service
	SessionMgr *auth.SessionManager
	Limiter    *ratelimit.LoginLimiter
	AuditLog   *auditlog.Logger
	ErrLog     *uierrors.ErrorLogger
	Log        *zap.Logger
}

func NewHandler(
	svc *accounts.Service,
	sessionMgr *auth.SessionManager,
	limiter *ratelimit.LoginLimiter,
	audit *auditlog.Logger,
	errLog *uierrors.ErrorLogger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		Accounts:   svc,
		SessionMgr: sessionMgr,
		Limiter:    limiter,
		AuditLog:   audit,
		ErrLog:     errLog,
		Log:        logger,
	}
}

type userResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandleLoginPost handles POST /auth/login.
func (h *Handler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	login := strings.TrimSpace(r.PostForm.Get("login"))
	password := r.PostForm.Get("password")
	if login == "" || password == "" {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Please enter your login and password."})
		return
	}

	if ok, msg := h.Limiter.Check(r, login); !ok {
		h.AuditLog.LoginFailedRateLimit(r.Context(), r, login)
		uierrors.JSON(w, http.StatusTooManyRequests, uierrors.Body{Error: msg})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Accounts.Login(ctx, login, password)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrBadCredentials):
			h.AuditLog.LoginFailed(ctx, r, nil, login, "bad credentials")
		case errors.Is(err, accounts.ErrAccountDisabled):
			h.AuditLog.LoginFailed(ctx, r, nil, login, "account disabled")
		}
		h.ErrLog.Respond(w, r, "login failed", err)
		return
	}

	h.signIn(w, r, u, "password", login)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, u models.User, method, login string) {
	if err := h.SessionMgr.SignIn(w, r, u.ID.Hex()); err != nil {
		h.ErrLog.LogServerError(w, r, "save session failed", err, "Unable to create session. Please try again.")
		return
	}
	h.Limiter.ResetLoginID(login)
	h.AuditLog.LoginSuccess(r.Context(), r, u.ID, method, login)
	h.Log.Info("signed in", zap.String("user_id", u.ID.Hex()), zap.String("method", method))
	uierrors.OK(w, userResponse{ID: u.ID.Hex(), Name: u.FullName()})
}

// HandleSignup handles POST /auth/signup.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	h.handleRequest(w, r, false)
}

// HandleRecover handles POST /auth/recover.
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	h.handleRequest(w, r, true)
}

// handleRequest reads the licence, mail and date_of_birth (YYYY-MM-DD) form
// values and mails a confirmation link.
func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request, recovery bool) {
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	req := accounts.Request{
		Licence: strings.TrimSpace(r.PostForm.Get("licence")),
		Mail:    strings.TrimSpace(r.PostForm.Get("mail")),
	}
	if req.Licence == "" || req.Mail == "" {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Licence and e-mail are required."})
		return
	}
	if !validate.SimpleEmailValid(req.Mail) {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "A valid e-mail address is required."})
		return
	}
	dob, err := time.Parse(time.DateOnly, r.PostForm.Get("date_of_birth"))
	if err != nil {
		h.ErrLog.LogBadRequest(w, r, "bad date of birth", err, "Date of birth must be YYYY-MM-DD.")
		return
	}
	req.DateOfBirth = dob

	if ok, msg := h.Limiter.Check(r, req.Licence); !ok {
		uierrors.JSON(w, http.StatusTooManyRequests, uierrors.Body{Error: msg})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Remote())
	defer cancel()

	var tok models.ConfirmationToken
	if recovery {
		tok, err = h.Accounts.RequestRecovery(ctx, req)
	} else {
		tok, err = h.Accounts.RequestSignup(ctx, req)
	}
	h.AuditLog.SignupRequested(ctx, r, req.Licence, recovery, err)
	if err != nil {
		h.ErrLog.Respond(w, r, "confirmation request failed", err)
		return
	}
	uierrors.OK(w, map[string]any{
		"expires_at":   tok.ExpiresAt,
		"email_status": emailStatus(tok.EmailStatus),
	})
}

func emailStatus(s models.EmailStatus) string {
	switch s {
	case models.EmailSuccess:
		return "sent"
	case models.EmailFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ServeConfirmation handles GET /auth/process_confirmation/{token}: it tells
// whether the token is still valid and what confirming it does.
func (h *Handler) ServeConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	tok, err := h.Accounts.Token(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.ErrLog.Respond(w, r, "load confirmation token failed", err)
		return
	}
	kind := "activate"
	if tok.Type == models.TokenRecoverAccount {
		kind = "recover"
	}
	uierrors.OK(w, map[string]any{
		"type":       kind,
		"licence":    tok.Licence,
		"expires_at": tok.ExpiresAt,
	})
}

// HandleConfirmation handles POST /auth/process_confirmation/{token} with a
// password form value. The new or recovered member is signed in.
func (h *Handler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	token := chi.URLParam(r, "token")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Remote())
	defer cancel()

	tok, err := h.Accounts.Token(ctx, token)
	if err != nil {
		h.ErrLog.Respond(w, r, "load confirmation token failed", err)
		return
	}
	u, err := h.Accounts.Confirm(ctx, token, r.PostForm.Get("password"))
	if err != nil {
		h.ErrLog.Respond(w, r, "confirmation failed", err)
		return
	}
	h.AuditLog.AccountActivated(ctx, r, u.ID, tok.Type == models.TokenRecoverAccount)
	h.signIn(w, r, u, "confirmation", u.Licence)
}
