// internal/app/features/webhooks/handler.go
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodySize bounds a webhook payload; Auth0 events are a few kilobytes.
const maxBodySize = 1 << 20

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Auth0-Signature"

// Config holds the Auth0 webhook settings.
type Config struct {
	Enabled bool
	// Secret signs payloads. Empty skips verification (development only).
	Secret string
}

// Handler receives identity provider webhooks.
type Handler struct {
	Users    *userstore.Store
	AuditLog *auditlog.Logger
	Log      *zap.Logger

	enabled bool
	secret  []byte
}

func NewHandler(users *userstore.Store, audit *auditlog.Logger, cfg Config, logger *zap.Logger) *Handler {
	if cfg.Enabled && cfg.Secret == "" {
		logger.Warn("Auth0 webhook secret not configured, signatures are not verified")
	}
	return &Handler{
		Users:    users,
		AuditLog: audit,
		Log:      logger,
		enabled:  cfg.Enabled,
		secret:   []byte(cfg.Secret),
	}
}

type event struct {
	Type string `json:"type"`
	Data struct {
		UserID string `json:"user_id"`
	} `json:"data"`
}

// HandleWebhook handles POST /api/webhooks/{provider}.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "provider") != "auth0" {
		uierrors.JSON(w, http.StatusNotFound, uierrors.Body{Error: "unknown provider"})
		return
	}
	if !h.enabled {
		h.Log.Warn("received Auth0 webhook but Auth0 is disabled")
		uierrors.JSON(w, http.StatusForbidden, uierrors.Body{Error: "Auth0 not enabled"})
		return
	}

	// HMAC verification needs the raw bytes.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.Log.Error("webhook: failed to read body", zap.Error(err))
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "unreadable body"})
		return
	}
	if err := verifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		h.Log.Warn("webhook: signature verification failed",
			zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		uierrors.JSON(w, http.StatusUnauthorized, uierrors.Body{Error: "Invalid signature"})
		return
	}
	if len(body) == 0 {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Empty payload"})
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Invalid JSON"})
		return
	}
	if ev.Type == "" {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Missing event type"})
		return
	}
	h.Log.Info("webhook received", zap.String("event_type", ev.Type))

	switch ev.Type {
	case "user.deleted":
		h.userDeleted(w, r, ev)
	default:
		uierrors.OK(w, map[string]string{
			"status":  "ignored",
			"message": fmt.Sprintf("Event type %s not supported", ev.Type),
		})
	}
}

// userDeleted disables the account linked to the deleted identity and
// clears the link.
func (h *Handler) userDeleted(w http.ResponseWriter, r *http.Request, ev event) {
	sub := strings.TrimSpace(ev.Data.UserID)
	if sub == "" {
		uierrors.JSON(w, http.StatusBadRequest, uierrors.Body{Error: "Missing user_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.DisableByAuth0ID(ctx, sub)
	if errors.Is(err, userstore.ErrNotFound) {
		h.Log.Warn("webhook: no user linked to deleted identity", zap.String("sub", sub))
		uierrors.Status(w, "not_found")
		return
	}
	if err != nil {
		h.Log.Error("webhook: disable user failed", zap.String("sub", sub), zap.Error(err))
		uierrors.JSON(w, http.StatusInternalServerError, uierrors.Body{Error: "Database error"})
		return
	}

	h.AuditLog.ExternalIDCleared(ctx, r, u.ID, "auth0")
	h.Log.Info("disabled user after Auth0 deletion", zap.String("user_id", u.ID.Hex()))
	uierrors.OK(w, map[string]string{"status": "ok", "user_id": u.ID.Hex()})
}

// verifySignature checks a hex HMAC-SHA256 of body, with or without a
// "sha256=" prefix. An empty secret accepts every payload.
func verifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return nil
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return errors.New("missing signature")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(got, mac.Sum(nil)) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}
