// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/dalemusser/collectives/internal/app/store/audit"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
//
// Each field is one of "all" (MongoDB + zap), "db" (MongoDB only),
// "log" (zap only) or "off".
type Config struct {
	// Auth covers logins, logouts, signups, recoveries and extranet syncs.
	Auth string
	// Registrations covers registrations, status changes and sanctions.
	Registrations string
	// Payments covers payment lifecycle and refunds.
	Payments string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// getClientIP extracts the client IP from the request. A nil request
// (service-initiated events) has no IP.
func getClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func userAgent(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.UserAgent()
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.ClubEventID != nil {
		fields = append(fields, zap.String("event_id", event.ClubEventID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// ValidMode reports whether mode is one of all, db, log or off.
func ValidMode(mode string) bool {
	switch mode {
	case "all", "db", "log", "off":
		return true
	}
	return false
}

func (l *Logger) setting(category string) string {
	switch category {
	case audit.CategoryAuth:
		return l.config.Auth
	case audit.CategoryRegistration, audit.CategorySanction:
		return l.config.Registrations
	case audit.CategoryPayment:
		return l.config.Payments
	}
	return "all"
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	setting := l.setting(event.Category)
	if setting == "off" {
		return
	}
	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// --- Authentication Events ---

// LoginSuccess logs a successful login.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, authMethod, loginID string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginSuccess,
		UserID:    &userID,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
		Details: map[string]string{
			"auth_method": authMethod,
			"login_id":    loginID,
		},
	})
}

// LoginFailed logs a failed login. userID is nil when no account matched.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, userID *primitive.ObjectID, loginID, reason string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailed,
		UserID:        userID,
		IP:            getClientIP(r),
		UserAgent:     userAgent(r),
		Success:       false,
		FailureReason: reason,
		Details:       map[string]string{"login_id": loginID},
	})
}

// LoginFailedRateLimit logs a login refused by the per-IP limiter.
func (l *Logger) LoginFailedRateLimit(ctx context.Context, r *http.Request, loginID string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailedRateLimit,
		IP:            getClientIP(r),
		UserAgent:     userAgent(r),
		Success:       false,
		FailureReason: "rate limited",
		Details:       map[string]string{"login_id": loginID},
	})
}

// Logout logs a user logout. Invalid ids are logged without a user.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userIDStr string) {
	var userID *primitive.ObjectID
	if oid, err := primitive.ObjectIDFromHex(userIDStr); err == nil {
		userID = &oid
	}
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLogout,
		UserID:    userID,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
	})
}

// SignupRequested logs a signup or recovery request for a licence number.
func (l *Logger) SignupRequested(ctx context.Context, r *http.Request, licence string, recovery bool, err error) {
	ev := audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventSignupRequested,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   err == nil,
		Details:   map[string]string{"licence": licence},
	}
	if recovery {
		ev.EventType = audit.EventRecoveryRequested
	}
	if err != nil {
		ev.FailureReason = err.Error()
	}
	l.Log(ctx, ev)
}

// AccountActivated logs a confirmed signup or recovery.
func (l *Logger) AccountActivated(ctx context.Context, r *http.Request, userID primitive.ObjectID, recovery bool) {
	ev := audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventAccountActivated,
		UserID:    &userID,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
	}
	if recovery {
		ev.EventType = audit.EventAccountRecovered
	}
	l.Log(ctx, ev)
}

// UserSynced logs an extranet synchronisation of a user record.
func (l *Logger) UserSynced(ctx context.Context, actorID *primitive.ObjectID, userID primitive.ObjectID, err error) {
	ev := audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventUserSynced,
		UserID:    &userID,
		ActorID:   actorID,
		Success:   err == nil,
	}
	if err != nil {
		ev.FailureReason = err.Error()
	}
	l.Log(ctx, ev)
}

// ExternalIDCleared logs the removal of an identity provider link.
func (l *Logger) ExternalIDCleared(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventExternalIDCleared,
		UserID:    &userID,
		IP:        getClientIP(r),
		Success:   true,
		Details:   map[string]string{"provider": provider},
	})
}

// --- Registration Events ---

func regEvent(eventType string, actorID *primitive.ObjectID, reg models.Registration) audit.Event {
	return audit.Event{
		Category:    audit.CategoryRegistration,
		EventType:   eventType,
		UserID:      &reg.UserID,
		ActorID:     actorID,
		ClubEventID: &reg.EventID,
		Success:     true,
		Details: map[string]string{
			"registration_id": reg.ID.Hex(),
			"status":          reg.Status.String(),
			"is_self":         strconv.FormatBool(reg.IsSelf),
		},
	}
}

// Registered logs an admitted registration. actorID is nil for self-registrations.
func (l *Logger) Registered(ctx context.Context, actorID *primitive.ObjectID, reg models.Registration) {
	l.Log(ctx, regEvent(audit.EventRegistered, actorID, reg))
}

// Unregistered logs a self-unregistration, with its outcome status.
func (l *Logger) Unregistered(ctx context.Context, reg models.Registration, late bool) {
	ev := regEvent(audit.EventUnregistered, nil, reg)
	ev.Details["late"] = strconv.FormatBool(late)
	l.Log(ctx, ev)
}

// StatusChanged logs a leader-driven status change.
func (l *Logger) StatusChanged(ctx context.Context, actorID primitive.ObjectID, reg models.Registration, from models.RegistrationStatus) {
	ev := regEvent(audit.EventStatusChanged, &actorID, reg)
	ev.Details["from"] = from.String()
	l.Log(ctx, ev)
}

// RegistrationDeleted logs the removal of a registration row.
func (l *Logger) RegistrationDeleted(ctx context.Context, actorID *primitive.ObjectID, reg models.Registration) {
	l.Log(ctx, regEvent(audit.EventRegistrationDeleted, actorID, reg))
}

// Promoted logs a waiting-list promotion.
func (l *Logger) Promoted(ctx context.Context, reg models.Registration) {
	l.Log(ctx, regEvent(audit.EventPromoted, nil, reg))
}

// --- Sanction Events ---

// SanctionApplied logs one badge created by the sanction logic.
func (l *Logger) SanctionApplied(ctx context.Context, b models.Badge) {
	details := map[string]string{
		"badge_kind": b.Kind.String(),
		"level":      strconv.Itoa(b.LevelOrZero()),
	}
	if b.RegistrationID != nil {
		details["registration_id"] = b.RegistrationID.Hex()
	}
	l.Log(ctx, audit.Event{
		Category:  audit.CategorySanction,
		EventType: audit.EventSanctionApplied,
		UserID:    &b.UserID,
		Success:   true,
		Details:   details,
	})
}

// SanctionReversed logs the deletion of sanction badges for a registration.
func (l *Logger) SanctionReversed(ctx context.Context, actorID primitive.ObjectID, reg models.Registration, count int) {
	l.Log(ctx, audit.Event{
		Category:    audit.CategorySanction,
		EventType:   audit.EventSanctionReversed,
		UserID:      &reg.UserID,
		ActorID:     &actorID,
		ClubEventID: &reg.EventID,
		Success:     true,
		Details: map[string]string{
			"registration_id": reg.ID.Hex(),
			"badges":          strconv.Itoa(count),
		},
	})
}

// --- Payment Events ---

func paymentEvent(eventType string, actorID *primitive.ObjectID, p models.Payment) audit.Event {
	return audit.Event{
		Category:    audit.CategoryPayment,
		EventType:   eventType,
		UserID:      &p.BuyerID,
		ActorID:     actorID,
		ClubEventID: &p.EventID,
		Success:     true,
		Details: map[string]string{
			"payment_id": p.ID.Hex(),
			"type":       p.Type.String(),
			"status":     p.Status.String(),
			"amount":     strconv.FormatInt(p.AmountCharged, 10),
			"order_ref":  p.ProcessorOrderRef,
		},
	}
}

// PaymentInitiated logs the creation of an online payment.
func (l *Logger) PaymentInitiated(ctx context.Context, p models.Payment) {
	l.Log(ctx, paymentEvent(audit.EventPaymentInitiated, nil, p))
}

// PaymentFinalized logs a payment leaving the Initiated state.
func (l *Logger) PaymentFinalized(ctx context.Context, p models.Payment) {
	ev := paymentEvent(audit.EventPaymentFinalized, nil, p)
	ev.Success = p.Status == models.PaymentApproved
	if !ev.Success {
		ev.FailureReason = p.Status.String()
	}
	l.Log(ctx, ev)
}

// Refunded logs a refund attempt.
func (l *Logger) Refunded(ctx context.Context, actorID primitive.ObjectID, p models.Payment, err error) {
	ev := paymentEvent(audit.EventPaymentRefunded, &actorID, p)
	if err != nil {
		ev.Success = false
		ev.FailureReason = err.Error()
	}
	l.Log(ctx, ev)
}

// OfflineReported logs a payment reported by hand.
func (l *Logger) OfflineReported(ctx context.Context, reporterID primitive.ObjectID, p models.Payment) {
	l.Log(ctx, paymentEvent(audit.EventOfflineReported, &reporterID, p))
}
