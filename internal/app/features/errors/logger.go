// internal/app/features/errors/logger.go
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	"github.com/dalemusser/collectives/internal/app/services/accounts"
	eventsvc "github.com/dalemusser/collectives/internal/app/services/events"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	regsvc "github.com/dalemusser/collectives/internal/app/services/registrations"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	paymentitemstore "github.com/dalemusser/collectives/internal/app/store/paymentitems"
	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	tokenstore "github.com/dalemusser/collectives/internal/app/store/tokens"
	usergroupstore "github.com/dalemusser/collectives/internal/app/store/usergroups"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/extranet"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"go.uber.org/zap"
)

// ErrorLogger logs handler failures and writes the matching JSON reply.
type ErrorLogger struct {
	Log *zap.Logger
}

// NewErrorLogger creates an ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	return &ErrorLogger{Log: logger}
}

// LogBadRequest replies 400 with userMsg.
func (e *ErrorLogger) LogBadRequest(w http.ResponseWriter, r *http.Request, msg string, err error, userMsg string) {
	e.Log.Debug(msg, zap.Error(err), zap.String("path", r.URL.Path))
	JSON(w, http.StatusBadRequest, Body{Error: userMsg})
}

// LogServerError replies 500 with userMsg; err is logged, never returned.
func (e *ErrorLogger) LogServerError(w http.ResponseWriter, r *http.Request, msg string, err error, userMsg string) {
	e.Log.Error(msg, zap.Error(err), zap.String("path", r.URL.Path))
	JSON(w, http.StatusInternalServerError, Body{Error: userMsg})
}

// Respond maps a service error to its status and writes it. Unknown errors
// are logged and reported as 500.
func (e *ErrorLogger) Respond(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, body := Classify(err)
	if status == http.StatusInternalServerError {
		e.LogServerError(w, r, msg, err, "An internal error occurred.")
		return
	}
	e.Log.Info(msg, zap.Int("status", status), zap.Error(err), zap.String("path", r.URL.Path))
	JSON(w, status, body)
}

// Classify returns the HTTP status and body for err.
func Classify(err error) (int, Body) {
	body := Body{Error: err.Error()}

	if check, ok := regsvc.FailedCheck(err); ok {
		body.Check = string(check)
		return http.StatusUnprocessableEntity, body
	}
	var ve *eventsvc.ValidationError
	if stderrors.As(err, &ve) {
		body.Problems = ve.Problems
		return http.StatusUnprocessableEntity, body
	}

	switch {
	case isAny(err,
		eventstore.ErrNotFound, registrationstore.ErrNotFound, paymentstore.ErrNotFound,
		paymentitemstore.ErrNotFound, userstore.ErrNotFound, usergroupstore.ErrNotFound):
		return http.StatusNotFound, body

	case isAny(err, eventpolicy.ErrPermissionDenied, paymentsvc.ErrNotBuyer, accounts.ErrAccountDisabled):
		return http.StatusForbidden, body

	case isAny(err, accounts.ErrBadCredentials):
		return http.StatusUnauthorized, body

	case isAny(err,
		regsvc.ErrDuplicateRegistration, regsvc.ErrOverbooked, eventsvc.ErrAlreadyCancelled,
		paymentsvc.ErrNotPending, paymentsvc.ErrNotInitiated, paymentsvc.ErrNotRefundable,
		paymentstore.ErrStateChanged, userstore.ErrDuplicate,
		accounts.ErrAccountExists, accounts.ErrMailChanged):
		return http.StatusConflict, body

	case txn.IsWriteConflict(err):
		return http.StatusConflict, Body{Error: "concurrent update, try again"}

	case isAny(err, accounts.ErrInvalidToken, paymentsvc.ErrInvalidToken, tokenstore.ErrNotFound):
		return http.StatusBadRequest, body

	case isAny(err, accounts.ErrTooManyRequests):
		return http.StatusTooManyRequests, body

	case isAny(err,
		paymentsvc.ErrPriceUnavailable, paymentsvc.ErrInvalidOfflineType, pricingsvc.ErrInvalidItem,
		accounts.ErrMismatch, accounts.ErrLicenceInvalid, accounts.ErrNotClubLicence,
		accounts.ErrNoExtranetMail, accounts.ErrNoAccount, accounts.ErrAmbiguousAccount,
		accounts.ErrWeakPassword, accounts.ErrNotExtranetMember, extranet.ErrOtherClub):
		return http.StatusUnprocessableEntity, body

	case isAny(err, paymentsvc.ErrProcessorRefused, paymentsvc.ErrRefundRefused):
		return http.StatusBadGateway, body

	case isAny(err, payline.ErrUnavailable, extranet.ErrUnavailable):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, Body{Error: "internal error"}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if stderrors.Is(err, t) {
			return true
		}
	}
	return false
}
