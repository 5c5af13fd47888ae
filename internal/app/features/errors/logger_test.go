package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	uierrors "github.com/dalemusser/collectives/internal/app/features/errors"
	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	regsvc "github.com/dalemusser/collectives/internal/app/services/registrations"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing event", fmt.Errorf("load: %w", eventstore.ErrNotFound), http.StatusNotFound},
		{"not allowed", eventpolicy.ErrPermissionDenied, http.StatusForbidden},
		{"duplicate registration", regsvc.ErrDuplicateRegistration, http.StatusConflict},
		{"write conflict", fmt.Errorf("commit: %w", mongo.CommandError{Code: 112, Name: "WriteConflict"}), http.StatusConflict},
		{"item of another event", fmt.Errorf("%w: x", pricingsvc.ErrInvalidItem), http.StatusUnprocessableEntity},
		{"processor down", payline.ErrUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := uierrors.Classify(tt.err)
			if got != tt.want {
				t.Errorf("Classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}

	if _, body := uierrors.Classify(mongo.CommandError{Code: 112}); body.Error != "concurrent update, try again" {
		t.Errorf("write conflict body = %q", body.Error)
	}
}

func TestRespond_HidesInternalErrors(t *testing.T) {
	el := uierrors.NewErrorLogger(zap.NewNop())
	rec := httptest.NewRecorder()
	el.Respond(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "failed", errors.New("secret dsn"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("body leaks the error: %s", rec.Body.String())
	}
}
