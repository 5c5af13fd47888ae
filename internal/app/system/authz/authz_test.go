package authz_test

import (
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/dalemusser/collectives/internal/app/system/authz"
)

const testUserID = "507f1f77bcf86cd799439011"

func TestUserCtx(t *testing.T) {
	tests := []struct {
		name     string
		user     *auth.SessionUser
		wantRole string
		wantOK   bool
	}{
		{"no user", nil, "visitor", false},
		{"member", &auth.SessionUser{ID: testUserID, Name: "Anne", Role: "Member"}, "member", true},
		{"malformed id", &auth.SessionUser{ID: "nope", Role: "admin"}, "visitor", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.user != nil {
				req = auth.WithTestUser(req, tt.user)
			}
			role, _, id, ok := authz.UserCtx(req)
			if role != tt.wantRole || ok != tt.wantOK {
				t.Errorf("UserCtx = (%q, %v), want (%q, %v)", role, ok, tt.wantRole, tt.wantOK)
			}
			if ok && id.Hex() != testUserID {
				t.Errorf("unexpected id %s", id.Hex())
			}
		})
	}
}

func TestIsModerator(t *testing.T) {
	for role, want := range map[string]bool{"admin": true, "moderator": true, "member": false} {
		req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{ID: testUserID, Role: role})
		if got := authz.IsModerator(req); got != want {
			t.Errorf("IsModerator(%s) = %v, want %v", role, got, want)
		}
	}
	if authz.IsAdmin(httptest.NewRequest("GET", "/", nil)) {
		t.Error("anonymous request is not admin")
	}
}
