package configcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"go.uber.org/zap"
)

type fakeSource struct {
	items map[string]string
	calls int
}

func (f *fakeSource) Get(_ context.Context, name string) (models.ConfigurationItem, error) {
	f.calls++
	v, ok := f.items[name]
	if !ok {
		return models.ConfigurationItem{}, errors.New("not found")
	}
	return models.ConfigurationItem{Name: name, Value: v}, nil
}

func TestCache_TTLAndInvalidate(t *testing.T) {
	src := &fakeSource{items: map[string]string{"N": "3"}}
	c := New(src, time.Minute, zap.NewNop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if got := c.Int(ctx, "N", 0); got != 3 {
		t.Fatalf("Int = %d, want 3", got)
	}
	src.items["N"] = "5"
	if got := c.Int(ctx, "N", 0); got != 3 {
		t.Errorf("cached Int = %d, want 3", got)
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}

	now = now.Add(2 * time.Minute)
	if got := c.Int(ctx, "N", 0); got != 5 {
		t.Errorf("Int after TTL = %d, want 5", got)
	}

	src.items["N"] = "7"
	c.Invalidate()
	if got := c.Int(ctx, "N", 0); got != 7 {
		t.Errorf("Int after Invalidate = %d, want 7", got)
	}
}

func TestCache_DefaultsAndParsing(t *testing.T) {
	src := &fakeSource{items: map[string]string{
		"BAD":                                  "x",
		"FLAG":                                 "true",
		models.ConfLateUnregistrationThreshold: "24",
		models.ConfSuspensionDuration:          "2",
		models.ConfNumWarningsBeforeSuspension: " 4 ",
	}}
	c := New(src, time.Minute, zap.NewNop())
	ctx := context.Background()

	if got := c.Int(ctx, "BAD", 9); got != 9 {
		t.Errorf("malformed Int = %d, want default", got)
	}
	if got := c.Int(ctx, "MISSING", 9); got != 9 {
		t.Errorf("missing Int = %d, want default", got)
	}
	if !c.Bool(ctx, "FLAG", false) {
		t.Error("Bool FLAG = false")
	}
	if got := c.String(ctx, "MISSING", "d"); got != "d" {
		t.Errorf("String default = %q", got)
	}

	rs := c.RegistrationSettings(ctx)
	if rs.LateThreshold != 24*time.Hour || rs.GracePeriod != DefaultGracePeriodHours*time.Hour {
		t.Errorf("RegistrationSettings = %+v", rs)
	}
	ss := c.SanctionSettings(ctx)
	if ss.WarningsBeforeSuspension != 4 || ss.SuspensionDuration != 14*24*time.Hour {
		t.Errorf("SanctionSettings = %+v", ss)
	}
}
