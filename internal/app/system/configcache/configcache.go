// Package configcache keeps hot-reloadable business settings in memory.
//
// Each key is fetched from the configuration collection at most once per TTL.
// Administrators editing a value call Invalidate so the next read refreshes.
package configcache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/domain/registrations"
	"github.com/dalemusser/collectives/internal/domain/sanctions"
	"go.uber.org/zap"
)

// Source loads one configuration item. *configuration.Store implements it.
type Source interface {
	Get(ctx context.Context, name string) (models.ConfigurationItem, error)
}

type entry struct {
	value   string
	ok      bool
	fetched time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	src Source
	ttl time.Duration
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a cache reading from src.
func New(src Source, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		log:     logger,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Invalidate drops every cached value.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// raw returns the stored string value; ok is false when the item is missing
// or cannot be read. Lookup errors are logged and not cached.
func (c *Cache) raw(ctx context.Context, name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.entries[name]; found && c.now().Sub(e.fetched) < c.ttl {
		return e.value, e.ok
	}

	item, err := c.src.Get(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		// missing items are cached as absent
		c.entries[name] = entry{fetched: c.now()}
		c.log.Debug("configuration item unavailable", zap.String("name", name), zap.Error(err))
		return "", false
	}
	c.entries[name] = entry{value: item.Value, ok: true, fetched: c.now()}
	return item.Value, true
}

// String returns the value of name, def when missing.
func (c *Cache) String(ctx context.Context, name, def string) string {
	if v, ok := c.raw(ctx, name); ok {
		return v
	}
	return def
}

// Int returns the integer value of name, def when missing or malformed.
func (c *Cache) Int(ctx context.Context, name string, def int) int {
	v, ok := c.raw(ctx, name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.log.Warn("configuration item is not an integer", zap.String("name", name), zap.String("value", v))
		return def
	}
	return n
}

// Bool returns the boolean value of name, def when missing or malformed.
func (c *Cache) Bool(ctx context.Context, name string, def bool) bool {
	v, ok := c.raw(ctx, name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Hours reads an integer number of hours.
func (c *Cache) Hours(ctx context.Context, name string, def int) time.Duration {
	return time.Duration(c.Int(ctx, name, def)) * time.Hour
}

// Weeks reads an integer number of weeks.
func (c *Cache) Weeks(ctx context.Context, name string, def int) time.Duration {
	return time.Duration(c.Int(ctx, name, def)) * 7 * 24 * time.Hour
}

// Default values used when the configuration collection has not been seeded.
const (
	DefaultLateThresholdHours = 48
	DefaultGracePeriodHours   = 1
	DefaultWarnings           = 2
	DefaultSuspensionWeeks    = 4
)

// RegistrationSettings returns the current unregistration timing rules.
func (c *Cache) RegistrationSettings(ctx context.Context) registrations.Settings {
	return registrations.Settings{
		LateThreshold: c.Hours(ctx, models.ConfLateUnregistrationThreshold, DefaultLateThresholdHours),
		GracePeriod:   c.Hours(ctx, models.ConfUnregistrationGracePeriod, DefaultGracePeriodHours),
	}
}

// SanctionSettings returns the current warning and suspension rules.
func (c *Cache) SanctionSettings(ctx context.Context) sanctions.Settings {
	return sanctions.Settings{
		WarningsBeforeSuspension: c.Int(ctx, models.ConfNumWarningsBeforeSuspension, DefaultWarnings),
		SuspensionDuration:       c.Weeks(ctx, models.ConfSuspensionDuration, DefaultSuspensionWeeks),
	}
}

// ClubName returns the display name used in e-mails.
func (c *Cache) ClubName(ctx context.Context) string {
	return c.String(ctx, models.ConfClubName, "Club")
}
