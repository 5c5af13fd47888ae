// Package sanctions plans the warning and suspension badges that follow an
// unjustified absence or a late self-unregistration, and their reversal.
//
// Sanction badges point back at the registration that caused them, so that
// re-classifying the registration removes exactly what it produced.
package sanctions

import (
	"sort"
	"time"

	"github.com/dalemusser/collectives/internal/domain/licence"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Settings are the club-wide sanction thresholds.
type Settings struct {
	WarningsBeforeSuspension int
	SuspensionDuration       time.Duration
}

// ActiveBadges returns the badges of the given kind still valid at t.
func ActiveBadges(badges []models.Badge, kind models.BadgeKind, t time.Time) []models.Badge {
	var out []models.Badge
	for _, b := range badges {
		if b.Kind == kind && !b.ExpiredAt(t) {
			out = append(out, b)
		}
	}
	return out
}

// CausedBy returns the sanction badges produced by the registration.
func CausedBy(badges []models.Badge, regID primitive.ObjectID) []models.Badge {
	var out []models.Badge
	for _, b := range badges {
		if b.Kind.IsSanction() && b.RegistrationID != nil && *b.RegistrationID == regID {
			out = append(out, b)
		}
	}
	return out
}

func createdAt(b models.Badge) time.Time {
	if b.CreatedAt == nil {
		return time.Time{}
	}
	return *b.CreatedAt
}

// lastSuspension returns the creation time of the most recent Suspended
// badge, zero when there is none.
func lastSuspension(badges []models.Badge) time.Time {
	var last time.Time
	for _, b := range badges {
		if b.Kind == models.BadgeSuspended && createdAt(b).After(last) {
			last = createdAt(b)
		}
	}
	return last
}

// Plan returns the badges to create for the user after reg entered a
// sanctioned status at now. existing are all the user's badges.
//
// Nothing is planned while the user is suspended or when reg already caused
// sanctions. A Suspended badge is planned once enough valid warnings have
// accumulated since the last suspension; a warning is always planned.
func Plan(existing []models.Badge, reg models.Registration, now time.Time, s Settings) []models.Badge {
	if len(ActiveBadges(existing, models.BadgeSuspended, now)) > 0 {
		return nil
	}
	if len(CausedBy(existing, reg.ID)) > 0 {
		return nil
	}

	warnings := ActiveBadges(existing, models.BadgeUnjustifiedAbsenceWarning, now)
	since := lastSuspension(existing)
	pending := 0
	for _, w := range warnings {
		if createdAt(w).After(since) {
			pending++
		}
	}

	created := now
	regID := reg.ID
	today := dayOf(now)

	var out []models.Badge
	if s.WarningsBeforeSuspension > 0 && pending >= s.WarningsBeforeSuspension {
		suspensions := 0
		for _, b := range existing {
			if b.Kind == models.BadgeSuspended {
				suspensions++
			}
		}
		level := suspensions + 1
		expiry := today.Add(s.SuspensionDuration)
		out = append(out, models.Badge{
			UserID:         reg.UserID,
			Kind:           models.BadgeSuspended,
			Level:          &level,
			ExpirationDate: &expiry,
			CreatedAt:      &created,
			RegistrationID: &regID,
		})
	}

	level := len(warnings) + 1
	expiry := licence.NextExpiryMonthStart(now)
	out = append(out, models.Badge{
		UserID:         reg.UserID,
		Kind:           models.BadgeUnjustifiedAbsenceWarning,
		Level:          &level,
		ExpirationDate: &expiry,
		CreatedAt:      &created,
		RegistrationID: &regID,
	})
	return out
}

// PlanReversal returns the ids of the badges to delete when reg leaves a
// sanctioned status: every badge it caused and, when it caused a warning,
// the first Suspended badge caused by a later registration, since that
// suspension counted the warning being withdrawn.
func PlanReversal(existing []models.Badge, reg models.Registration) []primitive.ObjectID {
	caused := CausedBy(existing, reg.ID)
	if len(caused) == 0 {
		return nil
	}

	var ids []primitive.ObjectID
	var warnedAt time.Time
	warned := false
	for _, b := range caused {
		ids = append(ids, b.ID)
		if b.Kind == models.BadgeUnjustifiedAbsenceWarning {
			warned = true
			warnedAt = createdAt(b)
		}
	}
	if !warned {
		return ids
	}

	var later []models.Badge
	for _, b := range existing {
		if b.Kind != models.BadgeSuspended || b.RegistrationID == nil || *b.RegistrationID == reg.ID {
			continue
		}
		if createdAt(b).After(warnedAt) {
			later = append(later, b)
		}
	}
	if len(later) > 0 {
		sort.SliceStable(later, func(i, j int) bool { return createdAt(later[i]).Before(createdAt(later[j])) })
		ids = append(ids, later[0].ID)
	}
	return ids
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
