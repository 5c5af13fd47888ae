// internal/app/bootstrap/seed.go
package bootstrap

import (
	"context"
	_ "embed"
	"fmt"

	activitytypestore "github.com/dalemusser/collectives/internal/app/store/activitytypes"
	"github.com/dalemusser/collectives/internal/app/store/configuration"
	eventtypestore "github.com/dalemusser/collectives/internal/app/store/eventtypes"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults is the reference data seeded into a fresh database.
type Defaults struct {
	ActivityTypes []activityTypeDef          `yaml:"activity_types"`
	EventTypes    []eventTypeDef             `yaml:"event_types"`
	Configuration []models.ConfigurationItem `yaml:"configuration"`
}

type activityTypeDef struct {
	Name       string `yaml:"name"`
	Short      string `yaml:"short"`
	Kind       string `yaml:"kind"` // "" or "regular", "service"
	Order      int    `yaml:"order"`
	Deprecated bool   `yaml:"deprecated"`
}

type eventTypeDef struct {
	Name              string   `yaml:"name"`
	Short             string   `yaml:"short"`
	RequiresActivity  bool     `yaml:"requires_activity"`
	AttendanceCounted bool     `yaml:"attendance_counted"`
	LicenceCategories []string `yaml:"licence_categories"`
	TermsTitle        string   `yaml:"terms_title"`
	TermsURL          string   `yaml:"terms_url"`
}

// DefaultDefaults parses the embedded reference data.
func DefaultDefaults() (*Defaults, error) {
	return ParseDefaults(defaultsYAML)
}

// ParseDefaults parses reference data in the defaults.yaml format.
func ParseDefaults(data []byte) (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse defaults: %w", err)
	}
	for _, it := range d.Configuration {
		if it.Name == "" {
			return nil, fmt.Errorf("parse defaults: configuration item without name")
		}
		if it.Type < models.ConfigInt || it.Type > models.ConfigLongText {
			return nil, fmt.Errorf("parse defaults: %s: unknown type %d", it.Name, it.Type)
		}
	}
	for _, a := range d.ActivityTypes {
		if _, err := a.kind(); err != nil {
			return nil, fmt.Errorf("parse defaults: %s: %w", a.Name, err)
		}
	}
	return &d, nil
}

func (a activityTypeDef) kind() (models.ActivityKind, error) {
	switch a.Kind {
	case "", "regular":
		return models.ActivityRegular, nil
	case "service":
		return models.ActivityService, nil
	}
	return 0, fmt.Errorf("unknown activity kind %q", a.Kind)
}

func (d *Defaults) activityTypes() []models.ActivityType {
	out := make([]models.ActivityType, 0, len(d.ActivityTypes))
	for _, a := range d.ActivityTypes {
		k, _ := a.kind()
		out = append(out, models.ActivityType{
			Name:       a.Name,
			Short:      a.Short,
			Kind:       k,
			Order:      a.Order,
			Deprecated: a.Deprecated,
		})
	}
	return out
}

func (d *Defaults) eventTypes() []models.EventType {
	out := make([]models.EventType, 0, len(d.EventTypes))
	for _, e := range d.EventTypes {
		out = append(out, models.EventType{
			Name:              e.Name,
			Short:             e.Short,
			RequiresActivity:  e.RequiresActivity,
			AttendanceCounted: e.AttendanceCounted,
			LicenceCategories: e.LicenceCategories,
			TermsTitle:        e.TermsTitle,
			TermsURL:          e.TermsURL,
		})
	}
	return out
}

// SeedResult counts what a seed run inserted.
type SeedResult struct {
	ActivityTypes int
	EventTypes    int
	Configuration int
}

// Seed inserts missing activity types, event types and configuration items.
func Seed(ctx context.Context, db *mongo.Database, d *Defaults, logger *zap.Logger) (SeedResult, error) {
	var res SeedResult
	var err error

	if res.ActivityTypes, err = activitytypestore.New(db).Seed(ctx, d.activityTypes()); err != nil {
		return res, fmt.Errorf("seed activity types: %w", err)
	}
	if res.EventTypes, err = eventtypestore.New(db).Seed(ctx, d.eventTypes()); err != nil {
		return res, fmt.Errorf("seed event types: %w", err)
	}
	if res.Configuration, err = configuration.New(db).Seed(ctx, d.Configuration, false); err != nil {
		return res, fmt.Errorf("seed configuration: %w", err)
	}

	logger.Info("reference data seeded",
		zap.Int("activity_types", res.ActivityTypes),
		zap.Int("event_types", res.EventTypes),
		zap.Int("configuration", res.Configuration))
	return res, nil
}

// ReloadConfiguration upserts the configuration items of d. Stored values are
// kept unless force is set.
func ReloadConfiguration(ctx context.Context, db *mongo.Database, d *Defaults, force bool, logger *zap.Logger) (int, error) {
	n, err := configuration.New(db).Seed(ctx, d.Configuration, force)
	if err != nil {
		return n, fmt.Errorf("reload configuration: %w", err)
	}
	logger.Info("configuration reloaded",
		zap.Int("items", len(d.Configuration)),
		zap.Int("inserted", n),
		zap.Bool("force", force))
	return n, nil
}
