// internal/domain/models/configuration.go
package models

import "time"

// ConfigType is the value type of a configuration item.
type ConfigType int

const (
	ConfigInt      ConfigType = 0
	ConfigFloat    ConfigType = 1
	ConfigBool     ConfigType = 2
	ConfigString   ConfigType = 3
	ConfigLongText ConfigType = 4
)

// ConfigurationItem is one hot-reloadable business setting, editable by
// administrators and cached in-process with a TTL.
type ConfigurationItem struct {
	Name        string     `bson:"_id" json:"name" yaml:"name"`
	Type        ConfigType `bson:"type" json:"type" yaml:"type"`
	Value       string     `bson:"value" json:"value" yaml:"value"`
	Description string     `bson:"description" json:"description" yaml:"description"`
	Hidden      bool       `bson:"hidden" json:"hidden" yaml:"hidden"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at" yaml:"-"`
}

// Well-known configuration item names.
const (
	ConfClubName                     = "CLUB_NAME"
	ConfLateUnregistrationThreshold  = "LATE_UNREGISTRATION_THRESHOLD" // hours
	ConfUnregistrationGracePeriod    = "UNREGISTRATION_GRACE_PERIOD"   // hours
	ConfNumWarningsBeforeSuspension  = "NUM_WARNINGS_BEFORE_SUSPENSION"
	ConfSuspensionDuration           = "SUSPENSION_DURATION" // weeks
	ConfPaymentTermsVersion          = "PAYMENT_TERMS_VERSION"
	ConfSelfRegistrationConflictsOff = "SELF_REGISTRATION_ALLOW_CONFLICTS"
)
