// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables (COLLECTIVES_*), configuration
// files, or command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig
// covers ports, TLS, logging and CORS; everything here is specific to the
// club: the database, sessions, mail, and the three remote systems the app
// talks to (extranet, payment processor, Auth0).
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: collectives-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime

	// Email/SMTP configuration
	MailSMTPHost string
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Base URL for e-mail links and payment return URLs
	BaseURL string // e.g., "https://collectives.example.org"

	// Audit logging modes: all, db, log or off
	AuditLogAuth          string
	AuditLogRegistrations string
	AuditLogPayments      string

	// Extranet (licence directory)
	ExtranetEndpoint      string
	ExtranetNamespace     string
	ExtranetAccount       string
	ExtranetPassword      string
	ExtranetDisabled      bool
	ExtranetLicencePrefix string // club prefix; members of other clubs are refused

	// Payment processor
	PaymentsEndpoint     string
	PaymentsNamespace    string
	PaymentsMerchantID   string
	PaymentsAccessKey    string
	PaymentsContract     string
	PaymentsMerchantName string
	PaymentsCurrency     string // ISO 4217 numeric code sent to the processor
	PaymentsVersion      string
	PaymentsDisabled     bool
	PaymentsOrderPrefix  string

	// Payment poller
	PaymentPollInterval  time.Duration // 0 disables the poller
	PaymentPollOlderThan time.Duration

	// Auth0
	Auth0Domain         string
	Auth0ClientID       string
	Auth0ClientSecret   string
	Auth0WebhookSecret  string
	Auth0WebhookEnabled bool

	// Confirmation links (account activation and recovery)
	TokenTTL time.Duration

	// Business settings cache
	SettingsCacheTTL time.Duration
}
