// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for collectives.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: COLLECTIVES_MONGO_URI, COLLECTIVES_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "collectives", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "collectives-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime (e.g., 24h, 720h)"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@collectives.local", Desc: "From email address"},
	{Name: "mail_from_name", Default: "Collectives", Desc: "From display name"},

	// Base URL for email links and payment return URLs
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public base URL of the site"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_registrations", Default: "all", Desc: "Registration event logging: 'all', 'db', 'log', or 'off'"},
	{Name: "audit_log_payments", Default: "all", Desc: "Payment event logging: 'all', 'db', 'log', or 'off'"},

	// Extranet
	{Name: "extranet_endpoint", Default: "https://extranet-clubalpin.com/app/soap/extranet_pro.php", Desc: "Extranet SOAP endpoint"},
	{Name: "extranet_namespace", Default: "http://extranet-clubalpin.com/app/soap", Desc: "Extranet SOAP namespace"},
	{Name: "extranet_account", Default: "", Desc: "Extranet API account"},
	{Name: "extranet_password", Default: "", Desc: "Extranet API password"},
	{Name: "extranet_disabled", Default: false, Desc: "Serve development data instead of calling the extranet"},
	{Name: "extranet_licence_prefix", Default: "", Desc: "Club prefix of licence numbers (blank accepts every club)"},

	// Payment processor
	{Name: "payments_endpoint", Default: "https://homologation.payline.com/V4/services/WebPaymentAPI", Desc: "Payment processor SOAP endpoint"},
	{Name: "payments_namespace", Default: "http://impl.ws.payline.experian.com", Desc: "Payment processor SOAP namespace"},
	{Name: "payments_merchant_id", Default: "", Desc: "Payment processor merchant id"},
	{Name: "payments_access_key", Default: "", Desc: "Payment processor access key"},
	{Name: "payments_contract", Default: "", Desc: "Payment processor contract number"},
	{Name: "payments_merchant_name", Default: "", Desc: "Merchant name shown on the payment page"},
	{Name: "payments_currency", Default: "978", Desc: "ISO 4217 numeric currency code (978 = EUR)"},
	{Name: "payments_version", Default: "26", Desc: "Payment processor API version"},
	{Name: "payments_disabled", Default: true, Desc: "Accept every payment without calling the processor"},
	{Name: "payments_order_prefix", Default: "", Desc: "Prefix of payment order references"},
	{Name: "payment_poll_interval", Default: "10m", Desc: "How often stale online payments are re-queried (0 disables)"},
	{Name: "payment_poll_older_than", Default: "1h", Desc: "Age after which an initiated online payment is re-queried"},

	// Auth0
	{Name: "auth0_domain", Default: "", Desc: "Auth0 tenant domain"},
	{Name: "auth0_client_id", Default: "", Desc: "Auth0 application client ID"},
	{Name: "auth0_client_secret", Default: "", Desc: "Auth0 application client secret"},
	{Name: "auth0_webhook_secret", Default: "", Desc: "Shared secret of Auth0 webhook signatures (blank skips verification)"},
	{Name: "auth0_webhook_enabled", Default: false, Desc: "Accept Auth0 webhooks"},

	// Confirmation links
	{Name: "token_ttl", Default: "2h", Desc: "Account activation/recovery link lifetime (e.g., 2h, 30m)"},

	// Business settings cache
	{Name: "settings_cache_ttl", Default: "1m", Desc: "How long configuration items are cached"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, COLLECTIVES_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "COLLECTIVES", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),
		SessionMaxAge:    appValues.Duration("session_max_age", 30*24*time.Hour),

		// Email/SMTP
		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL: appValues.String("base_url"),

		// Audit logging
		AuditLogAuth:          appValues.String("audit_log_auth"),
		AuditLogRegistrations: appValues.String("audit_log_registrations"),
		AuditLogPayments:      appValues.String("audit_log_payments"),

		// Extranet
		ExtranetEndpoint:      appValues.String("extranet_endpoint"),
		ExtranetNamespace:     appValues.String("extranet_namespace"),
		ExtranetAccount:       appValues.String("extranet_account"),
		ExtranetPassword:      appValues.String("extranet_password"),
		ExtranetDisabled:      appValues.Bool("extranet_disabled"),
		ExtranetLicencePrefix: appValues.String("extranet_licence_prefix"),

		// Payment processor
		PaymentsEndpoint:     appValues.String("payments_endpoint"),
		PaymentsNamespace:    appValues.String("payments_namespace"),
		PaymentsMerchantID:   appValues.String("payments_merchant_id"),
		PaymentsAccessKey:    appValues.String("payments_access_key"),
		PaymentsContract:     appValues.String("payments_contract"),
		PaymentsMerchantName: appValues.String("payments_merchant_name"),
		PaymentsCurrency:     appValues.String("payments_currency"),
		PaymentsVersion:      appValues.String("payments_version"),
		PaymentsDisabled:     appValues.Bool("payments_disabled"),
		PaymentsOrderPrefix:  appValues.String("payments_order_prefix"),
		PaymentPollInterval:  appValues.Duration("payment_poll_interval", 10*time.Minute),
		PaymentPollOlderThan: appValues.Duration("payment_poll_older_than", time.Hour),

		// Auth0
		Auth0Domain:         appValues.String("auth0_domain"),
		Auth0ClientID:       appValues.String("auth0_client_id"),
		Auth0ClientSecret:   appValues.String("auth0_client_secret"),
		Auth0WebhookSecret:  appValues.String("auth0_webhook_secret"),
		Auth0WebhookEnabled: appValues.Bool("auth0_webhook_enabled"),

		TokenTTL:         appValues.Duration("token_ttl", 2*time.Hour),
		SettingsCacheTTL: appValues.Duration("settings_cache_ttl", time.Minute),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// It rejects a malformed MongoDB URI, unknown audit modes, and remote
// integrations that are switched on without credentials.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(appCfg)
}

func validateApp(appCfg AppConfig) error {
	var errs []error
	for name, mode := range map[string]string{
		"audit_log_auth":          appCfg.AuditLogAuth,
		"audit_log_registrations": appCfg.AuditLogRegistrations,
		"audit_log_payments":      appCfg.AuditLogPayments,
	} {
		if !auditlog.ValidMode(mode) {
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", name, mode))
		}
	}
	if !appCfg.PaymentsDisabled {
		if appCfg.PaymentsMerchantID == "" || appCfg.PaymentsAccessKey == "" || appCfg.PaymentsContract == "" {
			errs = append(errs, errors.New("payments enabled without payments_merchant_id, payments_access_key and payments_contract"))
		}
	}
	if !appCfg.ExtranetDisabled && (appCfg.ExtranetAccount == "" || appCfg.ExtranetPassword == "") {
		errs = append(errs, errors.New("extranet enabled without extranet_account and extranet_password"))
	}
	if appCfg.Auth0Domain != "" && (appCfg.Auth0ClientID == "" || appCfg.Auth0ClientSecret == "") {
		errs = append(errs, errors.New("auth0_domain set without auth0_client_id and auth0_client_secret"))
	}
	if appCfg.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	return errors.Join(errs...)
}
