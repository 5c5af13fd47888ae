// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"time"

	"github.com/dalemusser/collectives/internal/app/services/accounts"
	eventsvc "github.com/dalemusser/collectives/internal/app/services/events"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	regsvc "github.com/dalemusser/collectives/internal/app/services/registrations"
	sanctionsvc "github.com/dalemusser/collectives/internal/app/services/sanctions"
	"github.com/dalemusser/collectives/internal/app/store/audit"
	"github.com/dalemusser/collectives/internal/app/store/configuration"
	tokenstore "github.com/dalemusser/collectives/internal/app/store/tokens"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/extranet"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"github.com/dalemusser/collectives/internal/app/system/ratelimit"
	"github.com/dalemusser/collectives/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// services is the application object graph shared by BuildHandler and
// Shutdown. It is built once in Startup.
type services struct {
	settings *configcache.Cache
	audit    *auditlog.Logger
	mail     mailer.Sender

	extranet *extranet.SOAPClient
	payline  *payline.SOAPClient

	accounts      *accounts.Service
	pricing       *pricingsvc.Service
	payments      *paymentsvc.Service
	sanctions     *sanctionsvc.Service
	registrations *regsvc.Service
	events        *eventsvc.Service

	poller *workers.PaymentPoller
}

var appServices *services

// Startup builds the services once the database is ready and starts the
// payment poller.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	s, err := buildServices(appCfg, deps, logger)
	if err != nil {
		return err
	}
	if s.poller != nil {
		s.poller.Start()
	}
	appServices = s
	return nil
}

// buildServices wires stores, remote clients and services together. The
// waiting-list promoter is set on payments once registrations exist.
func buildServices(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*services, error) {
	db := deps.MongoDatabase

	roleMap, err := extranet.DefaultRoleMap()
	if err != nil {
		logger.Error("extranet role map invalid", zap.Error(err))
		return nil, err
	}
	codes, err := payline.DefaultCodes()
	if err != nil {
		logger.Error("payment reason codes invalid", zap.Error(err))
		return nil, err
	}

	s := &services{
		settings: configcache.New(configuration.New(db), appCfg.SettingsCacheTTL, logger),
		audit: auditlog.New(audit.New(db), logger, auditlog.Config{
			Auth:          appCfg.AuditLogAuth,
			Registrations: appCfg.AuditLogRegistrations,
			Payments:      appCfg.AuditLogPayments,
		}),
		mail: mailer.New(mailer.Config{
			Host:     appCfg.MailSMTPHost,
			Port:     appCfg.MailSMTPPort,
			User:     appCfg.MailSMTPUser,
			Pass:     appCfg.MailSMTPPass,
			From:     appCfg.MailFrom,
			FromName: appCfg.MailFromName,
		}, logger),
		extranet: extranet.New(extranet.Config{
			Endpoint:  appCfg.ExtranetEndpoint,
			Namespace: appCfg.ExtranetNamespace,
			Account:   appCfg.ExtranetAccount,
			Password:  appCfg.ExtranetPassword,
			Disabled:  appCfg.ExtranetDisabled,
		}, logger),
		payline: payline.New(payline.Config{
			Endpoint:       appCfg.PaymentsEndpoint,
			Namespace:      appCfg.PaymentsNamespace,
			MerchantID:     appCfg.PaymentsMerchantID,
			AccessKey:      appCfg.PaymentsAccessKey,
			ContractNumber: appCfg.PaymentsContract,
			Currency:       appCfg.PaymentsCurrency,
			Version:        appCfg.PaymentsVersion,
			MerchantName:   appCfg.PaymentsMerchantName,
			Disabled:       appCfg.PaymentsDisabled,
		}, logger),
	}

	s.accounts = accounts.New(db, tokenstore.New(db, appCfg.TokenTTL), accounts.Deps{
		Extranet: s.extranet,
		RoleMap:  roleMap,
		Settings: s.settings,
		Mail:     s.mail,
		Audit:    s.audit,
		Throttle: ratelimit.New(5, time.Hour),
	}, accounts.Config{
		BaseURL:       appCfg.BaseURL,
		LicencePrefix: appCfg.ExtranetLicencePrefix,
	}, logger)

	s.pricing = pricingsvc.New(db, logger)
	s.payments = paymentsvc.New(db, paymentsvc.Deps{
		Pricing:  s.pricing,
		Client:   s.payline,
		Codes:    codes,
		Settings: s.settings,
		Mail:     s.mail,
		Audit:    s.audit,
	}, paymentsvc.Config{
		BaseURL:     appCfg.BaseURL,
		OrderPrefix: appCfg.PaymentsOrderPrefix,
	}, logger)
	s.sanctions = sanctionsvc.New(db, s.settings, s.audit, appCfg.BaseURL, logger)
	s.registrations = regsvc.New(db, regsvc.Deps{
		Pricing:   s.pricing,
		Sanctions: s.sanctions,
		Settings:  s.settings,
		Mail:      s.mail,
		Audit:     s.audit,
		BaseURL:   appCfg.BaseURL,
	}, logger)
	s.payments.SetPromoter(s.registrations)
	s.events = eventsvc.New(db, s.pricing, s.payments, s.registrations, logger)

	if appCfg.PaymentPollInterval > 0 && !appCfg.PaymentsDisabled {
		s.poller = workers.NewPaymentPoller(s.payments, logger, appCfg.PaymentPollInterval, appCfg.PaymentPollOlderThan)
	}
	return s, nil
}
