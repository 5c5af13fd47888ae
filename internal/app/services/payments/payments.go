// Package payments drives online payments through the processor, records
// offline payments and issues refunds.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	activitytypestore "github.com/dalemusser/collectives/internal/app/store/activitytypes"
	counterstore "github.com/dalemusser/collectives/internal/app/store/counters"
	eventstore "github.com/dalemusser/collectives/internal/app/store/events"
	paymentitemstore "github.com/dalemusser/collectives/internal/app/store/paymentitems"
	paymentstore "github.com/dalemusser/collectives/internal/app/store/payments"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	userstore "github.com/dalemusser/collectives/internal/app/store/users"
	"github.com/dalemusser/collectives/internal/app/system/auditlog"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/money"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"github.com/dalemusser/collectives/internal/app/system/txn"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrNotPending         = errors.New("registration is not waiting for a payment")
	ErrNotBuyer           = errors.New("payment belongs to another member")
	ErrNotInitiated       = errors.New("payment is not in progress")
	ErrPriceUnavailable   = errors.New("price is not available")
	ErrProcessorRefused   = errors.New("payment processor refused the request")
	ErrNotRefundable      = errors.New("payment cannot be refunded")
	ErrRefundRefused      = errors.New("refund refused by the payment processor")
	ErrInvalidToken       = errors.New("missing or unknown payment token")
	ErrInvalidOfflineType = errors.New("offline payments cannot be of type online")
)

// Callback names the processor redirection or notification that reached us.
// They all share the same handling; only the HTTP reply differs.
type Callback string

const (
	CallbackAccept  Callback = "accept"
	CallbackReject  Callback = "reject"
	CallbackTimeout Callback = "timeout"
	CallbackProcess Callback = "process"
	CallbackNotify  Callback = "notify"
)

// ParseCallback validates a callback name.
func ParseCallback(s string) (Callback, bool) {
	switch c := Callback(s); c {
	case CallbackAccept, CallbackReject, CallbackTimeout, CallbackProcess, CallbackNotify:
		return c, true
	}
	return "", false
}

// Promoter fills slots freed when a refused payment drops its registration.
type Promoter interface {
	PromoteWaiting(ctx context.Context, eventID primitive.ObjectID) ([]models.Registration, error)
}

// Config holds the service settings.
type Config struct {
	BaseURL     string
	OrderPrefix string
	Currency    string // ISO 4217 alphabetic code, for receipts
}

// Service is the payment service.
type Service struct {
	db         *mongo.Database
	events     *eventstore.Store
	activities *activitytypestore.Store
	regs       *registrationstore.Store
	users      *userstore.Store
	items      *paymentitemstore.Store
	payments   *paymentstore.Store
	counters   *counterstore.Store
	pricing    *pricingsvc.Service
	client     payline.Client
	codes      *payline.Codes
	promoter   Promoter
	settings   *configcache.Cache
	mail       mailer.Sender
	audit      *auditlog.Logger
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
}

// Deps are the collaborators of the service.
type Deps struct {
	Pricing  *pricingsvc.Service
	Client   payline.Client
	Codes    *payline.Codes
	Promoter Promoter
	Settings *configcache.Cache
	Mail     mailer.Sender
	Audit    *auditlog.Logger
}

// New creates the service.
func New(db *mongo.Database, d Deps, cfg Config, logger *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	return &Service{
		db:         db,
		events:     eventstore.New(db),
		activities: activitytypestore.New(db),
		regs:       registrationstore.New(db),
		users:      userstore.New(db),
		items:      paymentitemstore.New(db),
		payments:   paymentstore.New(db),
		counters:   counterstore.New(db),
		pricing:    d.Pricing,
		client:     d.Client,
		codes:      d.Codes,
		promoter:   d.Promoter,
		settings:   d.Settings,
		mail:       d.Mail,
		audit:      d.Audit,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetPromoter wires the waiting-list promotion after construction; the
// registration service is usually built after this one.
func (s *Service) SetPromoter(p Promoter) { s.promoter = p }

// Initiate creates an online payment for a PaymentPending registration of
// buyerID and opens a processor session for it. A zero priceID selects the
// cheapest available price. When an Initiated payment already exists it is
// resumed instead.
func (s *Service) Initiate(ctx context.Context, regID, buyerID, priceID primitive.ObjectID) (models.Payment, error) {
	reg, err := s.regs.Get(ctx, regID)
	if err != nil {
		return models.Payment{}, err
	}
	if reg.UserID != buyerID {
		return models.Payment{}, ErrNotBuyer
	}
	if reg.Status != models.RegPaymentPending {
		return models.Payment{}, ErrNotPending
	}
	existing, err := s.payments.ForRegistration(ctx, reg.ID)
	if err != nil {
		return models.Payment{}, err
	}
	for _, p := range existing {
		if p.Status == models.PaymentInitiated && p.Type == models.PaymentOnline {
			return s.Resume(ctx, p.ID, buyerID)
		}
	}

	ev, err := s.events.Get(ctx, reg.EventID)
	if err != nil {
		return models.Payment{}, err
	}
	offer, ok, err := s.pricing.Select(ctx, ev, buyerID, priceID)
	if err != nil {
		return models.Payment{}, err
	}
	if !ok {
		return models.Payment{}, ErrPriceUnavailable
	}
	p, err := s.payments.Create(ctx, models.Payment{
		RegistrationID: reg.ID,
		EventID:        ev.ID,
		ItemID:         offer.Item.ID,
		ItemPriceID:    offer.Price.ID,
		BuyerID:        buyerID,
		Type:           models.PaymentOnline,
		Status:         models.PaymentInitiated,
		AmountCharged:  offer.Price.Amount,
		CreationTime:   s.now().UTC(),
		TermsVersion:   s.settings.String(ctx, models.ConfPaymentTermsVersion, ""),
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.audit.PaymentInitiated(ctx, p)
	return s.Resume(ctx, p.ID, buyerID)
}

// Resume returns an Initiated payment of callerID ready to be paid: free
// payments are approved on the spot, payments without a processor session
// get one, the others are returned as they are.
func (s *Service) Resume(ctx context.Context, paymentID, callerID primitive.ObjectID) (models.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return models.Payment{}, err
	}
	if p.BuyerID != callerID {
		return models.Payment{}, ErrNotBuyer
	}
	if p.Status != models.PaymentInitiated {
		return models.Payment{}, ErrNotInitiated
	}
	if p.AmountCharged == 0 {
		return s.approveFree(ctx, p)
	}
	if p.ProcessorURL != "" {
		return p, nil
	}

	ev, err := s.events.Get(ctx, p.EventID)
	if err != nil {
		return models.Payment{}, err
	}
	buyer, err := s.users.GetByID(ctx, p.BuyerID)
	if err != nil {
		return models.Payment{}, err
	}
	ref, err := s.orderRef(ctx, ev)
	if err != nil {
		return models.Payment{}, err
	}
	acc, err := s.client.DoWebPayment(ctx,
		payline.Order{Ref: ref, Amount: p.AmountCharged, Date: s.now()},
		buyerInfo(buyer),
		s.urls(p.ID),
		[]payline.PrivateData{
			{Key: "payment_id", Value: p.ID.Hex()},
			{Key: "event_id", Value: ev.ID.Hex()},
		})
	if err != nil {
		return models.Payment{}, err
	}
	if !acc.OK() {
		s.log.Error("payment request refused",
			zap.String("payment_id", p.ID.Hex()),
			zap.String("code", acc.Code),
			zap.String("message", acc.LongMessage))
		return models.Payment{}, ErrProcessorRefused
	}
	if err := s.payments.SetProcessor(ctx, p.ID, acc.Token, acc.RedirectURL, ref); err != nil {
		return models.Payment{}, err
	}
	p.ProcessorToken = acc.Token
	p.ProcessorURL = acc.RedirectURL
	p.ProcessorOrderRef = ref
	s.log.Info("payment session opened",
		zap.String("payment_id", p.ID.Hex()),
		zap.String("order_ref", ref))
	return p, nil
}

func (s *Service) approveFree(ctx context.Context, p models.Payment) (models.Payment, error) {
	var updated models.Payment
	err := txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		u, err := s.payments.Finalize(ctx, p.ID, models.PaymentApproved, 0, "{}")
		if err != nil {
			return err
		}
		updated = u
		return s.activate(ctx, u.RegistrationID)
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.audit.PaymentFinalized(ctx, updated)
	return updated, nil
}

// HandleCallback finalizes the payment behind token from the processor's
// own account of it. Callbacks for payments already finalized, or still in
// progress at the processor, leave them untouched. A non-zero paymentID
// must match the token.
func (s *Service) HandleCallback(ctx context.Context, kind Callback, paymentID primitive.ObjectID, token string) (models.Payment, error) {
	if token == "" {
		return models.Payment{}, ErrInvalidToken
	}
	p, err := s.payments.GetByToken(ctx, token)
	if errors.Is(err, paymentstore.ErrNotFound) {
		s.log.Warn("payment callback with unknown token", zap.String("callback", string(kind)))
		return models.Payment{}, ErrInvalidToken
	}
	if err != nil {
		return models.Payment{}, err
	}
	if !paymentID.IsZero() && paymentID != p.ID {
		return models.Payment{}, ErrInvalidToken
	}
	if p.Status != models.PaymentInitiated {
		return p, nil
	}
	return s.process(ctx, p, string(kind))
}

// PollStale re-queries the processor for online payments still Initiated
// after olderThan, and returns how many were finalized.
func (s *Service) PollStale(ctx context.Context, olderThan time.Duration, limit int64) (int, error) {
	stale, err := s.payments.Stale(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		u, err := s.process(ctx, p, "poll")
		if err != nil {
			s.log.Warn("stale payment poll failed", zap.String("payment_id", p.ID.Hex()), zap.Error(err))
			continue
		}
		if u.Status != models.PaymentInitiated {
			n++
		}
	}
	return n, nil
}

func (s *Service) process(ctx context.Context, p models.Payment, source string) (models.Payment, error) {
	details, err := s.client.GetWebPaymentDetails(ctx, p.ProcessorToken)
	if err != nil {
		return models.Payment{}, err
	}
	status := s.codes.Status(details.Result)
	s.log.Info("payment details",
		zap.String("payment_id", p.ID.Hex()),
		zap.String("source", source),
		zap.String("code", details.Result.Code),
		zap.String("status", status.String()))
	if status == models.PaymentInitiated {
		return p, nil
	}
	return s.finalize(ctx, p, status, details)
}

// finalize records the outcome of p. Approval activates the registration
// and mails a receipt. Any other outcome drops a self-made PaymentPending
// registration that has no other outstanding payment.
func (s *Service) finalize(ctx context.Context, p models.Payment, status models.PaymentStatus, details payline.PaymentDetails) (models.Payment, error) {
	var amount int64
	if status == models.PaymentApproved {
		amount = p.AmountCharged
		if paid, ok := details.AmountPaid(); ok {
			amount = paid
		}
	}

	var (
		updated models.Payment
		freed   bool
	)
	err := txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		freed = false
		u, err := s.payments.Finalize(ctx, p.ID, status, amount, details.JSON())
		if err != nil {
			return err
		}
		updated = u
		if status == models.PaymentApproved {
			return s.activate(ctx, u.RegistrationID)
		}
		freed, err = s.dropRegistration(ctx, u)
		return err
	})
	if errors.Is(err, paymentstore.ErrStateChanged) {
		return s.payments.Get(ctx, p.ID)
	}
	if err != nil {
		return models.Payment{}, err
	}

	s.audit.PaymentFinalized(ctx, updated)
	if updated.Status == models.PaymentApproved {
		if to, data, ok := s.receipt(ctx, updated); ok {
			mailer.SendLogged(s.mail, mailer.BuildReceiptEmail(to, data), s.log)
		}
	}
	if freed && s.promoter != nil {
		if _, err := s.promoter.PromoteWaiting(ctx, updated.EventID); err != nil {
			s.log.Error("promotion after refused payment", zap.String("event_id", updated.EventID.Hex()), zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) activate(ctx context.Context, regID primitive.ObjectID) error {
	reg, err := s.regs.Get(ctx, regID)
	if errors.Is(err, registrationstore.ErrNotFound) {
		s.log.Warn("approved payment without registration", zap.String("registration_id", regID.Hex()))
		return nil
	}
	if err != nil {
		return err
	}
	if reg.Status != models.RegPaymentPending {
		s.log.Warn("approved payment for a registration not waiting for it",
			zap.String("registration_id", reg.ID.Hex()),
			zap.String("status", reg.Status.String()))
		return nil
	}
	return s.regs.SetStatus(ctx, reg.ID, models.RegActive)
}

func (s *Service) dropRegistration(ctx context.Context, p models.Payment) (bool, error) {
	reg, err := s.regs.Get(ctx, p.RegistrationID)
	if errors.Is(err, registrationstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !reg.IsSelf || reg.Status != models.RegPaymentPending {
		return false, nil
	}
	others, err := s.payments.ForRegistration(ctx, reg.ID)
	if err != nil {
		return false, err
	}
	for _, o := range others {
		if o.ID != p.ID && (o.Status == models.PaymentInitiated || o.Status == models.PaymentApproved) {
			return false, nil
		}
	}
	if err := s.regs.Delete(ctx, reg.ID); err != nil {
		return false, err
	}
	s.audit.RegistrationDeleted(ctx, nil, reg)
	return true, nil
}

// Refund returns an approved online payment to the buyer. The transaction
// is reset when the processor still allows it, refunded otherwise.
func (s *Service) Refund(ctx context.Context, actor eventpolicy.Actor, paymentID primitive.ObjectID) (models.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return models.Payment{}, err
	}
	ev, err := s.events.Get(ctx, p.EventID)
	if err != nil {
		return models.Payment{}, err
	}
	if err := eventpolicy.CanHandlePayments(actor, ev); err != nil {
		return models.Payment{}, err
	}
	return s.refund(ctx, actor, p)
}

// RefundSummary counts the outcome of RefundAll.
type RefundSummary struct {
	Total    int `json:"total"`
	Refunded int `json:"refunded"`
}

// RefundAll refunds every approved online payment of an event. Failures do
// not stop the run; they are joined in the returned error.
func (s *Service) RefundAll(ctx context.Context, actor eventpolicy.Actor, eventID primitive.ObjectID) (RefundSummary, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return RefundSummary{}, err
	}
	if err := eventpolicy.CanEdit(actor, ev); err != nil {
		return RefundSummary{}, err
	}
	approved, err := s.payments.ForEvent(ctx, ev.ID, models.PaymentApproved)
	if err != nil {
		return RefundSummary{}, err
	}
	var (
		sum  RefundSummary
		errs []error
	)
	for _, p := range approved {
		if p.Type != models.PaymentOnline {
			continue
		}
		sum.Total++
		if _, err := s.refund(ctx, actor, p); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", p.ProcessorOrderRef, err))
			continue
		}
		sum.Refunded++
	}
	s.log.Info("event payments refunded",
		zap.String("event_id", ev.ID.Hex()),
		zap.Int("refunded", sum.Refunded),
		zap.Int("total", sum.Total))
	return sum, errors.Join(errs...)
}

func (s *Service) refund(ctx context.Context, actor eventpolicy.Actor, p models.Payment) (models.Payment, error) {
	if p.Status != models.PaymentApproved || p.Type != models.PaymentOnline {
		return models.Payment{}, ErrNotRefundable
	}
	res, err := s.callRefund(ctx, p)
	if err != nil {
		s.audit.Refunded(ctx, actor.ID, p, err)
		return models.Payment{}, err
	}
	updated, err := s.payments.MarkRefunded(ctx, p.ID, res.JSON())
	if err != nil {
		return models.Payment{}, err
	}
	s.audit.Refunded(ctx, actor.ID, updated, nil)
	if to, data, ok := s.receipt(ctx, updated); ok {
		mailer.SendLogged(s.mail, mailer.BuildRefundReceiptEmail(to, data), s.log)
	}
	return updated, nil
}

func (s *Service) callRefund(ctx context.Context, p models.Payment) (payline.RefundResult, error) {
	details, err := payline.ParseDetails(p.RawMetadata)
	if err != nil {
		return payline.RefundResult{}, fmt.Errorf("%w: %v", ErrNotRefundable, err)
	}
	if details.Payment.Amount == "" {
		details.Payment.Amount = strconv.FormatInt(p.AmountPaid, 10)
	}
	res, err := s.client.DoReset(ctx, details.Transaction.ID)
	if err != nil {
		return payline.RefundResult{}, err
	}
	if res.Result.OK() {
		return res, nil
	}
	if !s.codes.ResetNeedsRefund(res.Result) {
		return res, fmt.Errorf("%w: %s %s", ErrRefundRefused, res.Result.Code, res.Result.LongMessage)
	}
	// Already remitted to the bank: only a refund can give the money back.
	res, err = s.client.DoRefund(ctx, details)
	if err != nil {
		return payline.RefundResult{}, err
	}
	if !res.Result.OK() {
		return res, fmt.Errorf("%w: %s %s", ErrRefundRefused, res.Result.Code, res.Result.LongMessage)
	}
	return res, nil
}

// OfflineReport is a payment made outside the processor, as reported by a
// leader or an accountant.
type OfflineReport struct {
	RegistrationID primitive.ObjectID
	PriceID        primitive.ObjectID
	Type           models.PaymentType
	Amount         int64
	MakeActive     bool
}

// ReportOffline records an approved offline payment for a registration and,
// when asked, activates the registration.
func (s *Service) ReportOffline(ctx context.Context, actor eventpolicy.Actor, r OfflineReport) (models.Payment, error) {
	if r.Type == models.PaymentOnline {
		return models.Payment{}, ErrInvalidOfflineType
	}
	reg, err := s.regs.Get(ctx, r.RegistrationID)
	if err != nil {
		return models.Payment{}, err
	}
	ev, err := s.events.Get(ctx, reg.EventID)
	if err != nil {
		return models.Payment{}, err
	}
	if err := eventpolicy.CanHandlePayments(actor, ev); err != nil {
		return models.Payment{}, err
	}
	item, err := s.items.GetByPrice(ctx, r.PriceID)
	if errors.Is(err, paymentitemstore.ErrNotFound) {
		return models.Payment{}, ErrPriceUnavailable
	}
	if err != nil {
		return models.Payment{}, err
	}
	price, ok := item.Price(r.PriceID)
	if !ok || item.EventID != ev.ID || !price.Enabled {
		return models.Payment{}, ErrPriceUnavailable
	}

	now := s.now().UTC()
	var created models.Payment
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		p, err := s.payments.Create(ctx, models.Payment{
			RegistrationID:   reg.ID,
			EventID:          ev.ID,
			ItemID:           item.ID,
			ItemPriceID:      price.ID,
			BuyerID:          reg.UserID,
			ReporterID:       &actor.ID,
			Type:             r.Type,
			Status:           models.PaymentApproved,
			AmountCharged:    price.Amount,
			AmountPaid:       r.Amount,
			CreationTime:     now,
			FinalizationTime: &now,
		})
		if err != nil {
			return err
		}
		created = p
		if r.MakeActive && reg.Status != models.RegActive {
			return s.regs.SetStatus(ctx, reg.ID, models.RegActive)
		}
		return nil
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.audit.OfflineReported(ctx, actor.ID, created)
	return created, nil
}

// orderRef builds "<prefix><YYYYMMDD><activity trigram><4-digit counter>".
func (s *Service) orderRef(ctx context.Context, ev models.Event) (string, error) {
	trigram := "EVT"
	if len(ev.ActivityIDs) > 0 {
		at, err := s.activities.Get(ctx, ev.ActivityIDs[0])
		if err != nil && !errors.Is(err, activitytypestore.ErrNotFound) {
			return "", err
		}
		if at.Short != "" {
			trigram = strings.ToUpper(at.Short)
		}
	}
	n, err := s.counters.Next(ctx, "payment_order")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%s%04d", s.cfg.OrderPrefix, s.now().Format("20060102"), trigram, n%10000), nil
}

func (s *Service) urls(paymentID primitive.ObjectID) payline.URLs {
	base := strings.TrimRight(s.cfg.BaseURL, "/") + "/payments/" + paymentID.Hex() + "/"
	return payline.URLs{
		Return:  base + string(CallbackProcess),
		Cancel:  base + string(CallbackReject),
		Timeout: base + string(CallbackTimeout),
		Notify:  base + string(CallbackNotify),
	}
}

func buyerInfo(u *models.User) payline.Buyer {
	b := payline.Buyer{
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Mail,
		MobilePhone: u.Phone,
	}
	switch u.Gender {
	case models.GenderWoman:
		b.Title = "MME"
	case models.GenderMan:
		b.Title = "M"
	}
	if !u.DateOfBirth.IsZero() {
		d := u.DateOfBirth
		b.BirthDate = &d
	}
	return b
}

func (s *Service) receipt(ctx context.Context, p models.Payment) (string, mailer.ReceiptEmailData, bool) {
	buyer, err := s.users.GetByID(ctx, p.BuyerID)
	if err != nil {
		s.log.Warn("receipt: buyer lookup failed", zap.String("payment_id", p.ID.Hex()), zap.Error(err))
		return "", mailer.ReceiptEmailData{}, false
	}
	data := mailer.ReceiptEmailData{
		ClubName: s.settings.ClubName(ctx),
		OrderRef: p.ProcessorOrderRef,
		Date:     s.now().Format("02/01/2006"),
	}
	amount := p.AmountPaid
	if amount == 0 {
		amount = p.AmountCharged
	}
	data.Amount = money.MustFormat(amount, s.cfg.Currency)
	if ev, err := s.events.Get(ctx, p.EventID); err == nil {
		data.EventTitle = ev.Title
	}
	if item, err := s.items.Get(ctx, p.ItemID); err == nil {
		data.ItemTitle = item.Title
		if price, ok := item.Price(p.ItemPriceID); ok {
			data.PriceTitle = price.Title
		}
	}
	return buyer.Mail, data, true
}
