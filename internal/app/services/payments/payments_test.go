package payments_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/app/policy/eventpolicy"
	paymentsvc "github.com/dalemusser/collectives/internal/app/services/payments"
	pricingsvc "github.com/dalemusser/collectives/internal/app/services/pricing"
	"github.com/dalemusser/collectives/internal/app/store/configuration"
	registrationstore "github.com/dalemusser/collectives/internal/app/store/registrations"
	"github.com/dalemusser/collectives/internal/app/system/configcache"
	"github.com/dalemusser/collectives/internal/app/system/mailer"
	"github.com/dalemusser/collectives/internal/app/system/payline"
	"github.com/dalemusser/collectives/internal/domain/models"
	"github.com/dalemusser/collectives/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeClient plays the processor. Details are looked up by token; a token
// without an entry is still in progress.
type fakeClient struct {
	mu       sync.Mutex
	requests []payline.Order
	private  [][]payline.PrivateData
	urls     []payline.URLs
	details  map[string]payline.PaymentDetails
	lookups  int
	resetOK  bool
	resetErr error
	resetRes payline.Result
	refunds  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		details:  map[string]payline.PaymentDetails{},
		resetOK:  true,
		resetRes: payline.Result{Code: "02602", ShortMessage: "ERROR"},
	}
}

func (f *fakeClient) DoWebPayment(_ context.Context, order payline.Order, _ payline.Buyer, urls payline.URLs, private []payline.PrivateData) (payline.Acceptance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, order)
	f.urls = append(f.urls, urls)
	f.private = append(f.private, private)
	token := "tok-" + order.Ref
	return payline.Acceptance{
		Result:      payline.Result{Code: payline.SuccessCode, ShortMessage: "ACCEPTED"},
		Token:       token,
		RedirectURL: "https://pay.test/" + token,
	}, nil
}

func (f *fakeClient) GetWebPaymentDetails(_ context.Context, token string) (payline.PaymentDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if d, ok := f.details[token]; ok {
		return d, nil
	}
	return payline.PaymentDetails{Result: payline.Result{Code: "02306", ShortMessage: "REFUSED"}}, nil
}

func (f *fakeClient) DoReset(_ context.Context, _ string) (payline.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return payline.RefundResult{}, f.resetErr
	}
	if f.resetOK {
		return payline.RefundResult{Result: payline.Result{Code: payline.SuccessCode}}, nil
	}
	return payline.RefundResult{Result: f.resetRes}, nil
}

func (f *fakeClient) DoRefund(_ context.Context, _ payline.PaymentDetails) (payline.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	return payline.RefundResult{Result: payline.Result{Code: "02602", ShortMessage: "ERROR", LongMessage: "refused"}}, nil
}

func (f *fakeClient) settle(token, code, short, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[token] = payline.PaymentDetails{
		Result:      payline.Result{Code: code, ShortMessage: short},
		Transaction: payline.Transaction{ID: "trx-" + token},
		Payment:     payline.PaymentInfo{Amount: amount, Currency: "978"},
	}
}

type fakePromoter struct {
	mu     sync.Mutex
	events []primitive.ObjectID
}

func (p *fakePromoter) PromoteWaiting(_ context.Context, eventID primitive.ObjectID) ([]models.Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventID)
	return nil, nil
}

type env struct {
	svc      *paymentsvc.Service
	fix      *testutil.Fixtures
	client   *fakeClient
	promoter *fakePromoter
	mail     *mailer.Recorder
	regs     *registrationstore.Store
}

func setup(t *testing.T) env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()
	codes, err := payline.DefaultCodes()
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	client := newFakeClient()
	promoter := &fakePromoter{}
	rec := &mailer.Recorder{}
	svc := paymentsvc.New(db, paymentsvc.Deps{
		Pricing:  pricingsvc.New(db, log),
		Client:   client,
		Codes:    codes,
		Promoter: promoter,
		Settings: configcache.New(configuration.New(db), time.Minute, log),
		Mail:     rec,
	}, paymentsvc.Config{BaseURL: "https://club.test", OrderPrefix: "CAF"}, log)
	return env{
		svc:      svc,
		fix:      testutil.NewFixtures(t, db),
		client:   client,
		promoter: promoter,
		mail:     rec,
		regs:     registrationstore.New(db),
	}
}

// pending creates a paying event and a PaymentPending self-registration.
func pending(ctx context.Context, e env, amount int64) (models.Event, models.PaymentItem, models.User, models.Registration) {
	ev := e.fix.CreateEvent(ctx, models.Event{})
	item := e.fix.CreatePaymentItem(ctx, ev.ID, "Outing", models.ItemPrice{Title: "Normal", Amount: amount, Enabled: true})
	u := e.fix.CreateUser(ctx, "Pay", "Er")
	reg := e.fix.CreateRegistration(ctx, ev.ID, u.ID, models.RegPaymentPending, 1)
	return ev, item, u, reg
}

func accountant(ctx context.Context, e env) eventpolicy.Actor {
	u := e.fix.CreateUser(ctx, "Ac", "Countant")
	r := e.fix.AddRole(ctx, u.ID, models.RoleAccountant, nil)
	return eventpolicy.Actor{ID: u.ID, Roles: []models.Role{r}}
}

var orderRefPattern = regexp.MustCompile(`^CAF\d{8}EVT\d{4}$`)

func TestInitiate_OpensSession(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev, item, u, reg := pending(ctx, e, 2500)

	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if p.Status != models.PaymentInitiated || p.AmountCharged != 2500 || p.ItemPriceID != item.Prices[0].ID {
		t.Errorf("payment = %+v", p)
	}
	if !orderRefPattern.MatchString(p.ProcessorOrderRef) {
		t.Errorf("order ref = %q", p.ProcessorOrderRef)
	}
	if p.ProcessorToken == "" || p.ProcessorURL == "" {
		t.Error("payment must carry the processor session")
	}
	if len(e.client.requests) != 1 || e.client.requests[0].Amount != 2500 {
		t.Fatalf("requests = %+v", e.client.requests)
	}
	wantBase := "https://club.test/payments/" + p.ID.Hex() + "/"
	if u := e.client.urls[0]; u.Return != wantBase+"process" || u.Cancel != wantBase+"reject" ||
		u.Timeout != wantBase+"timeout" || u.Notify != wantBase+"notify" {
		t.Errorf("urls = %+v", u)
	}
	var sawEvent bool
	for _, d := range e.client.private[0] {
		if d.Key == "event_id" && d.Value == ev.ID.Hex() {
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Error("the order must carry the event id")
	}

	again, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate again: %v", err)
	}
	if again.ID != p.ID || len(e.client.requests) != 1 {
		t.Error("an initiated payment must be resumed, not duplicated")
	}

	if _, err := e.svc.Initiate(ctx, reg.ID, primitive.NewObjectID(), primitive.NilObjectID); !errors.Is(err, paymentsvc.ErrNotBuyer) {
		t.Errorf("err = %v, want ErrNotBuyer", err)
	}
}

func TestInitiate_NotPending(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev := e.fix.CreateEvent(ctx, models.Event{})
	u := e.fix.CreateUser(ctx, "Al", "Ready")
	reg := e.fix.CreateRegistration(ctx, ev.ID, u.ID, models.RegActive, 1)
	if _, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID); !errors.Is(err, paymentsvc.ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestHandleCallback_Approved(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _, u, reg := pending(ctx, e, 2500)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	e.client.settle(p.ProcessorToken, payline.SuccessCode, "ACCEPTED", "2500")
	got, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackProcess, p.ID, p.ProcessorToken)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != models.PaymentApproved || got.AmountPaid != 2500 {
		t.Errorf("payment = %+v", got)
	}
	r, _ := e.regs.Get(ctx, reg.ID)
	if r.Status != models.RegActive {
		t.Errorf("registration status = %v, want active", r.Status)
	}
	msgs := e.mail.Messages()
	if len(msgs) != 1 || msgs[0].To != u.Mail {
		t.Errorf("mails = %+v, want one receipt", msgs)
	}

	lookups := e.client.lookups
	again, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackNotify, primitive.NilObjectID, p.ProcessorToken)
	if err != nil {
		t.Fatalf("repeated callback: %v", err)
	}
	if again.Status != models.PaymentApproved || e.client.lookups != lookups {
		t.Error("a finalized payment must be returned untouched")
	}
}

func TestHandleCallback_CancelledDropsRegistration(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev, _, u, reg := pending(ctx, e, 2500)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	e.client.settle(p.ProcessorToken, "02319", "REFUSED", "")
	got, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackReject, p.ID, p.ProcessorToken)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != models.PaymentCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}
	if _, err := e.regs.Get(ctx, reg.ID); !errors.Is(err, registrationstore.ErrNotFound) {
		t.Errorf("registration err = %v, want not found", err)
	}
	if len(e.promoter.events) != 1 || e.promoter.events[0] != ev.ID {
		t.Errorf("promotions = %v, want one for the event", e.promoter.events)
	}
}

func TestHandleCallback_InProgress(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _, u, reg := pending(ctx, e, 2500)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	got, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackTimeout, p.ID, p.ProcessorToken)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != models.PaymentInitiated {
		t.Errorf("status = %v, want initiated", got.Status)
	}
}

func TestHandleCallback_BadToken(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackNotify, primitive.NilObjectID, ""); !errors.Is(err, paymentsvc.ErrInvalidToken) {
		t.Errorf("empty token err = %v", err)
	}
	if _, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackNotify, primitive.NilObjectID, "nope"); !errors.Is(err, paymentsvc.ErrInvalidToken) {
		t.Errorf("unknown token err = %v", err)
	}

	_, _, u, reg := pending(ctx, e, 1000)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := e.svc.HandleCallback(ctx, paymentsvc.CallbackProcess, primitive.NewObjectID(), p.ProcessorToken); !errors.Is(err, paymentsvc.ErrInvalidToken) {
		t.Errorf("mismatched id err = %v", err)
	}
}

func TestPollStale(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _, u, reg := pending(ctx, e, 2500)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	n, err := e.svc.PollStale(ctx, time.Hour, 10)
	if err != nil || n != 0 {
		t.Fatalf("fresh poll = %d, %v; want 0", n, err)
	}

	e.svc.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	e.client.settle(p.ProcessorToken, "02324", "REFUSED", "")
	n, err = e.svc.PollStale(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("PollStale: %v", err)
	}
	if n != 1 {
		t.Errorf("finalized = %d, want 1", n)
	}
}

func TestInitiate_FreePriceApproves(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _, u, reg := pending(ctx, e, 0)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if p.Status != models.PaymentApproved {
		t.Errorf("status = %v, want approved", p.Status)
	}
	if len(e.client.requests) != 0 {
		t.Error("a free payment must not reach the processor")
	}
	r, _ := e.regs.Get(ctx, reg.ID)
	if r.Status != models.RegActive {
		t.Errorf("registration status = %v, want active", r.Status)
	}
}

func approved(ctx context.Context, t *testing.T, e env) (models.Event, models.Payment) {
	t.Helper()
	ev, _, u, reg := pending(ctx, e, 3000)
	p, err := e.svc.Initiate(ctx, reg.ID, u.ID, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	e.client.settle(p.ProcessorToken, payline.SuccessCode, "ACCEPTED", "3000")
	p, err = e.svc.HandleCallback(ctx, paymentsvc.CallbackNotify, p.ID, p.ProcessorToken)
	if err != nil || p.Status != models.PaymentApproved {
		t.Fatalf("approve: %+v, %v", p, err)
	}
	return ev, p
}

func TestRefund(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, p := approved(ctx, t, e)
	actor := accountant(ctx, e)

	got, err := e.svc.Refund(ctx, actor, p.ID)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got.Status != models.PaymentRefunded || got.RefundTime == nil {
		t.Errorf("payment = %+v", got)
	}
	if _, err := e.svc.Refund(ctx, actor, p.ID); !errors.Is(err, paymentsvc.ErrNotRefundable) {
		t.Errorf("second refund err = %v, want ErrNotRefundable", err)
	}

	stranger := eventpolicy.Actor{ID: primitive.NewObjectID()}
	if _, err := e.svc.Refund(ctx, stranger, p.ID); !errors.Is(err, eventpolicy.ErrPermissionDenied) {
		t.Errorf("err = %v, want permission denied", err)
	}
}

func TestRefund_ProcessorRefuses(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, p := approved(ctx, t, e)
	e.client.resetOK = false

	_, err := e.svc.Refund(ctx, accountant(ctx, e), p.ID)
	if !errors.Is(err, paymentsvc.ErrRefundRefused) {
		t.Fatalf("err = %v, want ErrRefundRefused", err)
	}
	if e.client.refunds != 1 {
		t.Errorf("refund calls = %d, want a refund after the failed reset", e.client.refunds)
	}
}

func TestRefund_ResetFailureIsFinal(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*fakeClient)
		wantErr error
	}{
		{"processor unreachable", func(f *fakeClient) {
			f.resetErr = fmt.Errorf("%w: doReset: connection refused", payline.ErrUnavailable)
		}, payline.ErrUnavailable},
		{"reset refused", func(f *fakeClient) {
			f.resetOK = false
			f.resetRes = payline.Result{Code: "02101", ShortMessage: "ERROR", LongMessage: "Internal error"}
		}, paymentsvc.ErrRefundRefused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t)
			ctx, cancel := testutil.TestContext()
			defer cancel()

			_, p := approved(ctx, t, e)
			tt.prepare(e.client)

			_, err := e.svc.Refund(ctx, accountant(ctx, e), p.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if e.client.refunds != 0 {
				t.Errorf("refund calls = %d, want none", e.client.refunds)
			}
		})
	}
}

func TestRefundAll(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ev, _ := approved(ctx, t, e)
	mod := e.fix.CreateUser(ctx, "Mod", "Erator")
	actor := eventpolicy.Actor{ID: mod.ID, Roles: []models.Role{e.fix.AddRole(ctx, mod.ID, models.RoleModerator, nil)}}

	sum, err := e.svc.RefundAll(ctx, actor, ev.ID)
	if err != nil {
		t.Fatalf("RefundAll: %v", err)
	}
	if sum.Total != 1 || sum.Refunded != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestReportOffline(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, item, _, reg := pending(ctx, e, 2000)
	actor := accountant(ctx, e)

	_, err := e.svc.ReportOffline(ctx, actor, paymentsvc.OfflineReport{RegistrationID: reg.ID, PriceID: item.Prices[0].ID, Type: models.PaymentOnline})
	if !errors.Is(err, paymentsvc.ErrInvalidOfflineType) {
		t.Errorf("err = %v, want ErrInvalidOfflineType", err)
	}
	_, err = e.svc.ReportOffline(ctx, actor, paymentsvc.OfflineReport{RegistrationID: reg.ID, PriceID: primitive.NewObjectID(), Type: models.PaymentCheck})
	if !errors.Is(err, paymentsvc.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}

	p, err := e.svc.ReportOffline(ctx, actor, paymentsvc.OfflineReport{
		RegistrationID: reg.ID,
		PriceID:        item.Prices[0].ID,
		Type:           models.PaymentCheck,
		Amount:         2000,
		MakeActive:     true,
	})
	if err != nil {
		t.Fatalf("ReportOffline: %v", err)
	}
	if p.Status != models.PaymentApproved || p.ReporterID == nil || *p.ReporterID != actor.ID || p.AmountPaid != 2000 {
		t.Errorf("payment = %+v", p)
	}
	r, _ := e.regs.Get(ctx, reg.ID)
	if r.Status != models.RegActive {
		t.Errorf("registration status = %v, want active", r.Status)
	}

	if _, err := e.svc.Refund(ctx, actor, p.ID); !errors.Is(err, paymentsvc.ErrNotRefundable) {
		t.Errorf("offline refund err = %v, want ErrNotRefundable", err)
	}
}

func TestParseCallback(t *testing.T) {
	for _, name := range []string{"accept", "reject", "timeout", "process", "notify"} {
		if _, ok := paymentsvc.ParseCallback(name); !ok {
			t.Errorf("ParseCallback(%q) rejected", name)
		}
	}
	if _, ok := paymentsvc.ParseCallback("refund"); ok {
		t.Error("ParseCallback accepted an unknown callback")
	}
}
