// Package payline drives online card payments through the Payline web
// payment SOAP API.
package payline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/soap"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the processor cannot be reached or
// answers with a fault. The payment it concerned is left untouched.
var ErrUnavailable = errors.New("payment processor unavailable")

// SuccessCode is the result code of a successful call.
const SuccessCode = "00000"

const (
	actionRefund = "421"
	dateLayout   = "02/01/2006 15:04"
)

// Config configures the client. Currency is the ISO 4217 numeric code.
type Config struct {
	Endpoint       string
	Namespace      string
	MerchantID     string
	AccessKey      string
	ContractNumber string
	Currency       string
	Version        string
	Mode           string
	Action         string
	MerchantName   string
	Disabled       bool
	Timeout        time.Duration
}

// Result is the status block every Payline reply carries.
type Result struct {
	Code         string `xml:"code" json:"code"`
	ShortMessage string `xml:"shortMessage" json:"short_message"`
	LongMessage  string `xml:"longMessage" json:"long_message"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Code == SuccessCode }

// Order describes what is being paid.
type Order struct {
	Ref    string
	Amount int64 // minor units
	Date   time.Time
}

// Buyer identifies the member paying.
type Buyer struct {
	Title       string
	FirstName   string
	LastName    string
	Email       string
	MobilePhone string
	BirthDate   *time.Time
}

// URLs are where the processor sends the buyer (Return, Cancel) and the
// server-to-server notification (Notify). The web payment API has no
// timeout redirect: Timeout travels as the timeout_url private data and is
// echoed back in the payment details.
type URLs struct {
	Return  string
	Cancel  string
	Timeout string
	Notify  string
}

// TimeoutURLKey is the private data key carrying URLs.Timeout.
const TimeoutURLKey = "timeout_url"

// PrivateData is a key/value pair attached to the order and echoed back in
// the payment details.
type PrivateData struct {
	Key   string `xml:"key" json:"key"`
	Value string `xml:"value" json:"value"`
}

// Acceptance is the reply to a payment request.
type Acceptance struct {
	Result
	Token       string
	RedirectURL string
}

// Transaction is the processor-side transaction.
type Transaction struct {
	ID              string `xml:"id" json:"id"`
	Date            string `xml:"date" json:"date"`
	IsDuplicated    string `xml:"isDuplicated" json:"is_duplicated"`
	IsPossibleFraud string `xml:"isPossibleFraud" json:"is_possible_fraud"`
	FraudResult     string `xml:"fraudResult" json:"fraud_result"`
	Explanation     string `xml:"explanation" json:"explanation"`
	ThreeDSecure    string `xml:"threeDSecure" json:"three_d_secure"`
	SoftDescriptor  string `xml:"softDescriptor" json:"soft_descriptor"`
	Score           string `xml:"score" json:"score"`
}

// Authorization is the bank authorization of a transaction.
type Authorization struct {
	Number string `xml:"number" json:"number"`
	Date   string `xml:"date" json:"date"`
}

// PaymentInfo is the payment block of a transaction.
type PaymentInfo struct {
	Amount         string `xml:"amount" json:"amount"`
	Currency       string `xml:"currency" json:"currency"`
	Action         string `xml:"action" json:"action"`
	Mode           string `xml:"mode" json:"mode"`
	ContractNumber string `xml:"contractNumber" json:"contract_number"`
	Method         string `xml:"method,omitempty" json:"method,omitempty"`
}

// PaymentDetails is what the processor knows about a web payment. It is
// stored as JSON in the payment's raw metadata.
type PaymentDetails struct {
	Result        Result        `xml:"result" json:"result"`
	Transaction   Transaction   `xml:"transaction" json:"transaction"`
	Payment       PaymentInfo   `xml:"payment" json:"payment"`
	Authorization Authorization `xml:"authorization" json:"authorization"`
	OrderRef      string        `xml:"order>ref" json:"order_ref"`
	PrivateData   []PrivateData `xml:"privateDataList>privateData" json:"private_data,omitempty"`
}

// AmountPaid returns the paid amount in minor units, or false when the
// processor did not report one.
func (d PaymentDetails) AmountPaid() (int64, bool) {
	n, err := strconv.ParseInt(d.Payment.Amount, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// JSON encodes the details for storage.
func (d PaymentDetails) JSON() string {
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseDetails decodes details stored with JSON.
func ParseDetails(raw string) (PaymentDetails, error) {
	var d PaymentDetails
	if raw == "" {
		return d, errors.New("no payment details")
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("parse payment details: %w", err)
	}
	return d, nil
}

// RefundResult is the reply of a reset or refund call.
type RefundResult struct {
	Result      Result      `xml:"result" json:"result"`
	Transaction Transaction `xml:"transaction" json:"transaction"`
}

// JSON encodes the result for storage.
func (r RefundResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Client is what the payment service needs from the processor.
type Client interface {
	DoWebPayment(ctx context.Context, order Order, buyer Buyer, urls URLs, private []PrivateData) (Acceptance, error)
	GetWebPaymentDetails(ctx context.Context, token string) (PaymentDetails, error)
	DoReset(ctx context.Context, transactionID string) (RefundResult, error)
	DoRefund(ctx context.Context, details PaymentDetails) (RefundResult, error)
}

// SOAPClient implements Client over the Payline SOAP endpoint. A disabled
// client accepts every payment without any network traffic.
type SOAPClient struct {
	cfg    Config
	soap   *soap.Client
	logger *zap.Logger
	now    func() time.Time
}

// New returns a client authenticated with the merchant id and access key.
func New(cfg Config, logger *zap.Logger) *SOAPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "26"
	}
	if cfg.Mode == "" {
		cfg.Mode = "CPT"
	}
	if cfg.Action == "" {
		cfg.Action = "101"
	}
	if cfg.Currency == "" {
		cfg.Currency = "978"
	}
	if cfg.Disabled {
		logger.Warn("payment processor disabled, every payment will be accepted")
	}
	c := soap.New(cfg.Endpoint, cfg.Namespace, cfg.Timeout)
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.MerchantID + ":" + cfg.AccessKey))
	c.Header.Set("Authorization", "Basic "+auth)
	return &SOAPClient{cfg: cfg, soap: c, logger: logger, now: time.Now}
}

// Disabled reports whether payments are accepted without the processor.
func (c *SOAPClient) Disabled() bool { return c.cfg.Disabled }

type paymentBlock struct {
	Amount         int64  `xml:"amount"`
	Currency       string `xml:"currency"`
	Action         string `xml:"action"`
	Mode           string `xml:"mode"`
	ContractNumber string `xml:"contractNumber"`
}

type orderBlock struct {
	Ref      string `xml:"ref"`
	Amount   int64  `xml:"amount"`
	Currency string `xml:"currency"`
	Date     string `xml:"date"`
}

type buyerBlock struct {
	Title       string `xml:"title,omitempty"`
	LastName    string `xml:"lastName"`
	FirstName   string `xml:"firstName"`
	Email       string `xml:"email"`
	MobilePhone string `xml:"mobilePhone,omitempty"`
	BirthDate   string `xml:"birthDate,omitempty"`
}

type webPaymentRequest struct {
	XMLName          xml.Name      `xml:"ns:doWebPaymentRequest"`
	Version          string        `xml:"version"`
	Payment          paymentBlock  `xml:"payment"`
	ReturnURL        string        `xml:"returnURL"`
	CancelURL        string        `xml:"cancelURL"`
	Order            orderBlock    `xml:"order"`
	NotificationURL  string        `xml:"notificationURL,omitempty"`
	SelectedContract string        `xml:"selectedContractList>selectedContract"`
	PrivateData      []PrivateData `xml:"privateDataList>privateData"`
	Buyer            buyerBlock    `xml:"buyer"`
	MerchantName     string        `xml:"merchantName,omitempty"`
}

type webPaymentResponse struct {
	Result      Result `xml:"result"`
	Token       string `xml:"token"`
	RedirectURL string `xml:"redirectURL"`
}

type detailsRequest struct {
	XMLName xml.Name `xml:"ns:getWebPaymentDetailsRequest"`
	Version string   `xml:"version"`
	Token   string   `xml:"token"`
}

type resetRequest struct {
	XMLName       xml.Name `xml:"ns:doResetRequest"`
	Version       string   `xml:"version"`
	TransactionID string   `xml:"transactionID"`
	Comment       string   `xml:"comment"`
}

type refundRequest struct {
	XMLName       xml.Name     `xml:"ns:doRefundRequest"`
	Version       string       `xml:"version"`
	TransactionID string       `xml:"transactionID"`
	Payment       paymentBlock `xml:"payment"`
	Comment       string       `xml:"comment"`
}

// DoWebPayment asks the processor for a payment page. In disabled mode the
// buyer is sent straight to urls.Return.
func (c *SOAPClient) DoWebPayment(ctx context.Context, order Order, buyer Buyer, urls URLs, private []PrivateData) (Acceptance, error) {
	if c.cfg.Disabled {
		return Acceptance{
			Result:      Result{Code: SuccessCode, ShortMessage: "ACCEPTED", LongMessage: "Transaction approved"},
			Token:       "dev-" + order.Ref,
			RedirectURL: urls.Return,
		}, nil
	}

	if urls.Timeout != "" {
		private = append(private[:len(private):len(private)], PrivateData{Key: TimeoutURLKey, Value: urls.Timeout})
	}
	req := webPaymentRequest{
		Version: c.cfg.Version,
		Payment: paymentBlock{
			Amount:         order.Amount,
			Currency:       c.cfg.Currency,
			Action:         c.cfg.Action,
			Mode:           c.cfg.Mode,
			ContractNumber: c.cfg.ContractNumber,
		},
		ReturnURL: urls.Return,
		CancelURL: urls.Cancel,
		Order: orderBlock{
			Ref:      order.Ref,
			Amount:   order.Amount,
			Currency: c.cfg.Currency,
			Date:     order.Date.Format(dateLayout),
		},
		NotificationURL:  urls.Notify,
		SelectedContract: c.cfg.ContractNumber,
		PrivateData:      private,
		Buyer: buyerBlock{
			Title:       buyer.Title,
			LastName:    buyer.LastName,
			FirstName:   buyer.FirstName,
			Email:       buyer.Email,
			MobilePhone: buyer.MobilePhone,
		},
		MerchantName: c.cfg.MerchantName,
	}
	if buyer.BirthDate != nil {
		req.Buyer.BirthDate = buyer.BirthDate.Format("2006-01-02")
	}

	var resp webPaymentResponse
	if err := c.soap.Call(ctx, "doWebPayment", req, &resp); err != nil {
		return Acceptance{}, c.unavailable("doWebPayment", err)
	}
	acc := Acceptance{Result: resp.Result, Token: resp.Token, RedirectURL: resp.RedirectURL}
	if !acc.OK() {
		c.logger.Warn("payment request refused",
			zap.String("order_ref", order.Ref),
			zap.String("code", acc.Code),
			zap.String("message", acc.LongMessage))
	}
	return acc, nil
}

// GetWebPaymentDetails fetches the state of the web payment behind token.
func (c *SOAPClient) GetWebPaymentDetails(ctx context.Context, token string) (PaymentDetails, error) {
	if c.cfg.Disabled {
		now := c.now().Format(dateLayout)
		return PaymentDetails{
			Result:        Result{Code: SuccessCode, ShortMessage: "ACCEPTED", LongMessage: "Transaction approved"},
			Transaction:   Transaction{ID: "dev-" + token, Date: now, IsDuplicated: "0", IsPossibleFraud: "0", ThreeDSecure: "N"},
			Authorization: Authorization{Number: "A55A", Date: now},
		}, nil
	}

	var resp PaymentDetails
	req := detailsRequest{Version: c.cfg.Version, Token: token}
	if err := c.soap.Call(ctx, "getWebPaymentDetails", req, &resp); err != nil {
		return PaymentDetails{}, c.unavailable("getWebPaymentDetails", err)
	}
	return resp, nil
}

// DoReset cancels a transaction that has not been debited yet.
func (c *SOAPClient) DoReset(ctx context.Context, transactionID string) (RefundResult, error) {
	if c.cfg.Disabled {
		return RefundResult{
			Result:      Result{Code: SuccessCode, ShortMessage: "ACCEPTED", LongMessage: "Transaction approved"},
			Transaction: Transaction{ID: transactionID},
		}, nil
	}
	var resp RefundResult
	req := resetRequest{Version: c.cfg.Version, TransactionID: transactionID}
	if err := c.soap.Call(ctx, "doReset", req, &resp); err != nil {
		return RefundResult{}, c.unavailable("doReset", err)
	}
	return resp, nil
}

// DoRefund refunds a debited transaction in full.
func (c *SOAPClient) DoRefund(ctx context.Context, details PaymentDetails) (RefundResult, error) {
	if c.cfg.Disabled {
		return RefundResult{
			Result:      Result{Code: SuccessCode, ShortMessage: "ACCEPTED", LongMessage: "Transaction approved"},
			Transaction: Transaction{ID: details.Transaction.ID},
		}, nil
	}
	amount, _ := details.AmountPaid()
	req := refundRequest{
		Version:       c.cfg.Version,
		TransactionID: details.Transaction.ID,
		Payment: paymentBlock{
			Amount:         amount,
			Currency:       orDefault(details.Payment.Currency, c.cfg.Currency),
			Action:         actionRefund,
			Mode:           orDefault(details.Payment.Mode, c.cfg.Mode),
			ContractNumber: orDefault(details.Payment.ContractNumber, c.cfg.ContractNumber),
		},
	}
	var resp RefundResult
	if err := c.soap.Call(ctx, "doRefund", req, &resp); err != nil {
		return RefundResult{}, c.unavailable("doRefund", err)
	}
	return resp, nil
}

func (c *SOAPClient) unavailable(op string, err error) error {
	c.logger.Warn("payment processor call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
