// internal/domain/models/payment.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentType is how a payment was made.
type PaymentType int

const (
	PaymentOnline   PaymentType = 0
	PaymentCheck    PaymentType = 1
	PaymentCash     PaymentType = 2
	PaymentCard     PaymentType = 3
	PaymentTransfer PaymentType = 4
)

func (t PaymentType) String() string {
	switch t {
	case PaymentOnline:
		return "online"
	case PaymentCheck:
		return "check"
	case PaymentCash:
		return "cash"
	case PaymentCard:
		return "card"
	case PaymentTransfer:
		return "transfer"
	}
	return "unknown"
}

// ParsePaymentType maps a type name back to its code.
func ParsePaymentType(name string) (PaymentType, bool) {
	for _, t := range []PaymentType{PaymentOnline, PaymentCheck, PaymentCash, PaymentCard, PaymentTransfer} {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus int

const (
	PaymentInitiated PaymentStatus = 0
	PaymentApproved  PaymentStatus = 1
	PaymentCancelled PaymentStatus = 2
	PaymentRefused   PaymentStatus = 3
	PaymentExpired   PaymentStatus = 4
	PaymentRefunded  PaymentStatus = 5
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentInitiated:
		return "initiated"
	case PaymentApproved:
		return "approved"
	case PaymentCancelled:
		return "cancelled"
	case PaymentRefused:
		return "refused"
	case PaymentExpired:
		return "expired"
	case PaymentRefunded:
		return "refunded"
	}
	return "unknown"
}

// IsTerminal reports whether the payment left the Initiated state.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentInitiated
}

// ItemPrice is one price of a payment item.
type ItemPrice struct {
	ID          primitive.ObjectID  `bson:"_id" json:"id"`
	Title       string              `bson:"title" json:"title"`
	Amount      int64               `bson:"amount" json:"amount"` // minor currency units
	StartDate   *time.Time          `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate     *time.Time          `bson:"end_date,omitempty" json:"end_date,omitempty"` // inclusive
	Enabled     bool                `bson:"enabled" json:"enabled"`
	MaxUses     *int                `bson:"max_uses,omitempty" json:"max_uses,omitempty"`
	UserGroupID *primitive.ObjectID `bson:"user_group_id,omitempty" json:"user_group_id,omitempty"`
	UpdateTime  time.Time           `bson:"update_time" json:"update_time"`
}

// PaymentItem is something participants pay for on an event (the outing
// itself, a bus seat, a meal...). Prices are embedded.
type PaymentItem struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID primitive.ObjectID `bson:"event_id" json:"event_id"`
	Title   string             `bson:"title" json:"title"`
	Prices  []ItemPrice        `bson:"prices" json:"prices"`
}

// Price returns the price with the given id.
func (it PaymentItem) Price(id primitive.ObjectID) (ItemPrice, bool) {
	for _, p := range it.Prices {
		if p.ID == id {
			return p, true
		}
	}
	return ItemPrice{}, false
}

// Payment records money owed or received for a registration.
//
// Payments are append-only once terminal, except for the refund fields.
type Payment struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	RegistrationID primitive.ObjectID  `bson:"registration_id" json:"registration_id"`
	EventID        primitive.ObjectID  `bson:"event_id" json:"event_id"`
	ItemID         primitive.ObjectID  `bson:"item_id" json:"item_id"`
	ItemPriceID    primitive.ObjectID  `bson:"item_price_id" json:"item_price_id"`
	BuyerID        primitive.ObjectID  `bson:"buyer_id" json:"buyer_id"`
	ReporterID     *primitive.ObjectID `bson:"reporter_id,omitempty" json:"reporter_id,omitempty"`

	Type   PaymentType   `bson:"type" json:"type"`
	Status PaymentStatus `bson:"status" json:"status"`

	AmountCharged int64 `bson:"amount_charged" json:"amount_charged"`
	AmountPaid    int64 `bson:"amount_paid" json:"amount_paid"`

	CreationTime     time.Time  `bson:"creation_time" json:"creation_time"`
	FinalizationTime *time.Time `bson:"finalization_time,omitempty" json:"finalization_time,omitempty"`
	RefundTime       *time.Time `bson:"refund_time,omitempty" json:"refund_time,omitempty"`

	ProcessorToken    string `bson:"processor_token" json:"-"`
	ProcessorOrderRef string `bson:"processor_order_ref" json:"processor_order_ref"`
	ProcessorURL      string `bson:"processor_url,omitempty" json:"-"`
	RawMetadata       string `bson:"raw_metadata" json:"-"`    // JSON, processor payment details
	RefundMetadata    string `bson:"refund_metadata" json:"-"` // JSON, processor refund response

	TermsVersion string `bson:"terms_version,omitempty" json:"terms_version,omitempty"`
}

// IsOffline reports whether the payment was reported by hand rather than
// processed online.
func (p Payment) IsOffline() bool {
	return p.Type != PaymentOnline
}
