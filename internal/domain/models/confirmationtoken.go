// internal/domain/models/confirmationtoken.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TokenType tells what confirming a token does.
type TokenType int

const (
	TokenActivateAccount TokenType = 0
	TokenRecoverAccount  TokenType = 1
)

// EmailStatus tracks the delivery of the confirmation e-mail.
type EmailStatus int

const (
	EmailPending EmailStatus = 0
	EmailSuccess EmailStatus = 1
	EmailFailed  EmailStatus = 2
)

// ConfirmationToken is a one-shot token mailed during signup and recovery.
type ConfirmationToken struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"-"`
	Token          string              `bson:"token" json:"-"`
	Type           TokenType           `bson:"type" json:"type"`
	Licence        string              `bson:"licence" json:"licence"`
	ExistingUserID *primitive.ObjectID `bson:"existing_user_id,omitempty" json:"existing_user_id,omitempty"`
	EmailStatus    EmailStatus         `bson:"email_status" json:"email_status"`
	ExpiresAt      time.Time           `bson:"expires_at" json:"expires_at"` // TTL index
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the token can no longer be used at t.
func (t ConfirmationToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
