package entities

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// SessionStatus represents payment session state
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// PaymentSession tracks one attempt to buy or upgrade an API key subscription.
// ApiKey is null until completion when ShouldCreateKey is set.
type PaymentSession struct {
	ID                         uuid.UUID     `json:"id"`
	ApiKey                     null.String   `json:"apiKey,omitempty"`
	PaymentAddress             string        `json:"paymentAddress"`
	ReceiverNonce              []byte        `json:"-"`
	Status                     SessionStatus `json:"status"`
	TargetPlanID               int64         `json:"targetPlanId"`
	AmountRequired             *big.Int      `json:"amountRequired"`
	TokenReceived              null.String   `json:"-"`
	CreatedAt                  time.Time     `json:"createdAt"`
	CompletedAt                null.Time     `json:"completedAt,omitempty"`
	CancelledAt                null.Time     `json:"cancelledAt,omitempty"`
	ExpiresAt                  time.Time     `json:"expiresAt"`
	ShouldCreateKey            bool          `json:"shouldCreateKey"`
	RefundAmount               *big.Int      `json:"refundAmount"`
	RequestID                  null.String   `json:"requestId,omitempty"`
	CompletionRequestJSON      null.String   `json:"-"`
	CompletionRequestTimestamp null.Time     `json:"-"`
}

// ExpiredAt reports whether the session's payment window has closed.
func (s *PaymentSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
