package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses as reported by the payment provider.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusProcessed = "PROCESSED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusExpired   = "EXPIRED"
)

// Valid status transitions: from -> []to
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusProcessed, PaymentStatusFailed, PaymentStatusExpired},
	PaymentStatusProcessed: {},
	PaymentStatusFailed:    {},
	PaymentStatusExpired:   {},
}

func IsValidPaymentTransition(from, to string) bool {
	for _, s := range ValidPaymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalPaymentStatus reports whether no further transition is possible.
func IsTerminalPaymentStatus(status string) bool {
	next, ok := ValidPaymentTransitions[status]
	return ok && len(next) == 0
}

// Payment is the gateway's record of one QR payment attempt.
type Payment struct {
	ID            uuid.UUID  `json:"paymentId"`
	TransactionID uuid.UUID  `json:"transactionId"`
	Subject       string     `json:"-"`
	Sum           float64    `json:"sum"`
	Note          string     `json:"note"`
	Status        string     `json:"status"`
	QRURL         string     `json:"qrUrl,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}
