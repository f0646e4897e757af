package models

import (
	"time"

	"github.com/google/uuid"
)

// Actors that move a payment between statuses.
const (
	PaymentActorTerminal = "terminal"
	PaymentActorProvider = "provider"
	PaymentActorWorker   = "worker"
)

// PaymentEvent is one row of a payment's status history.
type PaymentEvent struct {
	ID         int64          `json:"id"`
	PaymentID  uuid.UUID      `json:"paymentId"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus"`
	Actor      string         `json:"actor"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
