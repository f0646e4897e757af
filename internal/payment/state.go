package payment

import (
	"context"
	"time"
)

// Phase is the tag of a payment State.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseGenerating Phase = "generating"
	PhaseWaiting    Phase = "waiting"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseExpired    Phase = "expired"
)

// Terminal reports whether the phase ends a session. Only GenerateQR or
// Reset leave a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseExpired
}

// State is the coordinator's current state. Which fields are set depends
// on Phase:
//
//	generating  Sum
//	waiting     Sum, TransactionID, QRPayload, QRURL, ExpiresAt
//	processing  Sum, TransactionID, PaymentID
//	completed   Sum, TransactionID, PaymentID
//	failed      Err
//	expired     Sum, TransactionID
type State struct {
	Phase         Phase      `json:"phase"`
	Sum           float64    `json:"sum,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	PaymentID     string     `json:"paymentId,omitempty"`
	QRPayload     string     `json:"qrPayload,omitempty"`
	QRURL         string     `json:"qrUrl,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Error         string     `json:"error,omitempty"`
	Err           error      `json:"-"`

	// MissedEventsPossible is set when the push connection dropped while
	// waiting; a confirmation sent during the gap is never replayed.
	MissedEventsPossible bool `json:"missedEventsPossible,omitempty"`
}

func failedState(sum float64, err error) State {
	return State{Phase: PhaseFailed, Sum: sum, Err: err, Error: err.Error()}
}

// Session is one in-flight QR payment attempt.
type Session struct {
	TransactionID string    `json:"transactionId"`
	Sum           float64   `json:"sum"`
	QRPayload     string    `json:"qrPayload"`
	QRURL         string    `json:"qrUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type QRRequest struct {
	Sum  float64 `json:"sum"`
	Note string  `json:"note"`
}

type QRResponse struct {
	QRBase64      string  `json:"qrBase64"`
	QRURL         *string `json:"qrUrl"`
	TransactionID string  `json:"transactionId"`
}

// Status is the provider's view of a payment.
type Status struct {
	PaymentID     string     `json:"paymentId"`
	Status        string     `json:"status"`
	Sum           float64    `json:"sum"`
	TransactionID string     `json:"transactionId,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// Client is the payment collaborator.
type Client interface {
	GenerateQR(ctx context.Context, req QRRequest) (*QRResponse, error)
	GetStatus(ctx context.Context, paymentID string) (*Status, error)
}
