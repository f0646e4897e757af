package models

import "time"

// Notification types
const (
	NotificationRideRequested            = "RideRequested"
	NotificationRideUpdated              = "RideUpdated"
	NotificationRideConfirmed            = "RideConfirmed"
	NotificationRideAccepted             = "RideAccepted"
	NotificationDriverAssigned           = "DriverAssigned"
	NotificationDriverHeading            = "DriverHeading"
	NotificationDriverArrived            = "DriverArrived"
	NotificationRideStarted              = "RideStarted"
	NotificationRideRejected             = "RideRejected"
	NotificationRideCancelledByPassenger = "RideCancelledByPassenger"
	NotificationRideCancelledByDriver    = "RideCancelledByDriver"
	NotificationRideCancelled            = "RideCancelled"
	NotificationRideCompleted            = "RideCompleted"
	NotificationPaymentReceived          = "PaymentReceived"
	NotificationPaymentFailed            = "PaymentFailed"
	NotificationPaymentExpired           = "PaymentExpired"
	NotificationSystem                   = "SystemMessage"
)

// Notification is one entry of a subject's feed. OrderID is empty for
// notifications not tied to an order.
type Notification struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
	Recipient string    `json:"-"`
}
