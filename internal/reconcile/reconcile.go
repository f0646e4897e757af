// Package reconcile collapses a noisy notification feed into the single
// most advanced notification per order.
package reconcile

import (
	"sort"

	"github.com/taxi-dispatch/backend/internal/models"
)

// SystemPriority marks notifications that are never deduplicated.
const SystemPriority = 100

// A terminal state always outranks an intermediate one, cancellation
// outranks rejection, and payment/system messages are never suppressed.
var priorities = map[string]int{
	models.NotificationRideRequested: 1,

	models.NotificationRideUpdated:    2,
	models.NotificationRideConfirmed:  2,
	models.NotificationRideAccepted:   3,
	models.NotificationDriverAssigned: 3,
	models.NotificationDriverHeading:  4,
	models.NotificationDriverArrived:  4,
	models.NotificationRideStarted:    5,

	models.NotificationRideRejected:             7,
	models.NotificationRideCancelledByPassenger: 8,
	models.NotificationRideCancelledByDriver:    8,
	models.NotificationRideCancelled:            9,

	models.NotificationRideCompleted: 10,

	models.NotificationPaymentReceived: SystemPriority,
	models.NotificationPaymentFailed:   SystemPriority,
	models.NotificationPaymentExpired:  SystemPriority,
	models.NotificationSystem:          SystemPriority,
}

// Priority returns the rank of a notification type; unknown types rank 0.
func Priority(notificationType string) int {
	return priorities[notificationType]
}

// IsSystem reports whether n bypasses deduplication.
func IsSystem(n models.Notification) bool {
	return n.OrderID == "" || Priority(n.Type) >= SystemPriority
}

// Deduplicate keeps, for every order, only the highest priority
// notification (latest first on ties). System notifications are kept
// as-is. The result is ordered newest first, ties broken by id, so
// applying Deduplicate twice gives the same result as applying it once.
func Deduplicate(notifications []models.Notification) []models.Notification {
	best := make(map[string]models.Notification)
	var system []models.Notification

	for _, n := range notifications {
		if IsSystem(n) {
			system = append(system, n)
			continue
		}
		cur, ok := best[n.OrderID]
		if !ok || outranks(n, cur) {
			best[n.OrderID] = n
		}
	}

	out := make([]models.Notification, 0, len(best)+len(system))
	for _, n := range best {
		out = append(out, n)
	}
	out = append(out, system...)

	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

func outranks(a, b models.Notification) bool {
	pa, pb := Priority(a.Type), Priority(b.Type)
	if pa != pb {
		return pa > pb
	}
	return newer(a, b)
}

func newer(a, b models.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// UnreadCount counts unread entries of an already reconciled list.
func UnreadCount(notifications []models.Notification) int {
	n := 0
	for _, item := range notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}
