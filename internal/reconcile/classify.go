package reconcile

import (
	"sort"

	"github.com/taxi-dispatch/backend/internal/models"
)

// Category routes a notification to a presentation channel.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategoryInfo    Category = "info"
)

var categories = map[string]Category{
	models.NotificationRideAccepted:    CategorySuccess,
	models.NotificationDriverAssigned:  CategorySuccess,
	models.NotificationRideConfirmed:   CategorySuccess,
	models.NotificationRideCompleted:   CategorySuccess,
	models.NotificationPaymentReceived: CategorySuccess,

	models.NotificationRideCancelled:         CategoryError,
	models.NotificationRideCancelledByDriver: CategoryError,
	models.NotificationPaymentFailed:         CategoryError,

	models.NotificationRideRejected:             CategoryWarning,
	models.NotificationRideCancelledByPassenger: CategoryWarning,
	models.NotificationDriverArrived:            CategoryWarning,
	models.NotificationPaymentExpired:           CategoryWarning,
}

// Classify maps any notification type to a category, defaulting to info.
func Classify(notificationType string) Category {
	if c, ok := categories[notificationType]; ok {
		return c
	}
	return CategoryInfo
}

// KnownTypes returns the notification types with a non-default category,
// sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(categories))
	for t := range categories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
