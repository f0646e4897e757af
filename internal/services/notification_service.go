package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/models"
)

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipient string, ids []string) (int64, error)
	DeleteReadBefore(ctx context.Context, t time.Time) (int64, error)
}

type NotificationService struct {
	repo      NotificationStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewNotificationService(repo NotificationStore, publisher events.Publisher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, publisher: publisher, log: log}
}

// List returns the raw feed of recipient, newest first. Deduplication is
// left to the consumer.
func (s *NotificationService) List(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	return s.repo.ListByRecipient(ctx, recipient, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return 0, fmt.Errorf("%w: notification id %q", ErrInvalidInput, id)
		}
	}
	n, err := s.repo.MarkRead(ctx, recipient, ids)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.publish(ctx, recipient, events.NotificationChanged{Name: events.KindNotificationUpdated})
	}
	return n, nil
}

type CreateNotificationRequest struct {
	Recipient string `json:"recipient"`
	OrderID   string `json:"orderId,omitempty"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

// Create stores a notification and announces it to the recipient.
func (s *NotificationService) Create(ctx context.Context, req CreateNotificationRequest) (*models.Notification, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Type = strings.TrimSpace(req.Type)
	if req.Recipient == "" || req.Type == "" {
		return nil, fmt.Errorf("%w: recipient and type are required", ErrInvalidInput)
	}

	n := &models.Notification{
		Recipient: req.Recipient,
		OrderID:   strings.TrimSpace(req.OrderID),
		Type:      req.Type,
		Message:   req.Message,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.publish(ctx, n.Recipient, events.NotificationChanged{
		Name:           events.KindNotificationCreated,
		NotificationID: n.ID,
		OrderID:        n.OrderID,
	})
	return n, nil
}

// Prune deletes read notifications older than retention.
func (s *NotificationService) Prune(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteReadBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	if n > 0 {
		s.log.Info("read notifications pruned", zap.Int64("count", n))
	}
	return n, nil
}

func (s *NotificationService) publish(ctx context.Context, recipient string, ev events.Event) {
	if err := s.publisher.Publish(ctx, events.TerminalChannel(recipient), ev); err != nil {
		// Consumers poll or refresh on reconnect, so a lost push only delays them.
		s.log.Warn("publish notification event failed",
			zap.String("recipient", recipient),
			zap.String("event", string(ev.Kind())),
			zap.Error(err),
		)
	}
}
