package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxi-dispatch/backend/internal/models"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO notifications (recipient, order_id, type, message)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING id::text, created_at, is_read
	`, n.Recipient, n.OrderID, n.Type, n.Message).Scan(&n.ID, &n.CreatedAt, &n.IsRead)
}

func (r *NotificationRepo) ListByRecipient(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, recipient, COALESCE(order_id, ''), type, message, is_read, created_at
		FROM notifications WHERE recipient = $1
		ORDER BY created_at DESC LIMIT $2
	`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.OrderID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead marks the recipient's notifications with the given ids as read
// and returns how many changed.
func (r *NotificationRepo) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE recipient = $1 AND id = ANY($2::uuid[]) AND NOT is_read
	`, recipient, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteReadBefore prunes read notifications created before t.
func (r *NotificationRepo) DeleteReadBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE is_read AND created_at < $1`, t)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
