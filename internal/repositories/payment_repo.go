package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxi-dispatch/backend/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, transaction_id, subject, sum, note, status, COALESCE(qr_url, ''), created_at, expires_at, processed_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.TransactionID, &p.Subject, &p.Sum, &p.Note, &p.Status, &p.QRURL,
		&p.CreatedAt, &p.ExpiresAt, &p.ProcessedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payments (transaction_id, subject, sum, note, status, qr_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id, created_at
	`, p.TransactionID, p.Subject, p.Sum, p.Note, p.Status, p.QRURL, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, txID))
}

// UpdateStatus moves a payment from one status to another. It reports false
// when the row was no longer in the from status.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, processedAt *time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $3, processed_at = COALESCE($4, processed_at)
		WHERE id = $1 AND status = $2
	`, id, from, to, processedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale marks PENDING payments past their deadline as EXPIRED and
// returns them.
func (r *PaymentRepo) ExpireStale(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE payments SET status = 'EXPIRED'
		WHERE id IN (
			SELECT id FROM payments
			WHERE status = 'PENDING' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+paymentColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepo) LogEvent(ctx context.Context, e models.PaymentEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_events (payment_id, from_status, to_status, actor, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, e.PaymentID, e.FromStatus, e.ToStatus, e.Actor, e.Meta)
	return err
}

func (r *PaymentRepo) History(ctx context.Context, paymentID uuid.UUID, limit int) ([]models.PaymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, payment_id, from_status, to_status, actor, meta, created_at
		FROM payment_events WHERE payment_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2
	`, paymentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.PaymentEvent
	for rows.Next() {
		var e models.PaymentEvent
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	return history, rows.Err()
}
