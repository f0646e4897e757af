package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/clock"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/repositories"
)

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, processedAt *time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	LogEvent(ctx context.Context, e models.PaymentEvent) error
	History(ctx context.Context, paymentID uuid.UUID, limit int) ([]models.PaymentEvent, error)
}

type PaymentServiceConfig struct {
	Timeout   time.Duration
	PublicURL string
	QRSize    int
	Clock     clock.Clock
}

type PaymentService struct {
	repo      PaymentStore
	publisher events.Publisher
	cfg       PaymentServiceConfig
	log       *zap.Logger
}

func NewPaymentService(repo PaymentStore, publisher events.Publisher, cfg PaymentServiceConfig, log *zap.Logger) *PaymentService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = payment.DefaultTimeout
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &PaymentService{repo: repo, publisher: publisher, cfg: cfg, log: log}
}

// GenerateQR creates a PENDING payment for subject and renders its QR code.
func (s *PaymentService) GenerateQR(ctx context.Context, subject string, req payment.QRRequest) (*payment.QRResponse, error) {
	sum, note, err := payment.ValidateRequest(req.Sum, req.Note)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	p := &models.Payment{
		TransactionID: uuid.New(),
		Subject:       subject,
		Sum:           sum,
		Note:          note,
		Status:        models.PaymentStatusPending,
		ExpiresAt:     now.Add(s.cfg.Timeout),
	}
	p.QRURL, err = s.payURL(p)
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(p.QRURL, qrcode.Medium, s.cfg.QRSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.logEvent(ctx, p.ID, "", models.PaymentStatusPending, models.PaymentActorTerminal, map[string]any{"sum": sum})

	s.log.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("transaction_id", p.TransactionID.String()),
		zap.String("subject", subject),
		zap.Float64("sum", sum),
	)

	qrURL := p.QRURL
	return &payment.QRResponse{
		QRBase64:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		QRURL:         &qrURL,
		TransactionID: p.TransactionID.String(),
	}, nil
}

func (s *PaymentService) payURL(p *models.Payment) (string, error) {
	u, err := url.Parse(s.cfg.PublicURL)
	if err != nil {
		return "", fmt.Errorf("payment public url: %w", err)
	}
	q := u.Query()
	q.Set("tx", p.TransactionID.String())
	q.Set("sum", strconv.FormatFloat(p.Sum, 'f', 2, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetStatus returns the provider view of a payment owned by subject.
func (s *PaymentService) GetStatus(ctx context.Context, subject string, id uuid.UUID) (*payment.Status, error) {
	p, err := s.owned(ctx, subject, id)
	if err != nil {
		return nil, err
	}
	return toStatus(p), nil
}

func (s *PaymentService) History(ctx context.Context, subject string, id uuid.UUID) ([]models.PaymentEvent, error) {
	if _, err := s.owned(ctx, subject, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id, 50)
}

func (s *PaymentService) owned(ctx context.Context, subject string, id uuid.UUID) (*models.Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Subject != subject {
		return nil, ErrNotFound
	}
	return p, nil
}

type ConfirmRequest struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	ProviderRef   string `json:"providerRef,omitempty"`
}

// Confirm applies a provider webhook. Repeating a webhook that already
// took effect is a no-op; a PROCESSED payment is announced to its owner
// as payment_confirmed. A webhook for a PENDING payment whose window has
// closed expires it instead and returns ErrPaymentExpired.
func (s *PaymentService) Confirm(ctx context.Context, req ConfirmRequest) (*models.Payment, error) {
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: transactionId", ErrInvalidInput)
	}
	if req.Status == "" {
		req.Status = models.PaymentStatusProcessed
	}
	if req.Status != models.PaymentStatusProcessed && req.Status != models.PaymentStatusFailed {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, req.Status)
	}

	p, err := s.repo.GetByTransactionID(ctx, txID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if p.Status == req.Status {
		s.log.Info("duplicate payment webhook", zap.String("payment_id", p.ID.String()), zap.String("status", p.Status))
		return p, nil
	}
	now := s.cfg.Clock.Now()
	if p.Status == models.PaymentStatusPending && !now.Before(p.ExpiresAt) {
		// The terminal has already shown the session as expired.
		s.expireLate(ctx, p, req)
		return nil, ErrPaymentExpired
	}
	if !models.IsValidPaymentTransition(p.Status, req.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, req.Status)
	}

	var processedAt *time.Time
	if req.Status == models.PaymentStatusProcessed {
		processedAt = &now
	}
	ok, err := s.repo.UpdateStatus(ctx, p.ID, p.Status, req.Status, processedAt)
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}
	if !ok {
		// A concurrent webhook or the expiry sweep won; report what is stored now.
		current, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == req.Status {
			return current, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, req.Status)
	}

	from := p.Status
	p.Status = req.Status
	p.ProcessedAt = processedAt
	s.logEvent(ctx, p.ID, from, p.Status, models.PaymentActorProvider, map[string]any{"provider_ref": req.ProviderRef})

	if p.Status == models.PaymentStatusProcessed {
		ev := events.PaymentConfirmed{PaymentID: p.ID.String(), TransactionID: p.TransactionID.String()}
		if err := s.publisher.Publish(ctx, events.TerminalChannel(p.Subject), ev); err != nil {
			// The terminal still learns the outcome through its status lookup.
			s.log.Error("publish payment_confirmed failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
		}
	}

	s.log.Info("payment status changed",
		zap.String("payment_id", p.ID.String()),
		zap.String("from", from),
		zap.String("to", p.Status),
	)
	return p, nil
}

// ExpireStale expires PENDING payments past their deadline and announces
// each one. It returns how many were expired.
func (s *PaymentService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireStale(ctx, s.cfg.Clock.Now(), 100)
	if err != nil {
		return 0, fmt.Errorf("expire payments: %w", err)
	}
	for i := range expired {
		s.logEvent(ctx, expired[i].ID, models.PaymentStatusPending, models.PaymentStatusExpired, models.PaymentActorWorker, nil)
		s.publishExpired(ctx, &expired[i])
	}
	if len(expired) > 0 {
		s.log.Info("stale payments expired", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// expireLate moves a PENDING payment whose window closed before the
// provider answered to EXPIRED. If the sweep got there first nothing is
// published twice.
func (s *PaymentService) expireLate(ctx context.Context, p *models.Payment, req ConfirmRequest) {
	ok, err := s.repo.UpdateStatus(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusExpired, nil)
	if err != nil {
		s.log.Error("expire late payment failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return
	}
	s.log.Warn("provider status after payment window",
		zap.String("payment_id", p.ID.String()),
		zap.String("status", req.Status),
		zap.Time("expires_at", p.ExpiresAt),
	)
	if !ok {
		return
	}
	p.Status = models.PaymentStatusExpired
	s.logEvent(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusExpired, models.PaymentActorProvider, map[string]any{
		"late_status":  req.Status,
		"provider_ref": req.ProviderRef,
	})
	s.publishExpired(ctx, p)
}

func (s *PaymentService) publishExpired(ctx context.Context, p *models.Payment) {
	ev := events.PaymentExpired{PaymentID: p.ID.String(), TransactionID: p.TransactionID.String()}
	if err := s.publisher.Publish(ctx, events.TerminalChannel(p.Subject), ev); err != nil {
		s.log.Warn("publish payment_expired failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

func (s *PaymentService) logEvent(ctx context.Context, id uuid.UUID, from, to, actor string, meta map[string]any) {
	err := s.repo.LogEvent(ctx, models.PaymentEvent{PaymentID: id, FromStatus: from, ToStatus: to, Actor: actor, Meta: meta})
	if err != nil {
		s.log.Warn("payment history write failed", zap.String("payment_id", id.String()), zap.Error(err))
	}
}

func toStatus(p *models.Payment) *payment.Status {
	return &payment.Status{
		PaymentID:     p.ID.String(),
		Status:        p.Status,
		Sum:           p.Sum,
		TransactionID: p.TransactionID.String(),
		ProcessedAt:   p.ProcessedAt,
	}
}
