package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/repositories"
)

type published struct {
	channel string
	event   events.Event
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{channel: channel, event: ev})
	return p.err
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	history  []models.PaymentEvent
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[uuid.UUID]*models.Payment)}
}

func (s *fakePaymentStore) Create(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *fakePaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePaymentStore) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TransactionID == txID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakePaymentStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, processedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if processedAt != nil {
		p.ProcessedAt = processedAt
	}
	return true, nil
}

func (s *fakePaymentStore) ExpireStale(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && !p.ExpiresAt.After(now) {
			p.Status = models.PaymentStatusExpired
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePaymentStore) LogEvent(ctx context.Context, e models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	return nil
}

func (s *fakePaymentStore) History(ctx context.Context, paymentID uuid.UUID, limit int) ([]models.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range s.history {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeNotificationStore struct {
	mu    sync.Mutex
	items []models.Notification
	now   time.Time
}

func (s *fakeNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = s.now
	s.items = append(s.items, *n)
	return nil
}

func (s *fakeNotificationStore) ListByRecipient(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.items {
		if n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeNotificationStore) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.items {
		for _, id := range ids {
			if s.items[i].ID == id && s.items[i].Recipient == recipient && !s.items[i].IsRead {
				s.items[i].IsRead = true
				n++
			}
		}
	}
	return n, nil
}

func (s *fakeNotificationStore) DeleteReadBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.Notification
	var n int64
	for _, item := range s.items {
		if item.IsRead && item.CreatedAt.Before(t) {
			n++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return n, nil
}
