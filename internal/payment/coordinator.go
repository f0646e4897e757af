// Package payment drives the QR payment state machine of a terminal.
//
// A session waits for one of two writers: the server-pushed confirmation
// or the local expiry timer. Both perform their guarded check-and-set
// under the coordinator lock, so whichever runs first wins and the other
// becomes a no-op.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/clock"
	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/metrics"
	"github.com/taxi-dispatch/backend/internal/models"
)

const (
	DefaultTimeout        = 5 * time.Minute
	DefaultVerifyInterval = 10 * time.Second
	DefaultVerifyAttempts = 6

	verifyLookupTimeout = 30 * time.Second
)

type Config struct {
	// Timeout is the waiting window of a session.
	Timeout time.Duration
	// VerifyConfirmations looks the payment up with the provider before
	// reporting it completed.
	VerifyConfirmations bool
	// VerifyInterval and VerifyAttempts bound the re-checks of a payment
	// the provider still reports as pending.
	VerifyInterval time.Duration
	VerifyAttempts int
	Clock          clock.Clock
	Metrics        *metrics.Metrics
}

// EventSource is the part of the event bus the coordinator consumes.
type EventSource interface {
	OnPaymentConfirmed(fn func(events.PaymentConfirmed) error) *eventbus.Subscription
	WatchState(w eventbus.StateWatcher) *eventbus.Subscription
}

type Coordinator struct {
	client Client
	cfg    Config
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	session *Session
	timer   *clock.Timer
	// attempt changes on every GenerateQR, CancelPayment and Reset, so a
	// late response or timer from a superseded attempt can be recognised.
	attempt uint64
	// ctx scopes background verification; Attach derives it from the
	// caller and detach cancels it.
	ctx       context.Context
	ctxCancel context.CancelFunc

	notifyMu  sync.Mutex
	watchers  map[uint64]func(State)
	watcherID uint64
}

func NewCoordinator(client Client, cfg Config, log *zap.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = DefaultVerifyInterval
	}
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = DefaultVerifyAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Coordinator{
		client:   client,
		cfg:      cfg,
		log:      log,
		state:    State{Phase: PhaseIdle},
		ctx:      context.Background(),
		watchers: make(map[uint64]func(State)),
	}
}

// Attach subscribes the coordinator to payment confirmations and to
// connection state. Verification lookups started afterwards are bound to
// ctx. The returned func releases both subscriptions and cancels pending
// verification.
func (c *Coordinator) Attach(ctx context.Context, src EventSource) (detach func()) {
	vctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	c.ctx, c.ctxCancel = vctx, cancel
	c.mu.Unlock()

	confirmed := src.OnPaymentConfirmed(c.HandleConfirmation)
	watched := src.WatchState(func(from, to eventbus.ConnState) {
		if from == eventbus.Connected && to != eventbus.Connected {
			c.markMissedEvents()
		}
	})
	return func() {
		confirmed.Unsubscribe()
		watched.Unsubscribe()
		cancel()
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, if any.
func (c *Coordinator) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Watch calls fn after every state change with the latest state. fn must
// not call back into the coordinator synchronously.
func (c *Coordinator) Watch(fn func(State)) (stop func()) {
	c.notifyMu.Lock()
	c.watcherID++
	id := c.watcherID
	c.watchers[id] = fn
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.notifyMu.Lock()
			delete(c.watchers, id)
			c.notifyMu.Unlock()
		})
	}
}

// GenerateQR validates the input, requests a QR code and arms the expiry
// timer for the new transaction. Validation errors leave the state as it
// was.
func (c *Coordinator) GenerateQR(ctx context.Context, sum float64, note string) (Session, error) {
	rounded, cleaned, err := ValidateRequest(sum, note)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	if c.state.Phase == PhaseGenerating {
		c.mu.Unlock()
		return Session{}, ErrInProgress
	}
	c.stopTimerLocked()
	c.session = nil
	c.attempt++
	attempt := c.attempt
	c.setLocked(State{Phase: PhaseGenerating, Sum: rounded})
	c.mu.Unlock()
	c.emit()

	resp, err := c.client.GenerateQR(ctx, QRRequest{Sum: rounded, Note: cleaned})

	c.mu.Lock()
	if c.attempt != attempt || c.state.Phase != PhaseGenerating {
		c.mu.Unlock()
		c.log.Info("discarding qr response for superseded attempt", zap.Error(err))
		return Session{}, ErrSuperseded
	}
	if err == nil && (resp == nil || resp.TransactionID == "") {
		err = errors.New("response without transactionId")
	}
	if err != nil {
		reqErr := &RequestError{Op: "generate qr", Err: err}
		c.setLocked(failedState(rounded, reqErr))
		c.mu.Unlock()
		c.emit()
		c.log.Warn("qr generation failed", zap.Float64("sum", rounded), zap.Error(err))
		return Session{}, reqErr
	}

	now := c.cfg.Clock.Now()
	sess := Session{
		TransactionID: resp.TransactionID,
		Sum:           rounded,
		QRPayload:     resp.QRBase64,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.cfg.Timeout),
	}
	if resp.QRURL != nil {
		sess.QRURL = *resp.QRURL
	}
	c.session = &sess
	expiresAt := sess.ExpiresAt
	c.setLocked(State{
		Phase:         PhaseWaiting,
		Sum:           rounded,
		TransactionID: sess.TransactionID,
		QRPayload:     sess.QRPayload,
		QRURL:         sess.QRURL,
		ExpiresAt:     &expiresAt,
	})
	tx := sess.TransactionID
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.Timeout, func() { c.expire(tx, attempt) })
	c.mu.Unlock()
	c.emit()

	c.log.Info("payment qr issued",
		zap.String("transaction_id", tx),
		zap.Float64("sum", rounded),
		zap.Time("expires_at", expiresAt),
	)
	return sess, nil
}

// HandleConfirmation applies a pushed confirmation. Events for another
// transaction, or arriving outside the waiting phase, are ignored.
func (c *Coordinator) HandleConfirmation(ev events.PaymentConfirmed) error {
	c.mu.Lock()
	if c.state.Phase != PhaseWaiting || c.state.TransactionID != ev.TransactionID {
		phase := c.state.Phase
		c.mu.Unlock()
		c.log.Debug("ignoring stale payment confirmation",
			zap.String("transaction_id", ev.TransactionID),
			zap.String("phase", string(phase)),
		)
		return nil
	}

	c.stopTimerLocked()
	sum := c.state.Sum
	next := State{Phase: PhaseCompleted, Sum: sum, TransactionID: ev.TransactionID, PaymentID: ev.PaymentID}
	verify := c.cfg.VerifyConfirmations && ev.PaymentID != ""
	if verify {
		next.Phase = PhaseProcessing
	}
	c.setLocked(next)
	attempt := c.attempt
	c.mu.Unlock()
	c.emit()

	c.log.Info("payment confirmed",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("payment_id", ev.PaymentID),
		zap.Bool("verifying", verify),
	)

	if verify {
		// Bus handlers must not block; the lookup runs on its own goroutine.
		go c.verify(attempt, ev.PaymentID, 1)
	}
	return nil
}

// verify looks the payment up and, while the provider still reports it
// pending, arms the next re-check until VerifyAttempts is used up.
func (c *Coordinator) verify(attempt uint64, paymentID string, n int) {
	c.mu.Lock()
	base := c.ctx
	c.mu.Unlock()
	if base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, verifyLookupTimeout)
	defer cancel()
	status, err := c.lookup(ctx, attempt, paymentID)
	if err != nil {
		c.log.Warn("payment verification failed", zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	if status.Status == models.PaymentStatusPending {
		c.recheck(attempt, paymentID, n)
	}
}

func (c *Coordinator) recheck(attempt uint64, paymentID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state.Phase != PhaseProcessing || c.state.PaymentID != paymentID {
		return
	}
	if n >= c.cfg.VerifyAttempts {
		c.log.Warn("payment still pending after verification attempts",
			zap.String("payment_id", paymentID),
			zap.Int("attempts", n),
		)
		return
	}
	c.stopTimerLocked()
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.VerifyInterval, func() { c.verify(attempt, paymentID, n+1) })
}

// CheckStatus looks the current payment up with the provider. While
// processing, the result drives the next transition; once completed it is
// informational only.
func (c *Coordinator) CheckStatus(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	st := c.state
	attempt := c.attempt
	c.mu.Unlock()

	if st.PaymentID == "" || (st.Phase != PhaseProcessing && st.Phase != PhaseCompleted) {
		return nil, ErrNoPayment
	}
	return c.lookup(ctx, attempt, st.PaymentID)
}

func (c *Coordinator) lookup(ctx context.Context, attempt uint64, paymentID string) (*Status, error) {
	status, err := c.client.GetStatus(ctx, paymentID)
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away; the payment itself is still undecided.
			return nil, err
		}
		reqErr := &RequestError{Op: "payment status", Err: err}
		c.applyLookup(attempt, paymentID, func(st State) (State, bool) {
			return failedState(st.Sum, reqErr), true
		})
		return nil, reqErr
	}

	c.applyLookup(attempt, paymentID, func(st State) (State, bool) {
		switch status.Status {
		case models.PaymentStatusProcessed:
			st.Phase = PhaseCompleted
			return st, true
		case models.PaymentStatusFailed:
			return failedState(st.Sum, ErrRejected), true
		case models.PaymentStatusExpired:
			return State{Phase: PhaseExpired, Sum: st.Sum, TransactionID: st.TransactionID}, true
		default:
			return st, false
		}
	})
	return status, nil
}

// applyLookup transitions out of processing when the lookup still refers
// to the current attempt.
func (c *Coordinator) applyLookup(attempt uint64, paymentID string, next func(State) (State, bool)) {
	c.mu.Lock()
	if c.attempt != attempt || c.state.Phase != PhaseProcessing || c.state.PaymentID != paymentID {
		c.mu.Unlock()
		return
	}
	st, ok := next(c.state)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.setLocked(st)
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) expire(tx string, attempt uint64) {
	c.mu.Lock()
	if c.attempt != attempt || c.state.Phase != PhaseWaiting || c.state.TransactionID != tx {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setLocked(State{Phase: PhaseExpired, Sum: c.state.Sum, TransactionID: tx})
	c.mu.Unlock()
	c.emit()

	c.log.Info("payment window expired", zap.String("transaction_id", tx))
}

// CancelPayment отменяет ожидание оплаты только локально: провайдер не
// поддерживает отмену, поэтому запрос на сервер не отправляется.
func (c *Coordinator) CancelPayment() error {
	c.mu.Lock()
	if c.state.Phase != PhaseGenerating && c.state.Phase != PhaseWaiting {
		c.mu.Unlock()
		return ErrNothingToCancel
	}
	tx := c.state.TransactionID
	c.clearLocked()
	c.mu.Unlock()
	c.emit()

	c.log.Info("payment cancelled locally", zap.String("transaction_id", tx))
	return nil
}

// Reset forces the coordinator back to idle from any state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) markMissedEvents() {
	c.mu.Lock()
	if c.state.Phase != PhaseWaiting || c.state.MissedEventsPossible {
		c.mu.Unlock()
		return
	}
	c.state.MissedEventsPossible = true
	tx := c.state.TransactionID
	c.mu.Unlock()
	c.emit()

	c.log.Warn("push connection dropped while waiting for payment", zap.String("transaction_id", tx))
}

func (c *Coordinator) clearLocked() {
	c.stopTimerLocked()
	c.session = nil
	c.attempt++
	c.setLocked(State{Phase: PhaseIdle})
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) setLocked(st State) {
	c.state = st
	c.cfg.Metrics.PaymentTransition(string(st.Phase))
}

func (c *Coordinator) emit() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	for _, fn := range c.watchers {
		fn(st)
	}
}
