package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/clock"
	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/models"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    atomic.Int32
	seq      int
	err      error
	block    chan struct{}
	entered  chan struct{}
	statuses map[string]string
	lookups  atomic.Int32
	lastReq  QRRequest
}

func (f *fakeClient) GenerateQR(ctx context.Context, req QRRequest) (*QRResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.seq++
	seq := f.seq
	block, entered, err := f.block, f.entered, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://pay.example/qr/%d", seq)
	return &QRResponse{QRBase64: "data:image/png;base64,AAAA", QRURL: &url, TransactionID: fmt.Sprintf("tx-%d", seq)}, nil
}

func (f *fakeClient) GetStatus(ctx context.Context, paymentID string) (*Status, error) {
	f.lookups.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &Status{PaymentID: paymentID, Status: f.statuses[paymentID], Sum: 10}, nil
}

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestCoordinator(client Client, verify bool) (*Coordinator, *clock.FakeClock) {
	fc := clock.NewFake(start)
	c := NewCoordinator(client, Config{Clock: fc, VerifyConfirmations: verify}, zap.NewNop())
	return c, fc
}

func waiting(t *testing.T, c *Coordinator) string {
	t.Helper()
	sess, err := c.GenerateQR(context.Background(), 250.5, "Order #42")
	require.NoError(t, err)
	require.Equal(t, PhaseWaiting, c.State().Phase)
	return sess.TransactionID
}

func TestGenerateQRValidationFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		sum   float64
		note  string
		field string
	}{
		{"zero sum", 0, "ride", "sum"},
		{"negative sum", -10, "ride", "sum"},
		{"rounds to zero", 0.004, "ride", "sum"},
		{"nan", math.NaN(), "ride", "sum"},
		{"infinite", math.Inf(1), "ride", "sum"},
		{"empty note", 10, "", "note"},
		{"blank note", 10, "   ", "note"},
		{"control characters only", 10, "\t\n\x00", "note"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			c, _ := newTestCoordinator(client, false)

			_, err := c.GenerateQR(context.Background(), tt.sum, tt.note)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, int32(0), client.calls.Load())
			assert.Equal(t, PhaseIdle, c.State().Phase)
		})
	}
}

func TestGenerateQRValidationKeepsCurrentState(t *testing.T) {
	client := &fakeClient{}
	c, fc := newTestCoordinator(client, false)
	tx := waiting(t, c)

	_, err := c.GenerateQR(context.Background(), -1, "x")
	require.ErrorIs(t, err, ErrValidation)

	st := c.State()
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Equal(t, tx, st.TransactionID)
	assert.Equal(t, 1, fc.Pending())
}

func TestGenerateQRArmsSingleTimer(t *testing.T) {
	client := &fakeClient{}
	c, fc := newTestCoordinator(client, false)

	sess, err := c.GenerateQR(context.Background(), 99.999, "  Поездка\n в аэропорт ")
	require.NoError(t, err)

	assert.Equal(t, "tx-1", sess.TransactionID)
	assert.Equal(t, 100.0, sess.Sum)
	assert.Equal(t, start.Add(DefaultTimeout), sess.ExpiresAt)
	assert.Equal(t, QRRequest{Sum: 100, Note: "Поездка в аэропорт"}, client.lastReq)

	st := c.State()
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Equal(t, "tx-1", st.TransactionID)
	assert.Equal(t, "https://pay.example/qr/1", st.QRURL)
	assert.Equal(t, 1, fc.Pending())

	got, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, sess, got)
}

func TestConfirmationCompletesExactlyOnce(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	tx := waiting(t, c)

	var phases []Phase
	c.Watch(func(st State) { phases = append(phases, st.Phase) })

	ev := events.PaymentConfirmed{PaymentID: "pay-1", TransactionID: tx}
	require.NoError(t, c.HandleConfirmation(ev))
	require.NoError(t, c.HandleConfirmation(ev))

	st := c.State()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, "pay-1", st.PaymentID)
	assert.Equal(t, 250.5, st.Sum)
	assert.Equal(t, []Phase{PhaseCompleted}, phases)
	assert.Equal(t, 0, fc.Pending(), "timer must be disarmed on completion")

	fc.Advance(DefaultTimeout * 2)
	assert.Equal(t, PhaseCompleted, c.State().Phase)
}

func TestConfirmationForForeignTransactionIsIgnored(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	tx := waiting(t, c)
	before := c.State()

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "p", TransactionID: "someone-else"}))

	assert.Equal(t, before, c.State())
	assert.Equal(t, tx, c.State().TransactionID)
	assert.Equal(t, 1, fc.Pending())
}

func TestConfirmationOutsideWaitingIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(&fakeClient{}, false)
	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{TransactionID: "tx-1"}))
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

func TestTimeoutExpiresSession(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	tx := waiting(t, c)

	fc.Advance(DefaultTimeout - time.Second)
	assert.Equal(t, PhaseWaiting, c.State().Phase)

	fc.Advance(time.Second)
	st := c.State()
	assert.Equal(t, PhaseExpired, st.Phase)
	assert.Equal(t, tx, st.TransactionID)

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "late", TransactionID: tx}))
	assert.Equal(t, PhaseExpired, c.State().Phase)
}

func TestCancelReturnsToIdle(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	tx := waiting(t, c)

	require.NoError(t, c.CancelPayment())
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.Equal(t, 0, fc.Pending())
	_, ok := c.Session()
	assert.False(t, ok)

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "p", TransactionID: tx}))
	assert.Equal(t, PhaseIdle, c.State().Phase)

	fc.Advance(DefaultTimeout)
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

func TestCancelOutsidePendingPhases(t *testing.T) {
	c, _ := newTestCoordinator(&fakeClient{}, false)
	assert.ErrorIs(t, c.CancelPayment(), ErrNothingToCancel)

	tx := waiting(t, c)
	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{TransactionID: tx}))
	assert.ErrorIs(t, c.CancelPayment(), ErrNothingToCancel)
	assert.Equal(t, PhaseCompleted, c.State().Phase)
}

func TestLateQRResponseAfterCancelIsDiscarded(t *testing.T) {
	client := &fakeClient{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c, fc := newTestCoordinator(client, false)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GenerateQR(context.Background(), 10, "late")
		errCh <- err
	}()

	<-client.entered
	assert.Equal(t, PhaseGenerating, c.State().Phase)

	_, err := c.GenerateQR(context.Background(), 10, "again")
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, c.CancelPayment())
	close(client.block)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.Equal(t, 0, fc.Pending())
}

func TestRequestFailureMovesToFailed(t *testing.T) {
	client := &fakeClient{err: errors.New("gateway unavailable")}
	c, fc := newTestCoordinator(client, false)

	_, err := c.GenerateQR(context.Background(), 10, "ride")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "generate qr", reqErr.Op)

	st := c.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "gateway unavailable")
	assert.Equal(t, 0, fc.Pending())
}

func TestNewSessionSupersedesPrevious(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	first := waiting(t, c)
	second := waiting(t, c)
	require.NotEqual(t, first, second)
	assert.Equal(t, 1, fc.Pending())

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{TransactionID: first}))
	assert.Equal(t, PhaseWaiting, c.State().Phase)

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{TransactionID: second}))
	assert.Equal(t, PhaseCompleted, c.State().Phase)
}

func TestResetFromAnyState(t *testing.T) {
	c, fc := newTestCoordinator(&fakeClient{}, false)
	c.Reset()
	assert.Equal(t, PhaseIdle, c.State().Phase)

	waiting(t, c)
	c.Reset()
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.Equal(t, 0, fc.Pending())

	tx := waiting(t, c)
	fc.Advance(DefaultTimeout)
	require.Equal(t, PhaseExpired, c.State().Phase)
	c.Reset()
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())

	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{TransactionID: tx}))
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

func TestVerifiedConfirmation(t *testing.T) {
	tests := []struct {
		status string
		want   Phase
	}{
		{models.PaymentStatusProcessed, PhaseCompleted},
		{models.PaymentStatusFailed, PhaseFailed},
		{models.PaymentStatusExpired, PhaseExpired},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			client := &fakeClient{statuses: map[string]string{"pay-7": tt.status}}
			c, fc := newTestCoordinator(client, true)
			tx := waiting(t, c)

			require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "pay-7", TransactionID: tx}))
			assert.Equal(t, 0, fc.Pending())

			require.Eventually(t, func() bool { return client.lookups.Load() == 1 }, time.Second, time.Millisecond)
			require.Eventually(t, func() bool { return c.State().Phase == tt.want }, time.Second, time.Millisecond)

			fc.Advance(DefaultTimeout)
			assert.Equal(t, tt.want, c.State().Phase)
		})
	}
}

func TestVerificationRechecksPendingPayment(t *testing.T) {
	pending := func(t *testing.T) (*Coordinator, *clock.FakeClock, *fakeClient) {
		t.Helper()
		client := &fakeClient{statuses: map[string]string{"pay-9": models.PaymentStatusPending}}
		c, fc := newTestCoordinator(client, true)
		tx := waiting(t, c)
		require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "pay-9", TransactionID: tx}))
		require.Eventually(t, func() bool { return fc.Pending() == 1 }, time.Second, time.Millisecond)
		require.Equal(t, int32(1), client.lookups.Load())
		require.Equal(t, PhaseProcessing, c.State().Phase)
		return c, fc, client
	}

	t.Run("completes once the provider decides", func(t *testing.T) {
		c, fc, client := pending(t)

		fc.Advance(DefaultVerifyInterval)
		assert.Equal(t, int32(2), client.lookups.Load())
		assert.Equal(t, PhaseProcessing, c.State().Phase)
		assert.Equal(t, 1, fc.Pending())

		client.mu.Lock()
		client.statuses["pay-9"] = models.PaymentStatusProcessed
		client.mu.Unlock()

		fc.Advance(DefaultVerifyInterval)
		assert.Equal(t, int32(3), client.lookups.Load())
		assert.Equal(t, PhaseCompleted, c.State().Phase)
		assert.Equal(t, 0, fc.Pending())
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		c, fc, client := pending(t)

		for i := 0; i < DefaultVerifyAttempts+2; i++ {
			fc.Advance(DefaultVerifyInterval)
		}
		assert.Equal(t, int32(DefaultVerifyAttempts), client.lookups.Load())
		assert.Equal(t, 0, fc.Pending())
		assert.Equal(t, PhaseProcessing, c.State().Phase)
	})

	t.Run("reset disarms the re-check", func(t *testing.T) {
		c, fc, client := pending(t)

		c.Reset()
		assert.Equal(t, 0, fc.Pending())
		fc.Advance(time.Hour)
		assert.Equal(t, int32(1), client.lookups.Load())
		assert.Equal(t, PhaseIdle, c.State().Phase)
	})
}

func TestVerificationStopsWithAttachContext(t *testing.T) {
	tests := []struct {
		name string
		stop func(cancel context.CancelFunc, detach func())
	}{
		{"parent cancelled", func(cancel context.CancelFunc, _ func()) { cancel() }},
		{"detached", func(_ context.CancelFunc, detach func()) { detach() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{statuses: map[string]string{"pay-10": models.PaymentStatusPending}}
			c, fc := newTestCoordinator(client, true)
			bus := eventbus.New(&dropTransport{drop: make(chan struct{})}, eventbus.Options{}, zap.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			detach := c.Attach(ctx, bus)
			defer detach()

			tx := waiting(t, c)
			require.Equal(t, 1, bus.Dispatch(events.PaymentConfirmed{PaymentID: "pay-10", TransactionID: tx}))
			require.Eventually(t, func() bool { return fc.Pending() == 1 }, time.Second, time.Millisecond)

			tt.stop(cancel, detach)
			fc.Advance(time.Hour)
			assert.Equal(t, int32(1), client.lookups.Load())
			assert.Equal(t, PhaseProcessing, c.State().Phase)
		})
	}
}

func TestCheckStatusDrivesProcessing(t *testing.T) {
	client := &fakeClient{statuses: map[string]string{"pay-8": models.PaymentStatusPending}}
	c, _ := newTestCoordinator(client, true)

	_, err := c.CheckStatus(context.Background())
	assert.ErrorIs(t, err, ErrNoPayment)

	tx := waiting(t, c)
	require.NoError(t, c.HandleConfirmation(events.PaymentConfirmed{PaymentID: "pay-8", TransactionID: tx}))
	require.Eventually(t, func() bool { return client.lookups.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, PhaseProcessing, c.State().Phase)

	client.mu.Lock()
	client.statuses["pay-8"] = models.PaymentStatusProcessed
	client.mu.Unlock()

	status, err := c.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessed, status.Status)
	assert.Equal(t, PhaseCompleted, c.State().Phase)

	status, err = c.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pay-8", status.PaymentID)
}

func TestWatchStop(t *testing.T) {
	c, _ := newTestCoordinator(&fakeClient{}, false)
	calls := 0
	stop := c.Watch(func(State) { calls++ })

	waiting(t, c)
	assert.Equal(t, 2, calls)

	stop()
	stop()
	c.Reset()
	assert.Equal(t, 2, calls)
}

// dropTransport serves one connection that ends when drop is closed, then
// refuses further dials until the bus stops.
type dropTransport struct {
	drop  chan struct{}
	dials atomic.Int32
}

func (d *dropTransport) Name() string { return "drop" }

func (d *dropTransport) Dial(ctx context.Context) (eventbus.Conn, error) {
	if d.dials.Add(1) > 1 {
		return nil, errors.New("offline")
	}
	return &dropConn{drop: d.drop}, nil
}

type dropConn struct{ drop chan struct{} }

func (c *dropConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-c.drop:
		return nil, errors.New("connection reset")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *dropConn) Close() error { return nil }

func TestAttachFollowsBus(t *testing.T) {
	tr := &dropTransport{drop: make(chan struct{})}
	bus := eventbus.New(tr, eventbus.Options{InitialInterval: time.Hour}, zap.NewNop())
	c, _ := newTestCoordinator(&fakeClient{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	detach := c.Attach(ctx, bus)

	go func() { _ = bus.Run(ctx) }()
	require.Eventually(t, bus.IsConnected, time.Second, time.Millisecond)

	tx := waiting(t, c)
	close(tr.drop)
	require.Eventually(t, func() bool { return c.State().MissedEventsPossible }, time.Second, time.Millisecond)

	bus.Dispatch(events.PaymentConfirmed{PaymentID: "p", TransactionID: tx})
	assert.Equal(t, PhaseCompleted, c.State().Phase)

	detach()
	detach()
	c.Reset()
	next := waiting(t, c)
	assert.Equal(t, 0, bus.Dispatch(events.PaymentConfirmed{TransactionID: next}))
	assert.Equal(t, PhaseWaiting, c.State().Phase)
}

func TestCleanNote(t *testing.T) {
	assert.Equal(t, "a b c", CleanNote(" a\tb\n\nc "))
	assert.Equal(t, "", CleanNote("\x00\x01"))

	long := ""
	for i := 0; i < 200; i++ {
		long += "я"
	}
	assert.Len(t, []rune(CleanNote(long)), maxNoteRunes)
}

func TestRoundSum(t *testing.T) {
	assert.Equal(t, 12.35, RoundSum(12.345678))
	assert.Equal(t, 100.0, RoundSum(99.999))
	assert.Equal(t, 0.0, RoundSum(0.004))
	assert.Equal(t, 0.01, RoundSum(0.005))
}
