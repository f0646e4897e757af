// Package eventbus fans push events from a live connection out to
// in-process subscribers.
//
// Delivery is at-most-once: frames sent by the server while the bus is not
// Connected are lost and never replayed. Consumers that cannot tolerate a
// gap watch the connection state and re-fetch after every reconnect.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/clock"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/metrics"
)

var ErrBusClosed = errors.New("event bus closed")

// ConnState is the lifecycle of the underlying push connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Handler consumes one event. A returned error or a panic is logged and
// does not affect other handlers.
type Handler func(ev events.Event) error

// StateWatcher observes connection lifecycle transitions.
type StateWatcher func(from, to ConnState)

// Options tunes the reconnect policy and the inbound queue.
type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	QueueSize       int
	Clock           clock.Clock
	Metrics         *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// Stats counts what happened to inbound frames since the bus was created.
type Stats struct {
	Dispatched uint64
	Dropped    uint64
	Faults     uint64
}

type Bus struct {
	transport Transport
	opts      Options
	log       *zap.Logger

	mu       sync.RWMutex
	state    ConnState
	handlers map[events.Kind][]*Subscription
	watchers []*Subscription
	nextID   uint64
	cancel   context.CancelFunc
	closed   bool

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	faults     atomic.Uint64
}

func New(transport Transport, opts Options, log *zap.Logger) *Bus {
	return &Bus{
		transport: transport,
		opts:      opts.withDefaults(),
		log:       log,
		handlers:  make(map[events.Kind][]*Subscription),
	}
}

// Subscription is the unregister token returned by Subscribe and WatchState.
type Subscription struct {
	bus     *Bus
	id      uint64
	kind    events.Kind
	handler Handler
	watcher StateWatcher
	once    sync.Once
}

// Unsubscribe releases the registration. Safe to call any number of times.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s) })
}

// Subscribe registers h for kind. Handlers for one kind run in
// registration order.
func (b *Bus) Subscribe(kind events.Kind, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, kind: kind, handler: h}
	b.handlers[kind] = append(b.handlers[kind], sub)
	return sub
}

// OnPaymentConfirmed subscribes a typed handler to payment confirmations.
func (b *Bus) OnPaymentConfirmed(fn func(events.PaymentConfirmed) error) *Subscription {
	return b.Subscribe(events.KindPaymentConfirmed, func(ev events.Event) error {
		pc, ok := ev.(events.PaymentConfirmed)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev, events.KindPaymentConfirmed)
		}
		return fn(pc)
	})
}

// WatchState registers w for every connection state transition.
func (b *Bus) WatchState(w StateWatcher) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, watcher: w}
	b.watchers = append(b.watchers, sub)
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.watcher != nil {
		b.watchers = without(b.watchers, sub.id)
		return
	}
	list := without(b.handlers[sub.kind], sub.id)
	if len(list) == 0 {
		delete(b.handlers, sub.kind)
		return
	}
	b.handlers[sub.kind] = list
}

func without(subs []*Subscription, id uint64) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) State() ConnState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Bus) IsConnected() bool { return b.State() == Connected }

func (b *Bus) Stats() Stats {
	return Stats{
		Dispatched: b.dispatched.Load(),
		Dropped:    b.dropped.Load(),
		Faults:     b.faults.Load(),
	}
}

// Dispatch delivers ev to every handler registered for its kind, in
// registration order, on the calling goroutine. It returns the number of
// handlers invoked.
func (b *Bus) Dispatch(ev events.Event) int {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.handlers[ev.Kind()]...)
	b.mu.RUnlock()

	for i, sub := range subs {
		b.invoke(i, sub, ev)
	}
	b.dispatched.Add(1)
	b.opts.Metrics.EventDispatched(string(ev.Kind()))
	return len(subs)
}

func (b *Bus) invoke(idx int, sub *Subscription, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.faults.Add(1)
			b.opts.Metrics.HandlerFault(string(ev.Kind()))
			b.log.Error("event handler panicked",
				zap.String("event", string(ev.Kind())),
				zap.Int("handler", idx),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(ev); err != nil {
		b.faults.Add(1)
		b.opts.Metrics.HandlerFault(string(ev.Kind()))
		b.log.Warn("event handler failed",
			zap.String("event", string(ev.Kind())),
			zap.Int("handler", idx),
			zap.Error(err),
		)
	}
}

func (b *Bus) setState(to ConnState) {
	b.mu.Lock()
	from := b.state
	if from == to {
		b.mu.Unlock()
		return
	}
	b.state = to
	watchers := append([]*Subscription(nil), b.watchers...)
	b.mu.Unlock()

	b.opts.Metrics.ConnectionTransition(to.String())
	b.log.Info("push connection state changed",
		zap.String("transport", b.transport.Name()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	for _, w := range watchers {
		b.notifyWatcher(w, from, to)
	}
}

func (b *Bus) notifyWatcher(w *Subscription, from, to ConnState) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("state watcher panicked", zap.Any("panic", r))
		}
	}()
	w.watcher(from, to)
}

// Run keeps the push connection alive until ctx is cancelled or Close is
// called. Inbound frames are decoded by the reader and dispatched from a
// single goroutine, so handlers never run concurrently with each other.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	queue := make(chan events.Event, b.opts.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range queue {
			b.Dispatch(ev)
		}
	}()
	defer func() {
		close(queue)
		wg.Wait()
		b.setState(Disconnected)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.InitialInterval
	bo.MaxInterval = b.opts.MaxInterval
	bo.Multiplier = b.opts.Multiplier
	bo.MaxElapsedTime = 0
	bo.Reset()

	everConnected := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		if everConnected {
			b.setState(Reconnecting)
		} else {
			b.setState(Connecting)
		}

		conn, err := b.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			b.log.Warn("push connection failed",
				zap.String("transport", b.transport.Name()),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-b.opts.Clock.After(wait):
			}
			continue
		}

		bo.Reset()
		everConnected = true
		b.setState(Connected)

		err = b.read(ctx, conn, queue)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("push connection lost", zap.String("transport", b.transport.Name()), zap.Error(err))
	}
}

func (b *Bus) read(ctx context.Context, conn Conn, queue chan<- events.Event) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ev, err := events.Decode(frame)
		if err != nil {
			reason := "decode"
			if errors.Is(err, events.ErrUnknownEvent) {
				reason = "unknown"
			}
			b.dropped.Add(1)
			b.opts.Metrics.EventDropped(reason)
			b.log.Debug("dropping push frame", zap.String("reason", reason), zap.Error(err))
			continue
		}
		select {
		case queue <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the connection down. The bus ends in Disconnected once Run
// returns; registered subscriptions are kept so owners can still release
// them.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	b.setState(Disconnected)
}
