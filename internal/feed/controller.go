// Package feed keeps the reconciled notification list and unread badge of
// a terminal up to date.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/clock"
	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/metrics"
	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/reconcile"
)

// Source is the notification collaborator.
type Source interface {
	List(ctx context.Context) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, ids []string) error
}

// Bus is the part of the event bus the controller listens to.
type Bus interface {
	Subscribe(kind events.Kind, h eventbus.Handler) *eventbus.Subscription
	WatchState(w eventbus.StateWatcher) *eventbus.Subscription
}

type Config struct {
	// PollInterval enables a periodic refresh on top of push triggers.
	PollInterval time.Duration
	// FetchTimeout bounds one triggered refresh.
	FetchTimeout time.Duration
	Clock        clock.Clock
	Metrics      *metrics.Metrics
}

type Item struct {
	models.Notification
	Category reconcile.Category `json:"category"`
}

type Snapshot struct {
	Items     []Item    `json:"items"`
	Unread    int       `json:"unreadCount"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Error holds the last refresh failure; Items are then from the last
	// successful refresh.
	Error string `json:"error,omitempty"`
}

type Controller struct {
	src Source
	bus Bus
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	raw      []models.Notification
	snap     Snapshot
	watchers map[uint64]func(Snapshot)
	nextID   uint64
	notifyMu sync.Mutex

	// refreshMu serializes fetches so results are applied in request order.
	refreshMu sync.Mutex

	trigger chan struct{}
	subs    []*eventbus.Subscription
	ticker  *clock.Ticker
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(src Source, bus Bus, cfg Config, log *zap.Logger) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Controller{
		src:      src,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		snap:     Snapshot{Items: []Item{}},
		watchers: make(map[uint64]func(Snapshot)),
		trigger:  make(chan struct{}, 1),
	}
}

// Start subscribes to notification events and connection state, performs
// the initial fetch and starts the refresh worker. An initial fetch error
// is returned but the controller keeps running and retries on the next
// trigger. A stopped controller can be started again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true

	subs := make([]*eventbus.Subscription, 0, len(events.NotificationKinds)+1)
	for _, kind := range events.NotificationKinds {
		subs = append(subs, c.bus.Subscribe(kind, func(events.Event) error {
			c.Trigger()
			return nil
		}))
	}
	// Events sent while disconnected are lost, so every return to
	// Connected re-fetches.
	subs = append(subs, c.bus.WatchState(func(from, to eventbus.ConnState) {
		if to == eventbus.Connected {
			c.Trigger()
		}
	}))
	c.subs = subs

	c.ticker = nil
	if c.cfg.PollInterval > 0 {
		c.ticker = c.cfg.Clock.NewTicker(c.cfg.PollInterval)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	ticker, done := c.ticker, c.done
	c.mu.Unlock()

	err := c.Refresh(ctx)
	go c.worker(workerCtx, ticker, done)
	return err
}

// Stop releases the bus subscriptions and waits for the worker.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	subs, ticker, cancel, done := c.subs, c.ticker, c.cancel, c.done
	c.subs, c.ticker, c.cancel, c.done = nil, nil, nil, nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if ticker != nil {
		ticker.Stop()
	}
	cancel()
	<-done

	// a trigger left over from this run must not fire in the next one
	select {
	case <-c.trigger:
	default:
	}
}

// Trigger schedules a refresh without blocking. Triggers arriving while
// one is already pending are merged.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Controller) worker(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if ticker != nil {
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		case <-tick:
		}
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		if err := c.Refresh(fetchCtx); err != nil && ctx.Err() == nil {
			c.log.Warn("notification refresh failed", zap.Error(err))
		}
		cancel()
	}
}

// Refresh re-fetches the raw list and recomputes the reconciled state.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	list, err := c.src.List(ctx)
	if err != nil {
		c.mu.Lock()
		c.snap.Error = err.Error()
		unread := c.snap.Unread
		c.mu.Unlock()
		c.cfg.Metrics.FeedRefresh(false, unread)
		c.emit()
		return fmt.Errorf("fetch notifications: %w", err)
	}

	c.mu.Lock()
	c.raw = list
	c.rebuildLocked()
	unread := c.snap.Unread
	c.mu.Unlock()

	c.cfg.Metrics.FeedRefresh(true, unread)
	c.emit()
	c.log.Debug("notifications refreshed", zap.Int("raw", len(list)), zap.Int("unread", unread))
	return nil
}

// MarkAsRead marks ids read locally, then forwards the change. A remote
// failure is returned to the caller and the local change is kept.
func (c *Controller) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	c.mu.Lock()
	raw := make([]models.Notification, len(c.raw))
	copy(raw, c.raw)
	for i := range raw {
		if _, ok := set[raw[i].ID]; ok {
			raw[i].IsRead = true
		}
	}
	c.raw = raw
	c.rebuildLocked()
	c.mu.Unlock()
	c.emit()

	if err := c.src.MarkAsRead(ctx, ids); err != nil {
		c.log.Warn("mark notifications read failed", zap.Strings("ids", ids), zap.Error(err))
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Controller) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Unread
}

// Watch calls fn with the latest snapshot after every change.
func (c *Controller) Watch(fn func(Snapshot)) (stop func()) {
	c.notifyMu.Lock()
	c.nextID++
	id := c.nextID
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

// rebuildLocked derives the reconciled list and unread count from raw.
// The badge counts the reconciled list so superseded duplicates do not
// inflate it.
func (c *Controller) rebuildLocked() {
	kept := reconcile.Deduplicate(c.raw)
	items := make([]Item, len(kept))
	for i, n := range kept {
		items[i] = Item{Notification: n, Category: reconcile.Classify(n.Type)}
	}
	c.snap = Snapshot{
		Items:     items,
		Unread:    reconcile.UnreadCount(kept),
		UpdatedAt: c.cfg.Clock.Now(),
	}
}

func (c *Controller) emit() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	snap := c.Snapshot()
	for _, fn := range c.watchers {
		fn(snap)
	}
}
