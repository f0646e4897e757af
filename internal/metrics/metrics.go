// Package metrics exposes Prometheus collectors for the realtime core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	eventsDispatched *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	handlerFaults    *prometheus.CounterVec
	connTransitions  *prometheus.CounterVec
	paymentOutcomes  *prometheus.CounterVec
	feedRefreshes    *prometheus.CounterVec
	unread           prometheus.Gauge
}

// New registers the collectors on reg; a nil reg means the default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_events_dispatched_total",
			Help: "Push events delivered to subscribers",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_events_dropped_total",
			Help: "Inbound frames that were not dispatched",
		}, []string{"reason"}),
		handlerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_handler_faults_total",
			Help: "Handler panics recovered by the bus",
		}, []string{"event"}),
		connTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_connection_transitions_total",
			Help: "Connection lifecycle transitions by target state",
		}, []string{"state"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment coordinator transitions by target phase",
		}, []string{"phase"}),
		feedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_feed_refreshes_total",
			Help: "Notification feed refreshes by result",
		}, []string{"result"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_feed_unread",
			Help: "Unread notifications after reconciliation",
		}),
	}

	var err error
	if m.eventsDispatched, err = registerCounterVec(reg, m.eventsDispatched); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = registerCounterVec(reg, m.eventsDropped); err != nil {
		return nil, err
	}
	if m.handlerFaults, err = registerCounterVec(reg, m.handlerFaults); err != nil {
		return nil, err
	}
	if m.connTransitions, err = registerCounterVec(reg, m.connTransitions); err != nil {
		return nil, err
	}
	if m.paymentOutcomes, err = registerCounterVec(reg, m.paymentOutcomes); err != nil {
		return nil, err
	}
	if m.feedRefreshes, err = registerCounterVec(reg, m.feedRefreshes); err != nil {
		return nil, err
	}
	if err := reg.Register(m.unread); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.unread = are.ExistingCollector.(prometheus.Gauge)
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) EventDispatched(event string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(event).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) HandlerFault(event string) {
	if m == nil {
		return
	}
	m.handlerFaults.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionTransition(state string) {
	if m == nil {
		return
	}
	m.connTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) PaymentTransition(phase string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(phase).Inc()
}

func (m *Metrics) FeedRefresh(ok bool, unread int) {
	if m == nil {
		return
	}
	if !ok {
		m.feedRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.feedRefreshes.WithLabelValues("ok").Inc()
	m.unread.Set(float64(unread))
}
