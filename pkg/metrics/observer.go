// Package metrics exports session lifecycle metrics to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erdlink/erdlink-go/pkg/connection"
)

const namespace = "erdlink"

var allStates = []connection.State{
	connection.StateInitializing,
	connection.StateAuthorizingOAuth,
	connection.StateWaiting,
	connection.StateConnected,
	connection.StateDropped,
	connection.StateDisconnecting,
	connection.StateDisconnected,
}

// Observer turns bus events into Prometheus metrics.
type Observer struct {
	state               *prom.GaugeVec
	transitions         *prom.CounterVec
	reconnects          prom.Counter
	appliancesAvailable prom.Gauge
	applianceEvents     *prom.CounterVec

	mu       sync.Mutex
	stateSeq uint64
	bus      connection.Subscriber
	subs     []connection.Subscription
}

// NewObserver constructs and registers the session metrics. A nil
// registerer selects a private registry.
func NewObserver(reg prom.Registerer) *Observer {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	o := &Observer{
		state: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current session state (1 for the active state)",
		}, []string{"state"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		reconnects: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a dropped connection",
		}),
		appliancesAvailable: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "appliances_available",
			Help:      "Appliances currently reported online",
		}),
		applianceEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "appliance_events_total",
			Help:      "Appliance events by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(o.state, o.transitions, o.reconnects, o.appliancesAvailable, o.applianceEvents)
	o.setState(connection.StateInitializing)
	return o
}

// Attach subscribes the observer to bus.
func (o *Observer) Attach(bus connection.Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.bus = bus
	for _, kind := range []connection.EventKind{
		connection.EventStateChanged,
		connection.EventApplianceInitialUpdate,
		connection.EventApplianceAvailable,
		connection.EventApplianceUnavailable,
	} {
		o.subs = append(o.subs, bus.Subscribe(kind, o.handle))
	}
}

// Detach removes the observer's subscriptions.
func (o *Observer) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, sub := range o.subs {
		o.bus.Unsubscribe(sub)
	}
	o.subs = nil
}

func (o *Observer) handle(e connection.Event) {
	switch e.Kind {
	case connection.EventStateChanged:
		o.transitions.WithLabelValues(e.StateChange.Old.String(), e.StateChange.New.String()).Inc()
		if e.StateChange.New == connection.StateWaiting {
			o.reconnects.Inc()
		}

		// Handlers run concurrently; only a newer event may set the gauge.
		o.mu.Lock()
		if e.Seq > o.stateSeq {
			o.stateSeq = e.Seq
			o.setState(e.StateChange.New)
		}
		o.mu.Unlock()

	case connection.EventApplianceAvailable:
		o.appliancesAvailable.Inc()
		o.applianceEvents.WithLabelValues(e.Kind.Subject()).Inc()

	case connection.EventApplianceUnavailable:
		o.appliancesAvailable.Dec()
		o.applianceEvents.WithLabelValues(e.Kind.Subject()).Inc()

	case connection.EventApplianceInitialUpdate:
		o.applianceEvents.WithLabelValues(e.Kind.Subject()).Inc()
	}
}

func (o *Observer) setState(current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		o.state.WithLabelValues(s.String()).Set(v)
	}
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by g.
func Handler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
