// Package metrics exposes Prometheus instrumentation for rooms, connections and events.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collabroom"

// Event outcomes recorded on the events counter
const (
	OutcomeOK          = "ok"
	OutcomeMalformed   = "malformed"
	OutcomeNotMember   = "not_member"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnknown     = "unknown"
	OutcomeNoop        = "noop"
)

// Metrics holds every collector. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	// EventsTotal counts inbound events. Labels: event, outcome
	EventsTotal *prometheus.CounterVec

	ActiveRooms       prometheus.Gauge
	ActiveConnections prometheus.Gauge
	RoomsPurged       prometheus.Counter

	// DeliveriesDropped counts frames discarded because a write queue was full
	DeliveriesDropped prometheus.Counter

	JournalErrors prometheus.Counter

	// HTTPRequests and HTTPDuration. Labels: method, route, status
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers every collector with reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound room events by kind and outcome",
		}, []string{"event", "outcome"}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one member",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open WebSocket connections",
		}),
		RoomsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_purged_total",
			Help:      "Rooms whose code, canvas and cursor state was discarded",
		}),
		DeliveriesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Outbound frames dropped because a connection write queue was full",
		}),
		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Room activity records that could not be written",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) EventHandled(event, outcome string) {
	if m == nil || m.EventsTotal == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil || m.ActiveRooms == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) RoomPurged() {
	if m == nil || m.RoomsPurged == nil {
		return
	}
	m.RoomsPurged.Inc()
}

func (m *Metrics) DeliveryDropped() {
	if m == nil || m.DeliveriesDropped == nil {
		return
	}
	m.DeliveriesDropped.Inc()
}

func (m *Metrics) JournalWriteFailed() {
	if m == nil || m.JournalErrors == nil {
		return
	}
	m.JournalErrors.Inc()
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil || m.HTTPRequests == nil || m.HTTPDuration == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
