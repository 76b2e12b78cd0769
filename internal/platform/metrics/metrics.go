package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the boost pipeline,
// the device schedulers and the admin HTTP surface.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	relayEventsTotal  *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	duplicatesTotal   prometheus.Counter
	confirmedTotal    prometheus.Counter
	unconfirmedTotal  prometheus.Counter
	sessionsStarted   *prometheus.CounterVec
	sessionsAbandoned *prometheus.CounterVec
	deviceCommands    *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boostlights_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boostlights_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	relayEventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boostlights_relay_events_total",
		Help: "Events received from each relay before validation",
	}, []string{"relay"})
	rejectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boostlights_events_rejected_total",
		Help: "Events dropped by the validator, by reason",
	}, []string{"reason"})
	duplicatesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boostlights_duplicates_total",
		Help: "Zap receipts or payments suppressed as duplicates",
	})
	confirmedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boostlights_boosts_confirmed_total",
		Help: "Boosts confirmed by the wallet",
	})
	unconfirmedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boostlights_boosts_unconfirmed_total",
		Help: "Zap receipts the wallet could not confirm",
	})
	sessionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boostlights_sessions_started_total",
		Help: "Playback sessions started per device",
	}, []string{"device"})
	sessionsAbandoned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boostlights_sessions_abandoned_total",
		Help: "Playback sessions abandoned because the device was unreachable",
	}, []string{"device"})
	deviceCommands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boostlights_device_commands_total",
		Help: "Device commands issued per device and result",
	}, []string{"device", "result"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boostlights_active_sessions",
		Help: "Number of devices currently playing a session",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		relayEventsTotal,
		rejectedTotal,
		duplicatesTotal,
		confirmedTotal,
		unconfirmedTotal,
		sessionsStarted,
		sessionsAbandoned,
		deviceCommands,
		activeSessions,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		relayEventsTotal:  relayEventsTotal,
		rejectedTotal:     rejectedTotal,
		duplicatesTotal:   duplicatesTotal,
		confirmedTotal:    confirmedTotal,
		unconfirmedTotal:  unconfirmedTotal,
		sessionsStarted:   sessionsStarted,
		sessionsAbandoned: sessionsAbandoned,
		deviceCommands:    deviceCommands,
		activeSessions:    activeSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRelayEvents counts one raw event from relay.
func (m *Metrics) IncRelayEvents(relay string) {
	m.relayEventsTotal.WithLabelValues(relay).Inc()
}

// IncRejected counts one event dropped by the validator.
func (m *Metrics) IncRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

// IncDuplicates counts one suppressed duplicate.
func (m *Metrics) IncDuplicates() {
	m.duplicatesTotal.Inc()
}

// IncConfirmed counts one wallet-confirmed boost.
func (m *Metrics) IncConfirmed() {
	m.confirmedTotal.Inc()
}

// IncUnconfirmed counts one receipt the wallet did not confirm.
func (m *Metrics) IncUnconfirmed() {
	m.unconfirmedTotal.Inc()
}

// IncSessionsStarted counts a new playback session on device.
func (m *Metrics) IncSessionsStarted(device string) {
	m.sessionsStarted.WithLabelValues(device).Inc()
}

// IncSessionsAbandoned counts a session dropped after device failures.
func (m *Metrics) IncSessionsAbandoned(device string) {
	m.sessionsAbandoned.WithLabelValues(device).Inc()
}

// IncDeviceCommands counts one device command with result "ok" or "error".
func (m *Metrics) IncDeviceCommands(device, result string) {
	m.deviceCommands.WithLabelValues(device, result).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
