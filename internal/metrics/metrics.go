// Package metrics exports RCON activity as Prometheus collectors fed from
// the event bus.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/energizer-project/rconnect/internal/events"
)

// Metrics holds the collectors. Create one per registry.
type Metrics struct {
	buildInfo       *prometheus.GaugeVec
	sessionsActive  *prometheus.GaugeVec
	sessionsTotal   *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	pushesTotal     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	healthFailures  *prometheus.CounterVec

	mu     sync.Mutex
	active map[string]string // session id -> server
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rconnect_build_info",
				Help: "Build information for rconnect",
			},
			[]string{"version"},
		),
		sessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rconnect_sessions_active",
				Help: "Authenticated RCON sessions currently open",
			},
			[]string{"server"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_sessions_total",
				Help: "RCON sessions that completed the handshake",
			},
			[]string{"server"},
		),
		sessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_sessions_ended_total",
				Help: "RCON sessions that ended, by whether the end was clean",
			},
			[]string{"server", "clean"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_commands_total",
				Help: "Commands sent through the session pool",
			},
			[]string{"server", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rconnect_command_duration_seconds",
				Help:    "Round trip time of RCON commands",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"server"},
		),
		pushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_pushes_total",
				Help: "Unsolicited messages received from servers",
			},
			[]string{"server"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_errors_total",
				Help: "Error events by severity; warnings are discarded malformed frames",
			},
			[]string{"server", "severity"},
		),
		healthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rconnect_health_failures_total",
				Help: "Failed verification probes",
			},
			[]string{"server"},
		),
		active: make(map[string]string),
	}

	reg.MustRegister(
		m.buildInfo, m.sessionsActive, m.sessionsTotal, m.sessionsEnded,
		m.commandsTotal, m.commandDuration, m.pushesTotal, m.errorsTotal,
		m.healthFailures,
	)
	return m
}

// SetBuildInfo publishes the running version.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// Attach subscribes the collectors to bus.
func (m *Metrics) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventAuthenticated, "metrics", m.handle)
	bus.Subscribe(events.EventEnd, "metrics", m.handle)
	bus.Subscribe(events.EventCommandExecuted, "metrics", m.handle)
	bus.Subscribe(events.EventResponse, "metrics", m.handle)
	bus.Subscribe(events.EventError, "metrics", m.handle)
	bus.Subscribe(events.EventHealthFailed, "metrics", m.handle)
}

func (m *Metrics) handle(_ context.Context, ev events.Event) error {
	m.Observe(ev)
	return nil
}

// Observe updates the collectors for one event.
func (m *Metrics) Observe(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.ConnectPayload:
		if ev.Type != events.EventAuthenticated {
			return
		}
		m.mu.Lock()
		m.active[p.SessionID] = ev.Source
		m.mu.Unlock()
		m.sessionsTotal.WithLabelValues(ev.Source).Inc()
		m.sessionsActive.WithLabelValues(ev.Source).Inc()

	case events.EndPayload:
		// Failed connects end without ever being active.
		m.mu.Lock()
		server, ok := m.active[p.SessionID]
		delete(m.active, p.SessionID)
		m.mu.Unlock()
		if ok {
			m.sessionsActive.WithLabelValues(server).Dec()
		}
		clean := "true"
		if p.Cause != "" {
			clean = "false"
		}
		m.sessionsEnded.WithLabelValues(ev.Source, clean).Inc()

	case events.CommandPayload:
		result := "ok"
		if p.Error != "" {
			result = "error"
		}
		m.commandsTotal.WithLabelValues(p.Server, result).Inc()
		m.commandDuration.WithLabelValues(p.Server).Observe(p.Duration.Seconds())

	case events.ResponsePayload:
		m.pushesTotal.WithLabelValues(ev.Source).Inc()

	case events.ErrorPayload:
		m.errorsTotal.WithLabelValues(ev.Source, p.Severity.String()).Inc()

	case events.HealthPayload:
		if ev.Type == events.EventHealthFailed {
			m.healthFailures.WithLabelValues(p.Server).Inc()
		}
	}
}
