// Package health probes every configured RCON server on an interval with
// its game's verification command. Sessions that keep failing are dropped
// so the next use reconnects through the pool's backoff.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/events"
)

// Prober is the slice of the session pool the monitor needs.
type Prober interface {
	Verify(ctx context.Context, name string) error
	Drop(name string)
}

// Manager runs the periodic probes.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	pool     Prober

	mu       sync.Mutex
	failures map[string]int
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, pool Prober) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		pool:     pool,
		failures: make(map[string]int),
	}
}

// Start probes every profile immediately and then on every interval until
// ctx is cancelled. It blocks.
func (m *Manager) Start(ctx context.Context) {
	hc := m.cfg.GetHealth()
	if !hc.Enabled || hc.IntervalSec <= 0 {
		log.Info().Msg("health checks disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(hc.IntervalSec) * time.Second)
	defer ticker.Stop()

	log.Info().Int("interval_sec", hc.IntervalSec).Msg("health check manager started")

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every configured profile concurrently and waits.
func (m *Manager) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, profile := range m.cfg.GetServers() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.Check(ctx, name)
		}(profile.Name)
	}
	wg.Wait()
}

// Check probes one server and returns whether it passed.
func (m *Manager) Check(ctx context.Context, name string) bool {
	hc := m.cfg.GetHealth()
	err := m.pool.Verify(ctx, name)

	m.mu.Lock()
	prev := m.failures[name]
	if err == nil {
		delete(m.failures, name)
	} else {
		m.failures[name] = prev + 1
	}
	failures := m.failures[name]
	m.mu.Unlock()

	if err == nil {
		if prev > 0 {
			log.Info().Str("server", name).Int("after_failures", prev).Msg("server recovered")
			m.eventBus.Emit(ctx, events.New(events.EventHealthRecovered, "health_check",
				events.HealthPayload{Server: name, Failures: prev}))
		}
		return true
	}

	log.Warn().
		Err(err).
		Str("server", name).
		Int("failures", failures).
		Msg("health probe failed")
	m.eventBus.Emit(ctx, events.New(events.EventHealthFailed, "health_check",
		events.HealthPayload{Server: name, Failures: failures, Reason: err.Error()}))

	if failures >= hc.MaxFailures {
		log.Error().Str("server", name).Msg("dropping unhealthy session")
		m.pool.Drop(name)
	}
	return false
}

// Failures returns the consecutive failure count of name.
func (m *Manager) Failures(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[name]
}
