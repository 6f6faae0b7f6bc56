package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/energizer-project/rconnect/internal/events"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetBuildInfo("1.2.3")

	m.Observe(events.New(events.EventConnect, "eu", events.ConnectPayload{SessionID: "a"}))
	m.Observe(events.New(events.EventAuthenticated, "eu", events.ConnectPayload{SessionID: "a"}))
	m.Observe(events.New(events.EventAuthenticated, "eu", events.ConnectPayload{SessionID: "b"}))
	m.Observe(events.New(events.EventCommandExecuted, "eu", events.CommandPayload{Server: "eu", Duration: 20 * time.Millisecond}))
	m.Observe(events.New(events.EventCommandExecuted, "eu", events.CommandPayload{Server: "eu", Error: "timeout"}))
	m.Observe(events.New(events.EventResponse, "eu", events.ResponsePayload{Body: "chat"}))
	m.Observe(events.New(events.EventError, "eu", events.NewErrorPayload(errors.New("bad crc"), events.SeverityWarning)))
	m.Observe(events.New(events.EventEnd, "eu", events.EndPayload{SessionID: "a"}))
	// A failed connect ends a session that was never active.
	m.Observe(events.New(events.EventEnd, "eu", events.EndPayload{SessionID: "zzz", Cause: "refused"}))

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"active", m.sessionsActive.WithLabelValues("eu"), 1},
		{"sessions", m.sessionsTotal.WithLabelValues("eu"), 2},
		{"ended clean", m.sessionsEnded.WithLabelValues("eu", "true"), 1},
		{"ended dirty", m.sessionsEnded.WithLabelValues("eu", "false"), 1},
		{"commands ok", m.commandsTotal.WithLabelValues("eu", "ok"), 1},
		{"commands error", m.commandsTotal.WithLabelValues("eu", "error"), 1},
		{"pushes", m.pushesTotal.WithLabelValues("eu"), 1},
		{"warnings", m.errorsTotal.WithLabelValues("eu", "warning"), 1},
		{"build", m.buildInfo.WithLabelValues("1.2.3"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.commandDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestAttach(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := events.NewEventBus()
	m.Attach(bus)

	bus.EmitSync(context.Background(), events.New(events.EventHealthFailed, "eu", events.HealthPayload{Server: "eu", Failures: 1}))
	bus.Stop()

	if got := testutil.ToFloat64(m.healthFailures.WithLabelValues("eu")); got != 1 {
		t.Errorf("health failures = %v, want 1", got)
	}
}
