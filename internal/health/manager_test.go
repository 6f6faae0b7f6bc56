package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/events"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]error
	dropped []string
}

func (f *fakeProber) Verify(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[name]
}

func (f *fakeProber) Drop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, name)
}

func newTestManager(t *testing.T, prober *fakeProber) (*Manager, *events.Stream) {
	cfg := config.DefaultConfig()
	cfg.Health.MaxFailures = 2
	cfg.UpsertServer(config.ServerProfile{Name: "eu"})
	cfg.UpsertServer(config.ServerProfile{Name: "us"})

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	st := bus.Stream(16, events.EventHealthFailed, events.EventHealthRecovered)
	return NewManager(cfg, bus, prober), st
}

func TestCheckDropsAfterMaxFailures(t *testing.T) {
	prober := &fakeProber{results: map[string]error{"eu": errors.New("verification failed")}}
	m, st := newTestManager(t, prober)
	ctx := context.Background()

	if m.Check(ctx, "eu") {
		t.Fatal("failing probe reported healthy")
	}
	if len(prober.dropped) != 0 {
		t.Fatal("dropped after a single failure")
	}
	m.Check(ctx, "eu")
	if len(prober.dropped) != 1 || prober.dropped[0] != "eu" {
		t.Errorf("dropped = %v", prober.dropped)
	}
	if m.Failures("eu") != 2 {
		t.Errorf("failures = %d", m.Failures("eu"))
	}

	for i := 1; i <= 2; i++ {
		ev := <-st.C()
		if p := ev.Payload.(events.HealthPayload); ev.Type != events.EventHealthFailed || p.Failures != i {
			t.Errorf("event %d = %s %+v", i, ev.Type, p)
		}
	}
}

func TestCheckRecovery(t *testing.T) {
	prober := &fakeProber{results: map[string]error{"eu": errors.New("down")}}
	m, st := newTestManager(t, prober)
	ctx := context.Background()

	m.Check(ctx, "eu")
	<-st.C()

	prober.mu.Lock()
	prober.results["eu"] = nil
	prober.mu.Unlock()

	if !m.Check(ctx, "eu") {
		t.Fatal("healthy probe reported failing")
	}
	select {
	case ev := <-st.C():
		if ev.Type != events.EventHealthRecovered {
			t.Errorf("event = %s, want health_recovered", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no recovery event")
	}
	if m.Failures("eu") != 0 {
		t.Errorf("failures not reset: %d", m.Failures("eu"))
	}
}

func TestCheckAll(t *testing.T) {
	prober := &fakeProber{results: map[string]error{"us": errors.New("down")}}
	m, _ := newTestManager(t, prober)

	m.CheckAll(context.Background())
	if m.Failures("eu") != 0 || m.Failures("us") != 1 {
		t.Errorf("failures eu=%d us=%d", m.Failures("eu"), m.Failures("us"))
	}
}
