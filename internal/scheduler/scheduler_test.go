package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/config"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingExecutor) Exec(_ context.Context, server, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, server+":"+command)
	return "ok", r.err
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunOnce(t *testing.T) {
	exec := &recordingExecutor{}
	s := NewScheduler(config.DefaultConfig(), exec, nil)
	sched := config.Schedule{Name: "save", Server: "eu", Command: "save", IntervalSec: 60}

	if err := s.RunOnce(context.Background(), sched); err != nil {
		t.Fatal(err)
	}
	exec.err = errors.New("boom")
	if err := s.RunOnce(context.Background(), sched); err == nil {
		t.Error("expected executor error")
	}
	if s.Runs(sched) != 2 || exec.calls[0] != "eu:save" {
		t.Errorf("runs = %d, calls = %v", s.Runs(sched), exec.calls)
	}
}

func TestStartRunsSchedules(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Schedules = []config.Schedule{{Name: "bc", Server: "eu", Command: "say hi", IntervalSec: 1}}
	exec := &recordingExecutor{}
	s := NewScheduler(cfg, exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for exec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("schedule never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestNextDailyRun(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 10, 5, 0, 0, 0, loc)

	tests := []struct {
		at   string
		want time.Time
	}{
		{"06:30", time.Date(2026, 3, 10, 6, 30, 0, 0, loc)},
		{"04:00", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
		{"05:00", time.Date(2026, 3, 11, 5, 0, 0, 0, loc)},
		{"garbage", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
		{"25:00", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := nextDailyRun(tt.at, now); !got.Equal(tt.want) {
			t.Errorf("nextDailyRun(%q) = %v, want %v", tt.at, got, tt.want)
		}
	}
}
