// Package scheduler runs the configured interval RCON commands (broadcasts,
// world saves) and the daily audit log pruning.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/config"
)

// Executor sends a command to a named server.
type Executor interface {
	Exec(ctx context.Context, server, command string) (string, error)
}

// Pruner deletes audit rows older than days.
type Pruner interface {
	Prune(days int) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	exec   Executor
	pruner Pruner

	mu   sync.Mutex
	runs map[string]int
}

// NewScheduler creates a new task scheduler. pruner may be nil when the
// audit log is disabled.
func NewScheduler(cfg *config.Config, exec Executor, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		exec:   exec,
		pruner: pruner,
		runs:   make(map[string]int),
	}
}

// Start begins running all scheduled tasks and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	schedules := s.cfg.GetSchedules()
	log.Info().Int("schedules", len(schedules)).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, sched := range schedules {
		if sched.IntervalSec <= 0 {
			continue
		}
		wg.Add(1)
		go func(sched config.Schedule) {
			defer wg.Done()
			s.runScheduleLoop(ctx, sched)
		}(sched)
	}

	audit := s.cfg.GetAudit()
	if s.pruner != nil && audit.RetentionDays > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPruneLoop(ctx, audit)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runScheduleLoop(ctx context.Context, sched config.Schedule) {
	ticker := time.NewTicker(time.Duration(sched.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, sched)
		}
	}
}

// RunOnce executes one schedule now.
func (s *Scheduler) RunOnce(ctx context.Context, sched config.Schedule) error {
	resp, err := s.exec.Exec(ctx, sched.Server, sched.Command)

	s.mu.Lock()
	s.runs[scheduleKey(sched)]++
	s.mu.Unlock()

	if err != nil {
		log.Warn().
			Err(err).
			Str("schedule", sched.Name).
			Str("server", sched.Server).
			Str("command", sched.Command).
			Msg("scheduled command failed")
		return err
	}
	log.Info().
		Str("schedule", sched.Name).
		Str("server", sched.Server).
		Str("command", sched.Command).
		Int("response_bytes", len(resp)).
		Msg("scheduled command executed")
	return nil
}

// Runs returns how many times sched has been executed.
func (s *Scheduler) Runs(sched config.Schedule) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[scheduleKey(sched)]
}

func scheduleKey(sched config.Schedule) string {
	return fmt.Sprintf("%s|%s|%s", sched.Name, strings.ToLower(sched.Server), sched.Command)
}

// runPruneLoop prunes the audit log daily at the configured time.
func (s *Scheduler) runPruneLoop(ctx context.Context, audit config.AuditConfig) {
	for {
		nextRun := nextDailyRun(audit.PruneTime, time.Now())
		sleepDuration := time.Until(nextRun)

		log.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("audit prune scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			if _, err := s.pruner.Prune(audit.RetentionDays); err != nil {
				log.Warn().Err(err).Msg("audit prune failed")
			}
		}
	}
}

// nextDailyRun returns the next occurrence of HH:MM after now. Unparseable
// values fall back to 04:00.
func nextDailyRun(at string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(at, ":")
	if len(parts) >= 2 {
		var h, m int
		if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &h, &m); err == nil &&
			h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
