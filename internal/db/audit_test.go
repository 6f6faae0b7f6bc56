package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/events"
)

func newTestAudit(t *testing.T) *AuditLog {
	t.Helper()
	a, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditLog failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAuditPragmas(t *testing.T) {
	a := newTestAudit(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		got, err := a.db.Pragma(name)
		if err != nil {
			t.Fatalf("Pragma(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestRecordAndHistory(t *testing.T) {
	a := newTestAudit(t)

	for _, rec := range []CommandRecord{
		{SessionID: "s1", Server: "eu", Command: "status", Response: "ok", Duration: time.Millisecond},
		{SessionID: "s2", Server: "us", Command: "players", Response: "none"},
		{SessionID: "s1", Server: "eu", Command: "kick bob", Error: "connection closed"},
	} {
		if err := a.RecordCommand(rec); err != nil {
			t.Fatalf("RecordCommand failed: %v", err)
		}
	}

	all, err := a.History(HistoryFilter{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(all) != 3 || all[0].Command != "kick bob" {
		t.Fatalf("history = %+v", all)
	}

	eu, _ := a.History(HistoryFilter{Server: "eu", Limit: 1})
	if len(eu) != 1 || eu[0].Error != "connection closed" {
		t.Errorf("filtered history = %+v", eu)
	}

	future, _ := a.History(HistoryFilter{Since: time.Now().Add(time.Hour)})
	if len(future) != 0 {
		t.Errorf("since filter returned %d rows", len(future))
	}
}

func TestSessions(t *testing.T) {
	a := newTestAudit(t)

	if err := a.SessionStarted(SessionRecord{SessionID: "abc", Server: "eu", Game: "rust"}); err != nil {
		t.Fatal(err)
	}
	if err := a.SessionEnded("abc", "EOF", time.Now()); err != nil {
		t.Fatal(err)
	}

	sessions, err := a.Sessions("eu", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].EndedAt == nil || sessions[0].Cause != "EOF" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestAlerts(t *testing.T) {
	a := newTestAudit(t)
	a.CreateAlert("eu", "warning", "probe failed")

	alerts, _ := a.GetUnacknowledgedAlerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	a.AcknowledgeAlert(alerts[0].ID)
	if alerts, _ := a.GetUnacknowledgedAlerts(); len(alerts) != 0 {
		t.Errorf("alert not acknowledged: %+v", alerts)
	}
}

func TestPrune(t *testing.T) {
	a := newTestAudit(t)
	a.RecordCommand(CommandRecord{Server: "eu", Command: "old", CreatedAt: time.Now().AddDate(0, 0, -40)})
	a.RecordCommand(CommandRecord{Server: "eu", Command: "new"})

	n, err := a.Prune(30)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	left, _ := a.History(HistoryFilter{})
	if len(left) != 1 || left[0].Command != "new" {
		t.Errorf("left = %+v", left)
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	a := newTestAudit(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	stop := a.Attach(bus)

	ctx := context.Background()
	bus.Emit(ctx, events.New(events.EventAuthenticated, "eu", events.ConnectPayload{SessionID: "s9", Game: "cs2", Address: "h:1"}))
	bus.Emit(ctx, events.New(events.EventCommandExecuted, "eu", events.CommandPayload{SessionID: "s9", Server: "eu", Command: "status", Response: "fine"}))
	bus.Emit(ctx, events.New(events.EventEnd, "eu", events.EndPayload{SessionID: "s9"}))
	stop()

	history, _ := a.History(HistoryFilter{Server: "eu"})
	if len(history) != 1 || history[0].Response != "fine" {
		t.Errorf("history = %+v", history)
	}
	sessions, _ := a.Sessions("eu", 10)
	if len(sessions) != 1 || sessions[0].EndedAt == nil {
		t.Errorf("sessions = %+v", sessions)
	}
}
