package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/pool"
	"github.com/energizer-project/rconnect/internal/rcon"
)

type fakeSessions struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSessions) Exec(ctx context.Context, name, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, name+":"+command)
	return "reply to " + command + "\n", nil
}

func (f *fakeSessions) Drop(name string) {}

func (f *fakeSessions) Status(name string) (pool.Status, error) {
	if !strings.EqualFold(name, "eu") {
		return pool.Status{}, fmt.Errorf("%w: %q", pool.ErrUnknownServer, name)
	}
	return pool.Status{Name: "eu", Game: "arma3", Address: "10.0.0.1:2306", State: rcon.StateReady}, nil
}

func (f *fakeSessions) Statuses() []pool.Status {
	st, _ := f.Status("eu")
	return []pool.Status{st}
}

type fakeHistory struct{}

func (fakeHistory) History(f db.HistoryFilter) ([]db.CommandRecord, error) {
	return []db.CommandRecord{{Server: f.Server, Command: "players", CreatedAt: time.Now()}}, nil
}

// syncBuffer is safe to write from the push printer while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSendRequiresSelection(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(&fakeSessions{}, nil, nil, strings.NewReader(""), out)
	if err := c.Execute(context.Background(), "players"); err == nil {
		t.Fatal("expected error without a selected server")
	}
}

func TestUseAndSend(t *testing.T) {
	sessions := &fakeSessions{}
	out := &syncBuffer{}
	c := NewCLI(sessions, nil, nil, strings.NewReader(""), out)
	ctx := context.Background()

	if err := c.Execute(ctx, ".use nowhere"); err == nil {
		t.Error("expected unknown server error")
	}
	if err := c.Execute(ctx, ".use EU"); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(ctx, "players"); err != nil {
		t.Fatal(err)
	}
	if len(sessions.sent) != 1 || sessions.sent[0] != "eu:players" {
		t.Errorf("sent = %v", sessions.sent)
	}
	if !strings.Contains(out.String(), "reply to players\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestServersTableAndStatus(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(&fakeSessions{}, fakeHistory{}, nil, strings.NewReader(""), out)
	ctx := context.Background()
	c.Use("eu")

	for _, line := range []string{".servers", ".status", ".history 5"} {
		if err := c.Execute(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	got := out.String()
	for _, want := range []string{"ARMA3", "10.0.0.1:2306", "* eu", "State:      ready", "PLAYERS"} {
		if !strings.Contains(strings.ToUpper(got), strings.ToUpper(want)) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestUnknownConsoleCommand(t *testing.T) {
	c := NewCLI(&fakeSessions{}, nil, nil, strings.NewReader(""), &syncBuffer{})
	if err := c.Execute(context.Background(), ".frobnicate"); err == nil {
		t.Error("expected error")
	}
}

func TestStartRunsUntilQuit(t *testing.T) {
	sessions := &fakeSessions{}
	out := &syncBuffer{}
	in := strings.NewReader(".use eu\nstatus\n.quit\nnever sent\n")
	c := NewCLI(sessions, nil, nil, in, out)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sessions.sent) != 1 || sessions.sent[0] != "eu:status" {
		t.Errorf("sent = %v", sessions.sent)
	}
	if !strings.Contains(out.String(), "eu> ") {
		t.Errorf("prompt not updated: %q", out.String())
	}
}

func TestPushesOfSelectedServerArePrinted(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	out := &syncBuffer{}
	c := NewCLI(&fakeSessions{}, nil, bus, strings.NewReader(""), out)
	c.Use("eu")

	stream := bus.Stream(4, events.EventResponse)
	done := make(chan struct{})
	go func() {
		c.printPushes(stream)
		close(done)
	}()

	ctx := context.Background()
	bus.Emit(ctx, events.New(events.EventResponse, "us", events.ResponsePayload{Body: "other"}))
	bus.Emit(ctx, events.New(events.EventResponse, "eu", events.ResponsePayload{Body: "hello chat"}))
	stream.Close()
	<-done

	got := out.String()
	if !strings.Contains(got, "[eu] hello chat") || strings.Contains(got, "other") {
		t.Errorf("output = %q", got)
	}
}
