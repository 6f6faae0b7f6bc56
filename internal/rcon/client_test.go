package rcon

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/network"
	"github.com/energizer-project/rconnect/internal/protocol"
)

type written struct {
	id      uint32
	command string
}

// fakeLink is a scripted network.Link.
type fakeLink struct {
	caps         network.Caps
	handshakeErr error
	handshake    chan struct{}

	writes  chan written
	inbound chan network.Inbound

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error

	// blockWrites holds every write until the link is closed.
	blockWrites bool
}

func newFakeLink(caps network.Caps) *fakeLink {
	return &fakeLink{
		caps:    caps,
		writes:  make(chan written, 16),
		inbound: make(chan network.Inbound, 16),
		closed:  make(chan struct{}),
		readErr: io.EOF,
	}
}

func (l *fakeLink) Caps() network.Caps { return l.caps }

func (l *fakeLink) Handshake(ctx context.Context, authID uint32, password string) error {
	if l.handshake != nil {
		select {
		case <-l.handshake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.handshakeErr
}

func (l *fakeLink) WriteCommand(id uint32, command string) error {
	if l.blockWrites {
		<-l.closed
		return network.ErrTransport
	}
	select {
	case <-l.closed:
		return network.ErrTransport
	default:
	}
	l.writes <- written{id, command}
	return nil
}

func (l *fakeLink) ReadInbound() (network.Inbound, error) {
	select {
	case in := <-l.inbound:
		return in, nil
	case <-l.closed:
		return network.Inbound{}, l.readErr
	}
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

var wideCaps = network.Caps{FirstID: 1, MaxID: 1<<31 - 1}

func connectFake(t *testing.T, link *fakeLink, opts Options) *Client {
	t.Helper()
	if opts.Host == "" {
		opts.Host, opts.Port = "127.0.0.1", 27015
	}
	dial := func(context.Context, network.DialConfig) (network.Link, error) { return link, nil }
	c, err := newClient(opts, Profile{Game: "valve", Family: FamilyValve, Verifier: echoProbe}, dial)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(c.End)
	return c
}

func nextWrite(t *testing.T, link *fakeLink) written {
	t.Helper()
	select {
	case w := <-link.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no command written")
	}
	return written{}
}

func nextEvent(t *testing.T, st *events.Stream) events.Event {
	t.Helper()
	select {
	case ev, ok := <-st.C():
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return events.Event{}
}

func TestClientCorrelatesOutOfOrderReplies(t *testing.T) {
	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{})

	type reply struct {
		body string
		err  error
	}
	send := func(cmd string) <-chan reply {
		ch := make(chan reply, 1)
		go func() {
			body, err := c.Send(context.Background(), cmd)
			ch <- reply{body, err}
		}()
		return ch
	}

	r1 := send("first")
	w1 := nextWrite(t, link)
	r2 := send("second")
	w2 := nextWrite(t, link)

	link.inbound <- network.Inbound{Kind: network.InboundReply, ID: w2.id, Body: w2.command + "-reply"}
	link.inbound <- network.Inbound{Kind: network.InboundReply, ID: w1.id, Body: w1.command + "-reply"}

	for _, tc := range []struct {
		ch   <-chan reply
		want string
	}{{r1, "first-reply"}, {r2, "second-reply"}} {
		select {
		case r := <-tc.ch:
			if r.err != nil || r.body != tc.want {
				t.Errorf("got %q, %v; want %q", r.body, r.err, tc.want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("send did not complete")
		}
	}
}

func TestClientFirstCommandID(t *testing.T) {
	authCaps := wideCaps
	authCaps.AuthID = true

	tests := []struct {
		name string
		caps network.Caps
		want uint32
	}{
		{"auth frame takes first id", authCaps, 2},
		{"auth frame without id", wideCaps, 1},
		{"one byte space", network.Caps{FirstID: 0, MaxID: 0xFF}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			link := newFakeLink(tc.caps)
			c := connectFake(t, link, Options{})

			go c.Send(context.Background(), "status")
			if w := nextWrite(t, link); w.id != tc.want {
				t.Errorf("first command id = %d, want %d", w.id, tc.want)
			}
		})
	}
}

func TestClientEndDuringWrite(t *testing.T) {
	link := newFakeLink(wideCaps)
	link.blockWrites = true
	c := connectFake(t, link, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "status")
		errc <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("command never registered")
		}
		time.Sleep(time.Millisecond)
	}
	c.End()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Send error = %v, want ErrClosed", err)
		}
		if errors.Is(err, network.ErrTransport) {
			t.Errorf("Send error = %v, should not surface the write failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
	}
	if st := c.State(); st != StateClosed {
		t.Errorf("state = %s, want closed", st)
	}
}

func TestClientUnmatchedReplyIsPush(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	st := bus.Stream(8, events.EventResponse)

	link := newFakeLink(wideCaps)
	connectFake(t, link, Options{Bus: bus})

	link.inbound <- network.Inbound{Kind: network.InboundReply, ID: 999, Body: "stray"}
	link.inbound <- network.Inbound{Kind: network.InboundPush, Body: "chat line"}

	for _, want := range []string{"stray", "chat line"} {
		ev := nextEvent(t, st)
		if p := ev.Payload.(events.ResponsePayload); p.Body != want {
			t.Errorf("push body = %q, want %q", p.Body, want)
		}
	}
}

func TestClientMalformedFrameIsNotFatal(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	st := bus.Stream(8, events.EventError)

	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{Bus: bus})

	link.inbound <- network.Inbound{Err: protocol.ErrChecksumMismatch}

	ev := nextEvent(t, st)
	p := ev.Payload.(events.ErrorPayload)
	if p.Severity != events.SeverityWarning || !errors.Is(p.Err, ErrMalformedFrame) {
		t.Errorf("error payload = %+v", p)
	}
	if c.State() != StateReady {
		t.Errorf("state = %s, want ready", c.State())
	}
}

func TestClientEndFailsPending(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	st := bus.Stream(8, events.EventEnd)

	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{Bus: bus})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "slow")
		errCh <- err
	}()
	nextWrite(t, link)

	c.End()
	c.End()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("pending send err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending send not failed by End")
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}

	nextEvent(t, st)
	select {
	case ev := <-st.C():
		t.Errorf("unexpected second end event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := c.Send(context.Background(), "after"); !errors.Is(err, ErrNotReady) {
		t.Errorf("send after end err = %v, want ErrNotReady", err)
	}
}

func TestClientTransportFailure(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	st := bus.Stream(8, events.EventError, events.EventEnd)

	link := newFakeLink(wideCaps)
	link.readErr = network.ErrTransport
	c := connectFake(t, link, Options{Bus: bus})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "doomed")
		errCh <- err
	}()
	nextWrite(t, link)
	link.Close()

	if err := <-errCh; !errors.Is(err, ErrClosed) || !errors.Is(err, ErrTransport) {
		t.Errorf("send err = %v, want ErrClosed wrapping ErrTransport", err)
	}
	if ev := nextEvent(t, st); ev.Type != events.EventError {
		t.Errorf("first event = %s, want error", ev.Type)
	}
	if ev := nextEvent(t, st); ev.Type != events.EventEnd {
		t.Errorf("second event = %s, want end", ev.Type)
	}
	<-c.Done()
	if c.State() != StateErrored {
		t.Errorf("state = %s, want errored", c.State())
	}
}

func TestClientServerCloseIsClean(t *testing.T) {
	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{})

	link.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the close")
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestClientTooManyPending(t *testing.T) {
	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{MaxPending: 1})

	go c.Send(context.Background(), "one")
	nextWrite(t, link)

	if _, err := c.Send(context.Background(), "two"); !errors.Is(err, ErrTooManyPending) {
		t.Errorf("err = %v, want ErrTooManyPending", err)
	}
}

func TestClientSendTimeout(t *testing.T) {
	link := newFakeLink(wideCaps)
	c := connectFake(t, link, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Send(ctx, "never answered"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d after timeout, want 0", c.Pending())
	}
	if c.State() != StateReady {
		t.Errorf("a timed out command must not end the session, state = %s", c.State())
	}
}

func TestClientSendBeforeConnect(t *testing.T) {
	c, err := New(Options{Host: "127.0.0.1", Port: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.Send(context.Background(), "status"); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	c.End()
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestClientHandshakeFailure(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	st := bus.Stream(8)

	link := newFakeLink(wideCaps)
	link.handshakeErr = network.ErrAuthenticationFailed
	dial := func(context.Context, network.DialConfig) (network.Link, error) { return link, nil }
	c, _ := newClient(Options{Host: "h", Port: 1, Bus: bus}, Profile{Family: FamilyValve}, dial)

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
	if c.State() != StateErrored {
		t.Errorf("state = %s, want errored", c.State())
	}

	want := []events.EventType{events.EventConnect, events.EventError, events.EventEnd}
	for _, w := range want {
		if ev := nextEvent(t, st); ev.Type != w {
			t.Errorf("event = %s, want %s", ev.Type, w)
		}
	}
	select {
	case <-link.closed:
	default:
		t.Error("link not closed after failed handshake")
	}
}

func TestClientEndDuringHandshake(t *testing.T) {
	link := newFakeLink(wideCaps)
	link.handshake = make(chan struct{})
	dial := func(context.Context, network.DialConfig) (network.Link, error) { return link, nil }
	c, _ := newClient(Options{Host: "h", Port: 1}, Profile{Family: FamilyValve}, dial)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateAuthenticating {
		if time.Now().After(deadline) {
			t.Fatal("never reached authenticating")
		}
		time.Sleep(time.Millisecond)
	}
	c.End()

	if err := <-errCh; !errors.Is(err, ErrClosed) {
		t.Errorf("connect err = %v, want ErrClosed", err)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestClientKeepAlive(t *testing.T) {
	caps := wideCaps
	caps.KeepAlive = 20 * time.Millisecond
	link := newFakeLink(caps)
	c := connectFake(t, link, Options{})

	w := nextWrite(t, link)
	if w.command != "" {
		t.Errorf("keep-alive command = %q, want empty", w.command)
	}
	link.inbound <- network.Inbound{Kind: network.InboundReply, ID: w.id}

	c.End()
	// Drain anything already queued, then make sure nothing more is sent.
	time.Sleep(30 * time.Millisecond)
	for len(link.writes) > 0 {
		<-link.writes
	}
	select {
	case w := <-link.writes:
		t.Errorf("keep-alive sent after End: %+v", w)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestClientKeepAliveDisabled(t *testing.T) {
	caps := wideCaps
	caps.KeepAlive = 10 * time.Millisecond
	link := newFakeLink(caps)
	connectFake(t, link, Options{KeepAlive: -1})

	select {
	case w := <-link.writes:
		t.Errorf("unexpected write with keep-alive disabled: %+v", w)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Port: 27015}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("missing host err = %v", err)
	}
	if _, err := New(Options{Host: "h", Port: 70000}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("bad port err = %v", err)
	}
	if _, err := New(Options{Host: "h", Port: 1, Game: "quake"}); !errors.Is(err, ErrUnknownGame) {
		t.Errorf("unknown game err = %v", err)
	}
}
