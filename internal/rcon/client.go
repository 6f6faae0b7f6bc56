// Package rcon is the uniform connect/send/end facade over every supported
// RCON protocol family. A Client owns one transport, drives the connection
// state machine, correlates replies with requests and publishes lifecycle
// events on an events.EventBus.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/network"
)

// Client is one logical RCON session. A Client connects once; after it
// ends, create a new one to reconnect.
type Client struct {
	opts     Options
	profile  Profile
	verifier Verifier
	dial     network.DialFunc
	bus      *events.EventBus
	ownBus   bool
	id       string
	logger   zerolog.Logger

	mu            sync.Mutex
	state         State
	link          network.Link
	caps          network.Caps
	ids           idAllocator
	maxPending    int
	serial        chan struct{}
	cancelConnect context.CancelFunc
	stopKeepAlive context.CancelFunc
	connectedAt   time.Time

	pending  *pendingTable
	done     chan struct{}
	doneOnce sync.Once
}

// New validates opts and resolves the protocol family for opts.Game.
func New(opts Options) (*Client, error) {
	profile, err := Lookup(opts.Game)
	if err != nil {
		return nil, err
	}
	return newClient(opts, profile, profile.Family.Dialer())
}

func newClient(opts Options, profile Profile, dial network.DialFunc) (*Client, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:     opts,
		profile:  profile,
		verifier: profile.Verifier,
		dial:     dial,
		bus:      opts.Bus,
		id:       uuid.NewString(),
		pending:  newPendingTable(),
		done:     make(chan struct{}),
	}
	if opts.Verifier != nil {
		c.verifier = *opts.Verifier
	}
	if c.bus == nil {
		c.bus = events.NewEventBus()
		c.ownBus = true
	}
	c.logger = log.With().
		Str("component", "rcon").
		Str("server", opts.Name).
		Str("game", profile.Game).
		Str("session", c.id).
		Logger()
	return c, nil
}

// Connect opens the transport and authenticates. The whole exchange is
// bounded by Options.Timeout. On failure the transport is closed and the
// client is left Errored.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: client is %s", st)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	c.cancelConnect = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug().Str("addr", c.opts.Addr()).Msg("connecting")

	link, err := c.dial(ctx, network.DialConfig{
		Address:  c.opts.Addr(),
		Password: c.opts.Password,
		Secure:   c.opts.Secure,
		TLS:      c.opts.TLS,
	})
	if err != nil {
		return c.abortConnect(nil, err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		link.Close()
		return fmt.Errorf("connect: %w", ErrClosed)
	}
	c.state = StateAuthenticating
	c.caps = link.Caps()
	c.ids = newIDAllocator(c.caps)
	var authID uint32
	if c.caps.AuthID {
		authID, _ = c.ids.take(nil)
	}
	c.mu.Unlock()

	c.emit(events.EventConnect, c.connectPayload())

	if err := link.Handshake(ctx, authID, c.opts.Password); err != nil {
		return c.abortConnect(link, err)
	}

	c.mu.Lock()
	if c.state != StateAuthenticating {
		c.mu.Unlock()
		link.Close()
		return fmt.Errorf("connect: %w", ErrClosed)
	}
	c.link = link
	c.state = StateReady
	c.cancelConnect = nil
	c.connectedAt = time.Now()
	c.maxPending = pendingLimit(c.caps, c.opts.MaxPending)
	if c.caps.Serial {
		c.serial = make(chan struct{}, 1)
	}
	interval := c.keepAliveInterval()
	var kctx context.Context
	if interval > 0 {
		kctx, c.stopKeepAlive = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("protocol", c.profile.Family.String()).
		Dur("keep_alive", interval).
		Msg("rcon session authenticated")
	c.emit(events.EventAuthenticated, c.connectPayload())

	go c.readLoop(link)
	if kctx != nil {
		go c.keepAlive(kctx, interval)
	}
	return nil
}

// abortConnect fails an in-progress Connect. If End already ran, the
// caller only learns the connection is closed.
func (c *Client) abortConnect(link network.Link, cause error) error {
	c.mu.Lock()
	ended := c.state == StateClosed
	if !ended {
		c.state = StateErrored
	}
	c.cancelConnect = nil
	c.mu.Unlock()

	if link != nil {
		link.Close()
	}
	if ended {
		return fmt.Errorf("connect: %w", ErrClosed)
	}

	c.logger.Warn().Err(cause).Msg("rcon connect failed")
	c.emit(events.EventError, events.NewErrorPayload(cause, events.SeverityFatal))
	c.emit(events.EventEnd, events.EndPayload{SessionID: c.id, Cause: cause.Error()})
	c.finish()
	return cause
}

// Send issues command and waits for its correlated reply. Without a
// deadline on ctx the wait is bounded by Options.Timeout. Send fails with
// ErrNotReady, without touching the transport, unless the client is Ready.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return "", ErrNotReady
	}
	serial := c.serial
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if serial != nil {
		select {
		case serial <- struct{}{}:
			defer func() { <-serial }()
		case <-c.done:
			return "", ErrNotReady
		case <-ctx.Done():
			return "", fmt.Errorf("send %q: waiting for previous command: %w", command, ctx.Err())
		}
	}

	// The connection may have ended while we waited for our turn.
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return "", ErrNotReady
	}
	if c.pending.Len() >= c.maxPending {
		c.mu.Unlock()
		return "", ErrTooManyPending
	}
	id, ok := c.ids.take(c.pending.Has)
	if !ok {
		c.mu.Unlock()
		return "", ErrTooManyPending
	}
	wait, err := c.pending.Register(id)
	link := c.link
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	if err := link.WriteCommand(id, command); err != nil {
		if !c.pending.Cancel(id) {
			// End or teardown already failed the entry while the write was in flight.
			res := <-wait
			return "", res.err
		}
		c.teardown(link, err)
		return "", err
	}

	select {
	case res := <-wait:
		return res.body, res.err
	case <-ctx.Done():
		c.pending.Cancel(id)
		return "", fmt.Errorf("send %q: %w", command, ctx.Err())
	}
}

// End closes the connection. It stops the keep-alive before anything else,
// fails every pending request with ErrClosed and is safe to call any
// number of times, in any state.
func (c *Client) End() {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateClosed
	if c.stopKeepAlive != nil {
		c.stopKeepAlive()
		c.stopKeepAlive = nil
	}
	if c.cancelConnect != nil {
		c.cancelConnect()
	}
	link := c.link
	c.mu.Unlock()

	// Pending entries fail before the link closes so a write unblocked by
	// the close finds its entry already rejected.
	failed := c.pending.FailAll(ErrClosed)
	if link != nil {
		link.Close()
	}

	c.logger.Info().
		Str("from", prev.String()).
		Int("failed_pending", failed).
		Msg("rcon session ended")
	if prev != StateIdle {
		c.emit(events.EventEnd, events.EndPayload{SessionID: c.id})
	}
	c.finish()
}

// teardown handles the transport failing under a Ready connection.
func (c *Client) teardown(link network.Link, cause error) {
	c.mu.Lock()
	if c.state != StateReady || c.link != link {
		c.mu.Unlock()
		return
	}
	clean := errors.Is(cause, io.EOF)
	if clean {
		c.state = StateClosed
	} else {
		c.state = StateErrored
	}
	if c.stopKeepAlive != nil {
		c.stopKeepAlive()
		c.stopKeepAlive = nil
	}
	c.mu.Unlock()

	failed := c.pending.FailAll(fmt.Errorf("%w: %w", ErrClosed, cause))
	link.Close()

	if clean {
		c.logger.Info().Int("failed_pending", failed).Msg("server closed the connection")
	} else {
		c.logger.Error().Err(cause).Int("failed_pending", failed).Msg("rcon transport failed")
		c.emit(events.EventError, events.NewErrorPayload(cause, events.SeverityFatal))
	}
	c.emit(events.EventEnd, events.EndPayload{SessionID: c.id, Cause: cause.Error()})
	c.finish()
}

func (c *Client) readLoop(link network.Link) {
	for {
		in, err := link.ReadInbound()
		if err != nil {
			c.teardown(link, err)
			return
		}

		if in.Err != nil {
			c.logger.Warn().Err(in.Err).Msg("discarding malformed frame")
			c.emitWhileReady(events.EventError, events.NewErrorPayload(in.Err, events.SeverityWarning))
			continue
		}

		if in.Kind == network.InboundReply && c.pending.Resolve(in.ID, in.Body) {
			continue
		}
		c.emitWhileReady(events.EventResponse, events.ResponsePayload{Body: in.Body})
	}
}

// emitWhileReady drops the event once the connection has left Ready, so
// nothing is published after end.
func (c *Client) emitWhileReady(eventType events.EventType, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady {
		c.emit(eventType, payload)
	}
}

func (c *Client) finish() {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.ownBus {
			go c.bus.Stop()
		}
	})
}

func (c *Client) emit(eventType events.EventType, payload interface{}) {
	c.bus.Emit(context.Background(), events.New(eventType, c.opts.Name, payload))
}

func (c *Client) connectPayload() events.ConnectPayload {
	return events.ConnectPayload{SessionID: c.id, Game: c.profile.Game, Address: c.opts.Addr()}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the client reaches a terminal state.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Events returns the bus this client publishes on.
func (c *Client) Events() *events.EventBus {
	return c.bus
}

// Subscribe opens an ordered event stream for this client's events. On a
// private bus the stream closes after the client ends.
func (c *Client) Subscribe(size int, types ...events.EventType) *events.Stream {
	return c.bus.Stream(size, types...)
}

// ID returns the client's session id, unique per Client.
func (c *Client) ID() string { return c.id }

// Name returns the label used for events and logs.
func (c *Client) Name() string { return c.opts.Name }

// Game returns the resolved game id.
func (c *Client) Game() string { return c.profile.Game }

// Profile returns the resolved game profile.
func (c *Client) Profile() Profile { return c.profile }

// ConnectedAt returns when the session became Ready, or the zero time.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}
