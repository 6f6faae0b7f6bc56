// Package pool keeps one lazily connected rcon.Client per configured server
// profile and routes commands to it.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/rcon"
	"github.com/energizer-project/rconnect/internal/util"
)

var (
	// ErrUnknownServer means no profile has the requested name.
	ErrUnknownServer = errors.New("unknown server")
	// ErrBackoff means the last connect failed and the retry delay has not passed.
	ErrBackoff = errors.New("reconnect backoff in effect")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("session pool closed")
)

// Profiles is where the pool looks servers up. *config.Config satisfies it.
type Profiles interface {
	Server(name string) (config.ServerProfile, bool)
	GetServers() []config.ServerProfile
}

// Options tunes reconnect behaviour.
type Options struct {
	// Backoff is the delay after the first failed connect; it doubles on
	// every further failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxConnecting bounds concurrent handshakes.
	MaxConnecting int
}

// Pool owns the sessions. It is safe for concurrent use.
type Pool struct {
	profiles Profiles
	bus      *events.EventBus
	opts     Options
	connect  chan struct{}
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	// dial serializes connects; mu guards the fields and is never held
	// across network I/O.
	dial sync.Mutex
	mu   sync.Mutex

	name         string
	client       *rcon.Client
	failures     int
	lastErr      error
	backoffUntil time.Time
	lastUsed     time.Time
}

// Status is a point-in-time view of one profile's session.
type Status struct {
	Name        string     `json:"name"`
	Game        string     `json:"game"`
	Address     string     `json:"address"`
	State       rcon.State `json:"state"`
	SessionID   string     `json:"session_id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	Pending     int        `json:"pending"`
	Failures    int        `json:"failures"`
	LastError   string     `json:"last_error,omitempty"`
	RetryAt     *time.Time `json:"retry_at,omitempty"`
}

// New creates a pool publishing every session's events on bus.
func New(profiles Profiles, bus *events.EventBus, opts Options) *Pool {
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	if opts.MaxConnecting <= 0 {
		opts.MaxConnecting = 4
	}
	if bus == nil {
		bus = events.NewEventBus()
	}
	return &Pool{
		profiles: profiles,
		bus:      bus,
		opts:     opts,
		connect:  make(chan struct{}, opts.MaxConnecting),
		logger:   util.ComponentLogger("pool"),
		sessions: make(map[string]*session),
	}
}

func (p *Pool) session(name string) (*session, config.ServerProfile, error) {
	profile, ok := p.profiles.Server(name)
	if !ok {
		return nil, profile, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, profile, ErrPoolClosed
	}
	key := strings.ToLower(profile.Name)
	s, ok := p.sessions[key]
	if !ok {
		s = &session{name: profile.Name}
		p.sessions[key] = s
	}
	return s, profile, nil
}

// Client returns the Ready client for name, connecting first if there is
// none or the previous one ended.
func (p *Pool) Client(ctx context.Context, name string) (*rcon.Client, error) {
	s, profile, err := p.session(name)
	if err != nil {
		return nil, err
	}

	s.dial.Lock()
	defer s.dial.Unlock()

	s.mu.Lock()
	if s.client != nil && s.client.State() == rcon.StateReady {
		client := s.client
		s.mu.Unlock()
		return client, nil
	}
	if wait := time.Until(s.backoffUntil); wait > 0 {
		lastErr := s.lastErr
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s for %s (last error: %v)", ErrBackoff, profile.Name, wait.Round(time.Second), lastErr)
	}
	s.mu.Unlock()

	select {
	case p.connect <- struct{}{}:
		defer func() { <-p.connect }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	client, err := rcon.New(profile.Options(p.bus))
	if err == nil {
		err = client.Connect(ctx)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		if err == nil {
			client.End()
		}
		return nil, ErrPoolClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		s.lastErr = err
		s.backoffUntil = time.Now().Add(p.backoff(s.failures))
		p.logger.Warn().
			Err(err).
			Str("server", profile.Name).
			Int("failures", s.failures).
			Time("retry_at", s.backoffUntil).
			Msg("rcon connect failed")
		return nil, err
	}

	s.client = client
	s.failures = 0
	s.lastErr = nil
	s.backoffUntil = time.Time{}
	return client, nil
}

func (p *Pool) backoff(failures int) time.Duration {
	d := p.opts.Backoff
	for i := 1; i < failures && d < p.opts.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.opts.MaxBackoff {
		d = p.opts.MaxBackoff
	}
	return d
}

// Exec sends command to the named server and publishes the round trip as
// EventCommandExecuted.
func (p *Pool) Exec(ctx context.Context, name, command string) (string, error) {
	client, err := p.Client(ctx, name)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := client.Send(ctx, command)
	elapsed := time.Since(start)

	if s, _, serr := p.session(name); serr == nil {
		s.mu.Lock()
		s.lastUsed = time.Now()
		if err != nil {
			s.lastErr = err
		}
		s.mu.Unlock()
	}

	payload := events.CommandPayload{
		SessionID: client.ID(),
		Server:    client.Name(),
		Command:   command,
		Response:  resp,
		Duration:  elapsed,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	p.bus.Emit(ctx, events.New(events.EventCommandExecuted, client.Name(), payload))

	p.logger.Debug().
		Str("server", client.Name()).
		Str("command", command).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("command executed")
	return resp, err
}

// Verify runs the server's verification probe on its pooled session.
func (p *Pool) Verify(ctx context.Context, name string) error {
	client, err := p.Client(ctx, name)
	if err != nil {
		return err
	}
	_, err = client.Verify(ctx)
	return err
}

// Drop ends the named session so the next use reconnects.
func (p *Pool) Drop(name string) {
	s, _, err := p.session(name)
	if err != nil {
		return
	}
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.End()
	}
}

// Status reports the named profile's session.
func (p *Pool) Status(name string) (Status, error) {
	s, profile, err := p.session(name)
	if err != nil {
		return Status{}, err
	}
	return s.status(profile), nil
}

// Statuses reports every configured profile, sorted by name.
func (p *Pool) Statuses() []Status {
	profiles := p.profiles.GetServers()
	out := make([]Status, 0, len(profiles))
	for _, profile := range profiles {
		st, err := p.Status(profile.Name)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *session) status(profile config.ServerProfile) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:     profile.Name,
		Game:     profile.Game,
		Address:  fmt.Sprintf("%s:%d", profile.Host, profile.Port),
		State:    rcon.StateIdle,
		Failures: s.failures,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if !s.lastUsed.IsZero() {
		t := s.lastUsed
		st.LastUsed = &t
	}
	if time.Now().Before(s.backoffUntil) {
		t := s.backoffUntil
		st.RetryAt = &t
	}
	if s.client != nil {
		st.Game = s.client.Game()
		st.State = s.client.State()
		st.SessionID = s.client.ID()
		st.Pending = s.client.Pending()
		if t := s.client.ConnectedAt(); !t.IsZero() {
			st.ConnectedAt = &t
		}
	}
	return st
}

// Events returns the bus the pool's sessions publish on.
func (p *Pool) Events() *events.EventBus {
	return p.bus
}

// Close ends every session. The pool cannot be used afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.client != nil {
			s.client.End()
			s.client = nil
		}
		s.mu.Unlock()
	}
	p.logger.Info().Int("sessions", len(sessions)).Msg("session pool closed")
}
