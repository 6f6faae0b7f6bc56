package rcon

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/energizer-project/rconnect/internal/events"
)

// DefaultTimeout bounds connect (dial plus handshake) and, when the caller's
// context has no deadline, each command.
const DefaultTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	Host     string
	Port     int
	Password string
	// Game selects the protocol family; empty means Valve.
	Game string
	// Secure enables TLS on stream transports and wss:// for WebRcon.
	Secure bool
	TLS    *tls.Config

	Timeout time.Duration
	// KeepAlive overrides the family's interval. Zero keeps the family
	// default, negative disables keep-alive.
	KeepAlive time.Duration
	// MaxPending caps outstanding requests. Zero picks 255 for one-byte id
	// spaces and 1024 otherwise.
	MaxPending int

	// Name labels events and logs; it defaults to host:port.
	Name string
	// Bus receives lifecycle events. A private bus is created when nil.
	Bus *events.EventBus
	// Verifier overrides the game's verification probe.
	Verifier *Verifier
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() (Options, error) {
	if strings.TrimSpace(o.Host) == "" {
		return o, fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return o, fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.MaxPending < 0 {
		return o, fmt.Errorf("%w: max pending %d is negative", ErrInvalidOptions, o.MaxPending)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Name == "" {
		o.Name = o.Addr()
	}
	return o, nil
}
