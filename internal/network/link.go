// Package network implements the raw I/O side of every RCON transport: one
// Link per protocol family owning the socket, running the family's
// handshake, writing encoded commands and turning inbound bytes into
// correlated replies or unsolicited pushes.
package network

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// InboundKind tells the connection owner how to route an Inbound.
type InboundKind int

const (
	// InboundReply answers the request carrying ID.
	InboundReply InboundKind = iota
	// InboundPush is server output nobody asked for.
	InboundPush
)

// Inbound is one item read from a Link after the handshake.
// When Err is set the item carries nothing else: a frame failed to decode
// but the link is still usable.
type Inbound struct {
	Kind InboundKind
	ID   uint32
	Body string
	Err  error
}

// Caps describes the id space and timing a Link needs from its owner.
type Caps struct {
	// FirstID and MaxID bound request ids; allocation wraps from MaxID to FirstID.
	FirstID uint32
	MaxID   uint32
	// Serial links have no ids on the wire and accept one command at a time.
	Serial bool
	// AuthID links carry a request id on the auth frame, so the handshake
	// consumes one from the id space.
	AuthID bool
	// KeepAlive is how often an empty command must be sent; 0 disables it.
	KeepAlive time.Duration
}

// IDSpace returns how many distinct ids the link can carry.
func (c Caps) IDSpace() uint64 {
	return uint64(c.MaxID) - uint64(c.FirstID) + 1
}

// Link is a connected transport for one RCON family.
//
// Handshake runs before any reader is started and must return once the
// server accepted or rejected the credentials or ctx expired. After it
// returns nil, exactly one goroutine calls ReadInbound in a loop while any
// goroutine may call WriteCommand. ReadInbound returns a non-nil error only
// when the link is unusable.
type Link interface {
	Caps() Caps
	Handshake(ctx context.Context, authID uint32, password string) error
	WriteCommand(id uint32, command string) error
	ReadInbound() (Inbound, error)
	Close() error
}

// DialConfig carries what every dialer needs.
type DialConfig struct {
	Address  string
	Password string
	// Secure wraps stream transports in TLS and selects wss:// for WebRcon.
	Secure bool
	// TLS overrides the default client TLS configuration when Secure is set.
	TLS *tls.Config
	// WriteTimeout bounds every frame write. Zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// DialFunc opens a Link. The returned link has not run its handshake yet.
type DialFunc func(ctx context.Context, cfg DialConfig) (Link, error)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

func (cfg DialConfig) tlsConfig() *tls.Config {
	if !cfg.Secure {
		return nil
	}
	if cfg.TLS != nil {
		return cfg.TLS
	}
	host, _, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		host = cfg.Address
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

func (cfg DialConfig) writeTimeout() time.Duration {
	if cfg.WriteTimeout > 0 {
		return cfg.WriteTimeout
	}
	return DefaultWriteTimeout
}

func dialConn(ctx context.Context, network string, cfg DialConfig) (net.Conn, error) {
	d := net.Dialer{}
	if tc := cfg.tlsConfig(); tc != nil && network == "tcp" {
		td := tls.Dialer{NetDialer: &d, Config: tc}
		conn, err := td.DialContext(ctx, network, cfg.Address)
		if err != nil {
			return nil, transportError("dial "+cfg.Address, err)
		}
		return conn, nil
	}
	conn, err := d.DialContext(ctx, network, cfg.Address)
	if err != nil {
		return nil, transportError("dial "+cfg.Address, err)
	}
	return conn, nil
}
