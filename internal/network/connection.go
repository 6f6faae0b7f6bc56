package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// aLongTimeAgo is a non-zero deadline in the past, used to unblock I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Connection wraps a stream or connected datagram socket owned by one link.
// Writes are serialized so a frame is never interleaved with another.
type Connection struct {
	mu           sync.Mutex
	conn         net.Conn
	logger       zerolog.Logger
	writeTimeout time.Duration

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConnection wraps an already dialed net.Conn.
func NewConnection(conn net.Conn, family string, writeTimeout time.Duration) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		writeTimeout: writeTimeout,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "rcon_link").
			Str("protocol", family).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *zerolog.Logger {
	return &c.logger
}

// Read reads the next chunk (stream) or datagram (UDP).
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
	}
	return n, err
}

// Write sends one whole frame.
func (c *Connection) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return transportError("write", net.ErrClosed)
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		return transportError("write", err)
	}

	c.lastActivity = time.Now()
	c.logger.Trace().Int("bytes", len(frame)).Msg("frame written")
	return nil
}

// Bind applies ctx's deadline to the socket and interrupts blocked I/O if
// ctx is cancelled. The returned function releases the binding and clears
// the deadline; after it returns ctx can no longer affect the socket.
func (c *Connection) Bind(ctx context.Context) (release func()) {
	var mu sync.Mutex
	released := false

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !released {
			c.conn.SetDeadline(aLongTimeAgo)
		}
	})

	return func() {
		stop()
		mu.Lock()
		released = true
		c.conn.SetDeadline(time.Time{})
		mu.Unlock()
	}
}

// Close closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().
		Dur("lifetime", time.Since(c.connectedAt)).
		Msg("connection closed")
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
