package network

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// TelnetLink drives the 7 Days to Die telnet console. There are no ids on
// the wire: the first line after a command is its answer, so the owner
// must keep at most one command outstanding.
type TelnetLink struct {
	conn    *Connection
	text    protocol.TextBuffer
	scratch []byte

	mu      sync.Mutex
	current uint32
	waiting bool
}

// DialTelnet connects to a telnet console.
func DialTelnet(ctx context.Context, cfg DialConfig) (Link, error) {
	conn, err := dialConn(ctx, "tcp", cfg)
	if err != nil {
		return nil, err
	}
	return NewTelnetLink(NewConnection(conn, "telnet", cfg.writeTimeout())), nil
}

// NewTelnetLink wraps an established connection.
func NewTelnetLink(conn *Connection) *TelnetLink {
	return &TelnetLink{conn: conn, scratch: make([]byte, readChunkSize)}
}

// Caps implements Link.
func (l *TelnetLink) Caps() Caps {
	return Caps{FirstID: 1, MaxID: math.MaxUint32, Serial: true}
}

// Handshake waits for the password prompt, answers it and waits for the
// session banner. A "password incorrect" reply fails immediately instead of
// waiting out the timeout.
func (l *TelnetLink) Handshake(ctx context.Context, _ uint32, password string) error {
	release := l.conn.Bind(ctx)
	defer release()

	if _, err := l.await(protocol.PasswordPrompt); err != nil {
		return handshakeError(ctx, "await password prompt", err)
	}
	if err := l.conn.Write(protocol.EncodeLine(password)); err != nil {
		return handshakeError(ctx, "send password", err)
	}

	which, err := l.await(protocol.SessionBanner, protocol.PasswordRejected)
	if err != nil {
		return handshakeError(ctx, "await session banner", err)
	}
	if which == 1 {
		return ErrAuthenticationFailed
	}

	// Drop the rest of the banner line.
	if _, ok := l.text.NextLine(); !ok {
		l.text.Reset()
	}
	return nil
}

// WriteCommand writes the command line and marks id as the one the next
// line answers.
func (l *TelnetLink) WriteCommand(id uint32, command string) error {
	l.mu.Lock()
	l.current, l.waiting = id, true
	l.mu.Unlock()

	if err := l.conn.Write(protocol.EncodeLine(command)); err != nil {
		l.mu.Lock()
		l.waiting = false
		l.mu.Unlock()
		return err
	}
	return nil
}

// ReadInbound returns the next non-blank line, trimmed. It answers the
// outstanding command if there is one and is a push otherwise.
func (l *TelnetLink) ReadInbound() (Inbound, error) {
	for {
		if line, ok := l.text.NextLine(); ok {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			l.mu.Lock()
			waiting, id := l.waiting, l.current
			l.waiting = false
			l.mu.Unlock()

			if waiting {
				return Inbound{Kind: InboundReply, ID: id, Body: line}, nil
			}
			return Inbound{Kind: InboundPush, Body: line}, nil
		}

		if err := l.fill(); err != nil {
			return Inbound{}, err
		}
	}
}

// Close implements Link.
func (l *TelnetLink) Close() error {
	return l.conn.Close()
}

func (l *TelnetLink) await(patterns ...*regexp.Regexp) (int, error) {
	for {
		if which, _, ok := l.text.MatchAny(patterns...); ok {
			return which, nil
		}
		if err := l.fill(); err != nil {
			return -1, err
		}
	}
}

func (l *TelnetLink) fill() error {
	n, err := l.conn.Read(l.scratch)
	if n > 0 {
		l.text.Write(l.scratch[:n])
		return nil
	}
	if err != nil {
		return transportError("read", err)
	}
	return nil
}
