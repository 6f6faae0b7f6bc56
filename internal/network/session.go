package network

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// SessionLink speaks the session-keyed UDP protocol used by SCUM. The
// server assigns a session id at login; every later frame carries it.
type SessionLink struct {
	conn    *Connection
	scratch []byte
	session atomic.Uint32
}

// DialSession opens a connected UDP socket to a session-keyed RCON port.
func DialSession(ctx context.Context, cfg DialConfig) (Link, error) {
	conn, err := dialConn(ctx, "udp", cfg)
	if err != nil {
		return nil, err
	}
	return NewSessionLink(NewConnection(conn, "session", cfg.writeTimeout())), nil
}

// NewSessionLink wraps a connected datagram socket.
func NewSessionLink(conn *Connection) *SessionLink {
	return &SessionLink{conn: conn, scratch: make([]byte, maxDatagram)}
}

// Caps implements Link. The server drops idle sessions like BattlEye does.
func (l *SessionLink) Caps() Caps {
	return Caps{FirstID: 1, MaxID: math.MaxUint32, KeepAlive: BattlEyeKeepAlive}
}

// Session returns the id assigned at login, or 0 before that.
func (l *SessionLink) Session() uint32 {
	return l.session.Load()
}

// Handshake logs in with session 0 and stores the id the server assigns.
func (l *SessionLink) Handshake(ctx context.Context, _ uint32, password string) error {
	release := l.conn.Bind(ctx)
	defer release()

	login := protocol.EncodeSession(protocol.SessionPacket{Type: protocol.SessionLogin, Body: password})
	if err := l.conn.Write(login); err != nil {
		return handshakeError(ctx, "send login", err)
	}

	for {
		pkt, err := l.read()
		if err != nil {
			return handshakeError(ctx, "await login response", err)
		}
		if pkt.Type != protocol.SessionLogin {
			l.conn.Logger().Trace().Uint8("type", pkt.Type).Msg("discarding datagram during login")
			continue
		}
		if pkt.Session == 0 {
			return ErrAuthenticationFailed
		}
		l.session.Store(pkt.Session)
		l.conn.Logger().Debug().Uint32("session", pkt.Session).Msg("session assigned")
		return nil
	}
}

// WriteCommand sends a command tagged with the session and request id.
func (l *SessionLink) WriteCommand(id uint32, command string) error {
	return l.conn.Write(protocol.EncodeSession(protocol.SessionPacket{
		Type:      protocol.SessionCommand,
		Session:   l.session.Load(),
		RequestID: id,
		Body:      command,
	}))
}

// ReadInbound returns the next response or server message for our session.
// Server messages need no acknowledgement in this protocol.
func (l *SessionLink) ReadInbound() (Inbound, error) {
	for {
		pkt, err := l.read()
		if err != nil {
			if IsMalformed(err) {
				return Inbound{Err: err}, nil
			}
			return Inbound{}, err
		}
		if pkt.Session != l.session.Load() {
			l.conn.Logger().Trace().Uint32("session", pkt.Session).Msg("discarding datagram for foreign session")
			continue
		}

		switch pkt.Type {
		case protocol.SessionCommand:
			return Inbound{Kind: InboundReply, ID: pkt.RequestID, Body: pkt.Body}, nil
		case protocol.SessionMessage:
			return Inbound{Kind: InboundPush, Body: pkt.Body}, nil
		}
	}
}

// Close implements Link.
func (l *SessionLink) Close() error {
	return l.conn.Close()
}

func (l *SessionLink) read() (protocol.SessionPacket, error) {
	n, err := l.conn.Read(l.scratch)
	if err != nil {
		return protocol.SessionPacket{}, transportError("read", err)
	}
	return protocol.DecodeSession(l.scratch[:n])
}
