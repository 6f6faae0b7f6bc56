package network

import (
	"context"
	"math"

	"github.com/energizer-project/rconnect/internal/protocol"
)

const readChunkSize = 4096

// ValveLink speaks Source RCON over TCP, optionally inside TLS.
type ValveLink struct {
	conn    *Connection
	asm     *protocol.Reassembler
	scratch []byte
}

// DialValve connects to a Source RCON server.
func DialValve(ctx context.Context, cfg DialConfig) (Link, error) {
	conn, err := dialConn(ctx, "tcp", cfg)
	if err != nil {
		return nil, err
	}
	return NewValveLink(NewConnection(conn, "valve", cfg.writeTimeout())), nil
}

// NewValveLink wraps an established connection.
func NewValveLink(conn *Connection) *ValveLink {
	return &ValveLink{
		conn:    conn,
		asm:     protocol.NewReassembler(protocol.SplitValve),
		scratch: make([]byte, readChunkSize),
	}
}

// Caps implements Link.
func (l *ValveLink) Caps() Caps {
	return Caps{FirstID: 1, MaxID: math.MaxInt32, AuthID: true}
}

// Handshake sends SERVERDATA_AUTH and waits for the matching auth response.
// Minecraft sends an empty RESPONSE_VALUE first; it and any other frame
// are discarded.
func (l *ValveLink) Handshake(ctx context.Context, authID uint32, password string) error {
	release := l.conn.Bind(ctx)
	defer release()

	auth := protocol.EncodeValve(protocol.ValvePacket{ID: int32(authID), Type: protocol.ValveAuth, Body: password})
	if err := l.conn.Write(auth); err != nil {
		return handshakeError(ctx, "send auth", err)
	}

	for {
		pkt, err := l.next()
		if err != nil {
			return handshakeError(ctx, "await auth response", err)
		}
		if pkt.Type != protocol.ValveAuthResponse {
			l.conn.Logger().Trace().Int32("id", pkt.ID).Int32("type", pkt.Type).Msg("discarding frame during handshake")
			continue
		}
		switch pkt.ID {
		case protocol.ValveAuthFailedID:
			return ErrAuthenticationFailed
		case int32(authID):
			return nil
		}
	}
}

// WriteCommand sends SERVERDATA_EXECCOMMAND.
func (l *ValveLink) WriteCommand(id uint32, command string) error {
	return l.conn.Write(protocol.EncodeValve(protocol.ValvePacket{
		ID:   int32(id),
		Type: protocol.ValveExecCommand,
		Body: command,
	}))
}

// ReadInbound returns the next RESPONSE_VALUE.
func (l *ValveLink) ReadInbound() (Inbound, error) {
	for {
		pkt, err := l.next()
		if err != nil {
			if IsMalformed(err) {
				return Inbound{Err: err}, nil
			}
			return Inbound{}, err
		}
		if pkt.Type != protocol.ValveResponseValue {
			l.conn.Logger().Trace().Int32("id", pkt.ID).Int32("type", pkt.Type).Msg("discarding non-response frame")
			continue
		}
		return Inbound{Kind: InboundReply, ID: uint32(pkt.ID), Body: pkt.Body}, nil
	}
}

// Close implements Link.
func (l *ValveLink) Close() error {
	return l.conn.Close()
}

// next returns the next decoded frame, reading from the socket until the
// reassembler holds a complete one.
func (l *ValveLink) next() (protocol.ValvePacket, error) {
	for {
		frame, err := l.asm.Next()
		if err != nil {
			return protocol.ValvePacket{}, err
		}
		if frame != nil {
			return protocol.DecodeValve(frame)
		}

		n, err := l.conn.Read(l.scratch)
		if n > 0 {
			l.asm.Write(l.scratch[:n])
			continue
		}
		if err != nil {
			return protocol.ValvePacket{}, transportError("read", err)
		}
	}
}
