package network

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// BattlEyeKeepAlive is well under the 45 second idle limit BattlEye servers apply.
const BattlEyeKeepAlive = 30 * time.Second

const maxDatagram = 64 * 1024

// BattlEyeLink speaks BattlEye RCon over UDP. Server messages are
// acknowledged here, on the read path, so a slow consumer never delays an
// ack and triggers retransmits.
type BattlEyeLink struct {
	conn    *Connection
	scratch []byte

	lastMessage int
	parts       map[byte]*multipart
}

type multipart struct {
	count    byte
	received int
	data     [][]byte
}

// DialBattlEye opens a connected UDP socket to a BattlEye RCon port.
func DialBattlEye(ctx context.Context, cfg DialConfig) (Link, error) {
	conn, err := dialConn(ctx, "udp", cfg)
	if err != nil {
		return nil, err
	}
	return NewBattlEyeLink(NewConnection(conn, "battleye", cfg.writeTimeout())), nil
}

// NewBattlEyeLink wraps a connected datagram socket.
func NewBattlEyeLink(conn *Connection) *BattlEyeLink {
	return &BattlEyeLink{
		conn:        conn,
		scratch:     make([]byte, maxDatagram),
		lastMessage: -1,
		parts:       make(map[byte]*multipart),
	}
}

// Caps implements Link. Sequence numbers are one byte.
func (l *BattlEyeLink) Caps() Caps {
	return Caps{FirstID: 0, MaxID: 0xFF, KeepAlive: BattlEyeKeepAlive}
}

// Handshake sends the login datagram and waits for the login response.
func (l *BattlEyeLink) Handshake(ctx context.Context, _ uint32, password string) error {
	release := l.conn.Bind(ctx)
	defer release()

	if err := l.conn.Write(protocol.EncodeBattlEye(protocol.BELoginPacket(password))); err != nil {
		return handshakeError(ctx, "send login", err)
	}

	for {
		pkt, err := l.read()
		if err != nil {
			return handshakeError(ctx, "await login response", err)
		}
		if pkt.Type != protocol.BELogin {
			l.conn.Logger().Trace().Uint8("type", pkt.Type).Msg("discarding datagram during login")
			continue
		}
		if !pkt.LoginOK() {
			return ErrAuthenticationFailed
		}
		return nil
	}
}

// WriteCommand sends a command with id as its sequence number.
func (l *BattlEyeLink) WriteCommand(id uint32, command string) error {
	return l.conn.Write(protocol.EncodeBattlEye(protocol.BECommandPacket(byte(id), command)))
}

// ReadInbound returns the next command response or server message.
func (l *BattlEyeLink) ReadInbound() (Inbound, error) {
	for {
		pkt, err := l.read()
		if err != nil {
			if IsMalformed(err) {
				return Inbound{Err: err}, nil
			}
			return Inbound{}, err
		}

		switch pkt.Type {
		case protocol.BEMessage:
			if err := l.conn.Write(protocol.EncodeBattlEye(protocol.BEAckPacket(pkt.Seq))); err != nil {
				return Inbound{}, err
			}
			if int(pkt.Seq) == l.lastMessage {
				l.conn.Logger().Trace().Uint8("seq", pkt.Seq).Msg("re-acked retransmitted server message")
				continue
			}
			l.lastMessage = int(pkt.Seq)
			return Inbound{Kind: InboundPush, Body: string(pkt.Body)}, nil

		case protocol.BECommand:
			count, index, data, ok := pkt.Part()
			if !ok {
				return Inbound{Kind: InboundReply, ID: uint32(pkt.Seq), Body: string(pkt.Body)}, nil
			}
			body, done, err := l.assemble(pkt.Seq, count, index, data)
			if err != nil {
				return Inbound{Err: err}, nil
			}
			if done {
				return Inbound{Kind: InboundReply, ID: uint32(pkt.Seq), Body: body}, nil
			}

		default:
			l.conn.Logger().Trace().Uint8("type", pkt.Type).Msg("discarding late login datagram")
		}
	}
}

// Close implements Link.
func (l *BattlEyeLink) Close() error {
	return l.conn.Close()
}

func (l *BattlEyeLink) read() (protocol.BEPacket, error) {
	n, err := l.conn.Read(l.scratch)
	if err != nil {
		return protocol.BEPacket{}, transportError("read", err)
	}
	return protocol.DecodeBattlEye(l.scratch[:n])
}

// assemble collects the parts of a multi-part response. Parts may arrive
// in any order; duplicates are ignored.
func (l *BattlEyeLink) assemble(seq, count, index byte, data []byte) (string, bool, error) {
	if count == 0 || index >= count {
		delete(l.parts, seq)
		return "", false, fmt.Errorf("%w: battleye part %d of %d", protocol.ErrMalformedFrame, index, count)
	}

	mp, ok := l.parts[seq]
	if !ok || mp.count != count {
		mp = &multipart{count: count, data: make([][]byte, count)}
		l.parts[seq] = mp
	}
	if mp.data[index] == nil {
		mp.data[index] = append([]byte{}, data...)
		mp.received++
	}
	if mp.received < int(count) {
		return "", false, nil
	}

	delete(l.parts, seq)
	var sb strings.Builder
	for _, part := range mp.data {
		sb.Write(part)
	}
	return sb.String(), true, nil
}
