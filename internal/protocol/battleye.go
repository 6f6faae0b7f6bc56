package protocol

import (
	"encoding/binary"
	"hash/crc32"
)

// BEPacket is one decoded BattlEye RCon datagram.
//
// Login frames carry no sequence: on the way out Body is the password, on
// the way back it is the one-byte success flag. Command and message frames
// carry Seq followed by Body.
type BEPacket struct {
	Type byte
	Seq  byte
	Body []byte
}

// LoginOK reports whether p is a successful login response.
func (p BEPacket) LoginOK() bool {
	return p.Type == BELogin && len(p.Body) > 0 && p.Body[0] == 0x01
}

// Part reports whether p is one fragment of a multi-part command response:
// a body of 0x00, part count, part index, then the fragment text.
func (p BEPacket) Part() (count, index byte, data []byte, ok bool) {
	if p.Type != BECommand || len(p.Body) < 3 || p.Body[0] != 0x00 {
		return 0, 0, nil, false
	}
	return p.Body[1], p.Body[2], p.Body[3:], true
}

// BELoginPacket builds a login request.
func BELoginPacket(password string) BEPacket {
	return BEPacket{Type: BELogin, Body: []byte(password)}
}

// BECommandPacket builds a command request. An empty command is the keep-alive.
func BECommandPacket(seq byte, command string) BEPacket {
	return BEPacket{Type: BECommand, Seq: seq, Body: []byte(command)}
}

// BEAckPacket acknowledges a server message with the same sequence number.
func BEAckPacket(seq byte) BEPacket {
	return BEPacket{Type: BEMessage, Seq: seq}
}

func bePayload(p BEPacket) []byte {
	b := NewPacketBuilder()
	b.WriteByte(BETrailer)
	b.WriteByte(p.Type)
	if p.Type != BELogin {
		b.WriteByte(p.Seq)
	}
	b.WriteBytes(p.Body)
	return b.Build()
}

// EncodeBattlEye serializes p as
// "BE" [crc32(0xFF + payload):4 LE] 0xFF [payload...].
func EncodeBattlEye(p BEPacket) []byte {
	payload := bePayload(p)
	b := NewPacketBuilder()
	b.WriteBytes(Magic[:])
	b.WriteUint32(crc32.ChecksumIEEE(payload))
	b.WriteBytes(payload)
	return b.Build()
}

// DecodeBattlEye validates the magic and checksum before trusting any
// other field. A checksum failure wraps ErrChecksumMismatch.
func DecodeBattlEye(data []byte) (BEPacket, error) {
	if len(data) < BEHeaderSize+1 {
		return BEPacket{}, malformed("battleye datagram is %d bytes", len(data))
	}
	if data[0] != Magic[0] || data[1] != Magic[1] {
		return BEPacket{}, malformed("battleye datagram has bad magic %q", data[0:2])
	}

	want := binary.LittleEndian.Uint32(data[2:6])
	if got := crc32.ChecksumIEEE(data[6:]); got != want {
		return BEPacket{}, ErrChecksumMismatch
	}
	if data[6] != BETrailer {
		return BEPacket{}, malformed("battleye datagram missing 0xFF trailer")
	}

	p := BEPacket{Type: data[7]}
	rest := data[8:]
	switch p.Type {
	case BELogin:
	case BECommand, BEMessage:
		if len(rest) < 1 {
			return BEPacket{}, malformed("battleye type 0x%02x frame without sequence", p.Type)
		}
		p.Seq = rest[0]
		rest = rest[1:]
	default:
		return BEPacket{}, malformed("battleye unknown type 0x%02x", p.Type)
	}
	if len(rest) > 0 {
		p.Body = append([]byte(nil), rest...)
	}
	return p, nil
}
