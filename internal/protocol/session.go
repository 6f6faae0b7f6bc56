package protocol

import (
	"bytes"
	"encoding/binary"
)

// SessionPacket is one frame of the session-keyed (SCUM) protocol.
//
// Layout: "BE" [type:1] [session:4 BE] then, for every type except login,
// [request id:4 BE]; finally the body and a 0x00 terminator. The login
// request carries session 0; the server answers with the assigned session
// id, or 0 when the password was rejected.
type SessionPacket struct {
	Type      byte
	Session   uint32
	RequestID uint32
	Body      string
}

// EncodeSession serializes p.
func EncodeSession(p SessionPacket) []byte {
	b := NewPacketBuilder()
	b.WriteBytes(Magic[:])
	b.WriteByte(p.Type)
	b.WriteUint32BE(p.Session)
	if p.Type != SessionLogin {
		b.WriteUint32BE(p.RequestID)
	}
	b.WriteNullString(p.Body)
	return b.Build()
}

// DecodeSession parses one datagram. The body must not contain NUL and
// must be terminated by one, except that a login frame may end right
// after the session id.
func DecodeSession(data []byte) (SessionPacket, error) {
	if len(data) < SessionHeaderSize {
		return SessionPacket{}, malformed("session datagram is %d bytes", len(data))
	}
	if data[0] != Magic[0] || data[1] != Magic[1] {
		return SessionPacket{}, malformed("session datagram has bad magic %q", data[0:2])
	}

	p := SessionPacket{
		Type:    data[2],
		Session: binary.BigEndian.Uint32(data[3:7]),
	}
	rest := data[SessionHeaderSize:]
	switch p.Type {
	case SessionLogin:
		if len(rest) == 0 {
			return p, nil
		}
	case SessionCommand, SessionMessage:
		if len(rest) < SessionRequestSize+1 {
			return SessionPacket{}, malformed("session type 0x%02x frame without request id", p.Type)
		}
		p.RequestID = binary.BigEndian.Uint32(rest[:SessionRequestSize])
		rest = rest[SessionRequestSize:]
	default:
		return SessionPacket{}, malformed("session unknown type 0x%02x", p.Type)
	}
	if len(rest) == 0 {
		return SessionPacket{}, malformed("session frame missing terminator")
	}

	if rest[len(rest)-1] != 0 {
		return SessionPacket{}, malformed("session frame missing terminator")
	}
	body := rest[:len(rest)-1]
	if bytes.IndexByte(body, 0) >= 0 {
		return SessionPacket{}, malformed("session body contains NUL")
	}
	p.Body = string(body)
	return p, nil
}
