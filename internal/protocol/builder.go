package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs binary frames field by field.
// Multi-byte writes are little-endian unless the method name says otherwise.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32BE writes a uint32 in big-endian order (session-keyed frames).
func (b *PacketBuilder) WriteUint32BE(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteString writes raw string bytes without terminator.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns a copy of the constructed bytes.
func (b *PacketBuilder) Build() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// BuildWithLength returns the frame with a 4-byte LE length prefix
// covering everything after the prefix.
func (b *PacketBuilder) BuildWithLength() []byte {
	data := b.buf.Bytes()
	result := make([]byte, ValveLengthSize+len(data))
	binary.LittleEndian.PutUint32(result[:ValveLengthSize], uint32(len(data)))
	copy(result[ValveLengthSize:], data)
	return result
}
