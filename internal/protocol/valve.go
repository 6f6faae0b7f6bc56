package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ValvePacket is one Source RCON frame.
type ValvePacket struct {
	ID   int32
	Type int32
	Body string
}

// EncodeValve serializes p as
// [length:4][id:4][type:4][body...][0x00][0x00], little-endian.
func EncodeValve(p ValvePacket) []byte {
	b := NewPacketBuilder()
	b.WriteInt32(p.ID)
	b.WriteInt32(p.Type)
	b.WriteString(p.Body)
	b.WriteByte(0).WriteByte(0)
	return b.BuildWithLength()
}

// DecodeValve parses exactly one complete frame. The declared length must
// match the buffer and both terminators must be zero.
func DecodeValve(data []byte) (ValvePacket, error) {
	if len(data) < ValveMinFrameSize {
		return ValvePacket{}, malformed("valve frame is %d bytes, need at least %d", len(data), ValveMinFrameSize)
	}

	length := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	if length != len(data)-ValveLengthSize {
		return ValvePacket{}, malformed("valve length field %d does not match %d available bytes", length, len(data)-ValveLengthSize)
	}
	if data[len(data)-2] != 0 || data[len(data)-1] != 0 {
		return ValvePacket{}, malformed("valve frame missing terminators")
	}

	return ValvePacket{
		ID:   int32(binary.LittleEndian.Uint32(data[4:8])),
		Type: int32(binary.LittleEndian.Uint32(data[8:12])),
		Body: string(data[12 : len(data)-2]),
	}, nil
}

// SplitValve reports the size of the first complete Valve frame in buf, or
// 0 when more bytes are needed. Length fields outside
// [ValveMinLength, MaxFrameSize] can never be satisfied and are malformed.
func SplitValve(buf []byte) (int, error) {
	if len(buf) < ValveLengthSize {
		return 0, nil
	}
	length := int64(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if length < ValveMinLength || length > MaxFrameSize {
		return 0, malformed("valve length field %d out of range", length)
	}
	total := ValveLengthSize + int(length)
	if len(buf) < total {
		return 0, nil
	}
	return total, nil
}

// ReadValve reads one frame from a blocking stream.
func ReadValve(r io.Reader) (ValvePacket, error) {
	var prefix [ValveLengthSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return ValvePacket{}, fmt.Errorf("failed to read frame length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(prefix[:]))
	if length < ValveMinLength || length > MaxFrameSize {
		return ValvePacket{}, malformed("valve length field %d out of range", length)
	}

	frame := make([]byte, ValveLengthSize+int(length))
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[ValveLengthSize:]); err != nil {
		return ValvePacket{}, fmt.Errorf("failed to read frame payload (%d bytes): %w", length, err)
	}
	return DecodeValve(frame)
}

// WriteValve encodes p and writes it to w.
func WriteValve(w io.Writer, p ValvePacket) error {
	if _, err := w.Write(EncodeValve(p)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
