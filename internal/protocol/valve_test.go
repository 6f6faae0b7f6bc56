package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestValveRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  ValvePacket
	}{
		{"hello", ValvePacket{ID: 1, Type: ValveExecCommand, Body: "hello"}},
		{"auth", ValvePacket{ID: 7, Type: ValveAuth, Body: "s3cret"}},
		{"empty body", ValvePacket{ID: 2, Type: ValveResponseValue}},
		{"auth failed id", ValvePacket{ID: ValveAuthFailedID, Type: ValveAuthResponse}},
		{"max id", ValvePacket{ID: math.MaxInt32, Type: ValveResponseValue, Body: "x"}},
		{"utf8", ValvePacket{ID: 3, Type: ValveResponseValue, Body: "Spieler: Jürgen ✓"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeValve(tc.pkt)
			if len(encoded) != ValveMinFrameSize+len(tc.pkt.Body) {
				t.Fatalf("encoded size = %d, want %d", len(encoded), ValveMinFrameSize+len(tc.pkt.Body))
			}
			decoded, err := DecodeValve(encoded)
			if err != nil {
				t.Fatalf("DecodeValve failed: %v", err)
			}
			if decoded != tc.pkt {
				t.Errorf("decoded %+v, want %+v", decoded, tc.pkt)
			}
		})
	}
}

func TestValveWireLayout(t *testing.T) {
	got := EncodeValve(ValvePacket{ID: 1, Type: 2, Body: "hello"})
	want := []byte{
		15, 0, 0, 0, // length
		1, 0, 0, 0, // id
		2, 0, 0, 0, // type
		'h', 'e', 'l', 'l', 'o',
		0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeValve = %v, want %v", got, want)
	}
}

func TestValveDecodeRejects(t *testing.T) {
	valid := EncodeValve(ValvePacket{ID: 1, Type: 2, Body: "hello"})

	corruptLength := bytes.Clone(valid)
	corruptLength[0] = 99

	noTerminator := bytes.Clone(valid)
	noTerminator[len(noTerminator)-1] = 'x'

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short", valid[:ValveMinFrameSize-1]},
		{"truncated", valid[:len(valid)-1]},
		{"corrupt length", corruptLength},
		{"missing terminator", noTerminator},
		{"trailing garbage", append(bytes.Clone(valid), 0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeValve(tc.data)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("DecodeValve error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestSplitValve(t *testing.T) {
	frame := EncodeValve(ValvePacket{ID: 4, Type: 0, Body: "abc"})

	for i := 0; i < len(frame); i++ {
		n, err := SplitValve(frame[:i])
		if err != nil {
			t.Fatalf("SplitValve(%d bytes) error: %v", i, err)
		}
		if n != 0 {
			t.Fatalf("SplitValve(%d bytes) = %d, want 0", i, n)
		}
	}

	n, err := SplitValve(append(bytes.Clone(frame), 1, 2, 3))
	if err != nil || n != len(frame) {
		t.Fatalf("SplitValve(full+extra) = %d, %v; want %d, nil", n, err, len(frame))
	}

	for _, length := range []uint32{0, 9, MaxFrameSize + 1, 0xFFFFFFFF} {
		buf := NewPacketBuilder().WriteUint32(length).Build()
		if _, err := SplitValve(buf); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("SplitValve(length=%d) error = %v, want ErrMalformedFrame", length, err)
		}
	}
}

func TestReadWriteValve(t *testing.T) {
	var buf bytes.Buffer
	packets := []ValvePacket{
		{ID: 1, Type: ValveAuth, Body: "pw"},
		{ID: 2, Type: ValveExecCommand, Body: "status"},
	}
	for _, p := range packets {
		if err := WriteValve(&buf, p); err != nil {
			t.Fatalf("WriteValve failed: %v", err)
		}
	}
	for _, want := range packets {
		got, err := ReadValve(&buf)
		if err != nil {
			t.Fatalf("ReadValve failed: %v", err)
		}
		if got != want {
			t.Errorf("ReadValve = %+v, want %+v", got, want)
		}
	}
	if _, err := ReadValve(&buf); err == nil {
		t.Error("ReadValve on empty stream should fail")
	}
}
