package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  SessionPacket
	}{
		{"login request", SessionPacket{Type: SessionLogin, Body: "secret"}},
		{"login accept", SessionPacket{Type: SessionLogin, Session: 0xCAFEBABE}},
		{"command", SessionPacket{Type: SessionCommand, Session: 77, RequestID: 1, Body: "#ListPlayers"}},
		{"message", SessionPacket{Type: SessionMessage, Session: 77, Body: "Server restarting"}},
		{"max request id", SessionPacket{Type: SessionCommand, Session: 1, RequestID: 0xFFFFFFFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeSession(EncodeSession(tc.pkt))
			if err != nil {
				t.Fatalf("DecodeSession failed: %v", err)
			}
			if decoded != tc.pkt {
				t.Errorf("decoded %+v, want %+v", decoded, tc.pkt)
			}
		})
	}
}

func TestSessionWireLayout(t *testing.T) {
	login := EncodeSession(SessionPacket{Type: SessionLogin, Body: "pw"})
	if want := []byte{'B', 'E', 0x00, 0, 0, 0, 0, 'p', 'w', 0}; !bytes.Equal(login, want) {
		t.Errorf("login = %v, want %v", login, want)
	}

	cmd := EncodeSession(SessionPacket{Type: SessionCommand, Session: 0x01020304, RequestID: 5, Body: "x"})
	if want := []byte{'B', 'E', 0x01, 1, 2, 3, 4, 0, 0, 0, 5, 'x', 0}; !bytes.Equal(cmd, want) {
		t.Errorf("command = %v, want %v", cmd, want)
	}
}

func TestSessionDecodeBareLoginAccept(t *testing.T) {
	pkt, err := DecodeSession([]byte{'B', 'E', 0x00, 0, 0, 0, 7})
	if err != nil {
		t.Fatalf("DecodeSession failed: %v", err)
	}
	if want := (SessionPacket{Type: SessionLogin, Session: 7}); pkt != want {
		t.Errorf("decoded %+v, want %+v", pkt, want)
	}
}

func TestSessionDecodeRejects(t *testing.T) {
	noTerm := EncodeSession(SessionPacket{Type: SessionCommand, Session: 1, RequestID: 1, Body: "abc"})
	noTerm = noTerm[:len(noTerm)-1]

	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{'B', 'E', 0}},
		{"bare command header", []byte{'B', 'E', 1, 0, 0, 0, 1}},
		{"bad magic", []byte{'X', 'E', 0, 0, 0, 0, 1, 0}},
		{"command without request id", []byte{'B', 'E', 1, 0, 0, 0, 1, 0}},
		{"missing terminator", noTerm},
		{"embedded nul", []byte{'B', 'E', 0, 0, 0, 0, 1, 'a', 0, 'b', 0}},
		{"unknown type", []byte{'B', 'E', 9, 0, 0, 0, 1, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSession(tc.data); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}
