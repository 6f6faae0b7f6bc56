package protocol

import (
	"errors"
	"testing"
)

func TestTextBufferHandshakeTranscript(t *testing.T) {
	var tb TextBuffer

	tb.Write([]byte("*** Connected with 7DTD server.\r\nPlease enter pass"))
	if _, ok := tb.Match(PasswordPrompt); ok {
		t.Fatal("prompt matched before it fully arrived")
	}

	tb.Write([]byte("word:"))
	if _, ok := tb.Match(PasswordPrompt); !ok {
		t.Fatal("password prompt not matched")
	}

	tb.Write([]byte("Logon successful.\r\n\r\nPress 'help' to get a list of all commands. Press 'exit' to end session.\r\n"))
	if _, ok := tb.Match(SessionBanner); !ok {
		t.Fatal("session banner not matched")
	}
	if tb.Len() != len(".\r\n") {
		t.Errorf("Len after banner = %d", tb.Len())
	}
}

func TestTextBufferMatchAnyPicksEarliest(t *testing.T) {
	var tb TextBuffer
	tb.Write([]byte("Password incorrect, please enter password:"))

	i, before, ok := tb.MatchAny(SessionBanner, PasswordRejected)
	if !ok || i != 1 || before != "" {
		t.Fatalf("MatchAny = %d, %q, %v", i, before, ok)
	}
	if _, ok := tb.Match(PasswordPrompt); !ok {
		t.Error("remaining prompt should still match")
	}
}

func TestTextBufferNextLine(t *testing.T) {
	var tb TextBuffer
	tb.Write([]byte("Version 1.2\r\nGame"))

	line, ok := tb.NextLine()
	if !ok || line != "Version 1.2" {
		t.Fatalf("NextLine = %q, %v", line, ok)
	}
	if _, ok := tb.NextLine(); ok {
		t.Fatal("partial line returned")
	}
	tb.Write([]byte(" mode: survival\n"))
	if line, _ := tb.NextLine(); line != "Game mode: survival" {
		t.Errorf("NextLine = %q", line)
	}
}

func TestEncodeLine(t *testing.T) {
	if got := string(EncodeLine("version")); got != "version\n" {
		t.Errorf("EncodeLine = %q", got)
	}
	if got := string(EncodeLine("version\n")); got != "version\n" {
		t.Errorf("EncodeLine should not double the newline, got %q", got)
	}
}

func TestWebRconCodec(t *testing.T) {
	data, err := EncodeWebRcon(12, "serverinfo")
	if err != nil {
		t.Fatalf("EncodeWebRcon failed: %v", err)
	}
	if want := `{"Identifier":12,"Message":"serverinfo","Name":"WebRcon"}`; string(data) != want {
		t.Errorf("EncodeWebRcon = %s, want %s", data, want)
	}

	req, err := DecodeWebRconRequest(data)
	if err != nil || req.Identifier != 12 || req.Name != WebRconName {
		t.Errorf("DecodeWebRconRequest = %+v, %v", req, err)
	}

	resp, err := DecodeWebRcon([]byte(`{"Identifier":12,"Message":"Hostname: test","Type":"Generic","Stacktrace":""}`))
	if err != nil {
		t.Fatalf("DecodeWebRcon failed: %v", err)
	}
	if resp.Identifier != 12 || resp.Message != "Hostname: test" || resp.Type != "Generic" {
		t.Errorf("DecodeWebRcon = %+v", resp)
	}

	if _, err := DecodeWebRcon([]byte("{not json")); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("DecodeWebRcon(garbage) error = %v, want ErrMalformedFrame", err)
	}
}
