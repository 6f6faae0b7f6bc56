package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/energizer-project/rconnect/internal/protocol"
	"github.com/energizer-project/rconnect/internal/rcontest"
)

func dialAndLogin(t *testing.T, dial DialFunc, addr, password string) Link {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	link, err := dial(ctx, DialConfig{Address: addr, Password: password})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { link.Close() })

	if err := link.Handshake(ctx, link.Caps().FirstID, password); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	return link
}

func readInbound(t *testing.T, link Link) Inbound {
	t.Helper()
	type result struct {
		in  Inbound
		err error
	}
	ch := make(chan result, 1)
	go func() {
		in, err := link.ReadInbound()
		ch <- result{in, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("ReadInbound failed: %v", r.err)
		}
		return r.in
	case <-time.After(2 * time.Second):
		t.Fatal("ReadInbound timed out")
	}
	return Inbound{}
}

func TestValveLinkHandshakeAndCommand(t *testing.T) {
	srv := rcontest.NewUnstartedValveServer("pw", nil)
	srv.EmptyBeforeAuth = true
	srv.Start()
	defer srv.Close()

	link := dialAndLogin(t, DialValve, srv.Addr(), "pw")

	if err := link.WriteCommand(2, "echo hello"); err != nil {
		t.Fatalf("WriteCommand failed: %v", err)
	}
	in := readInbound(t, link)
	if in.Kind != InboundReply || in.ID != 2 || in.Body != "hello" {
		t.Errorf("inbound = %+v", in)
	}
}

func TestValveLinkBadPassword(t *testing.T) {
	srv := rcontest.NewValveServer("pw", nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	link, err := DialValve(ctx, DialConfig{Address: srv.Addr()})
	if err != nil {
		t.Fatalf("DialValve failed: %v", err)
	}
	defer link.Close()

	if err := link.Handshake(ctx, 1, "wrong"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Handshake error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestValveLinkHandshakeTimeout(t *testing.T) {
	srv := rcontest.NewUnstartedValveServer("pw", nil)
	srv.Mute = true
	srv.Start()
	defer srv.Close()

	link, err := DialValve(context.Background(), DialConfig{Address: srv.Addr()})
	if err != nil {
		t.Fatalf("DialValve failed: %v", err)
	}
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := link.Handshake(ctx, 1, "pw"); !errors.Is(err, ErrAuthenticationTimeout) {
		t.Fatalf("Handshake error = %v, want ErrAuthenticationTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handshake took %v after a 100ms deadline", elapsed)
	}
}

func TestValveLinkMalformedFrameIsRecoverable(t *testing.T) {
	srv := rcontest.NewValveServer("pw", nil)
	defer srv.Close()

	link := dialAndLogin(t, DialValve, srv.Addr(), "pw")

	bad := protocol.EncodeValve(protocol.ValvePacket{ID: 5, Body: "x"})
	bad[len(bad)-1] = 'z'
	srv.WriteRaw(bad)

	if in := readInbound(t, link); !errors.Is(in.Err, protocol.ErrMalformedFrame) {
		t.Fatalf("inbound = %+v, want malformed error", in)
	}

	link.WriteCommand(2, "echo still alive")
	if in := readInbound(t, link); in.Body != "still alive" {
		t.Errorf("inbound after malformed frame = %+v", in)
	}
}

func TestValveLinkDialRefused(t *testing.T) {
	srv := rcontest.NewValveServer("pw", nil)
	addr := srv.Addr()
	srv.Close()

	_, err := DialValve(context.Background(), DialConfig{Address: addr})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("DialValve error = %v, want ErrTransport", err)
	}
}

func TestBattlEyeLinkLogin(t *testing.T) {
	srv := rcontest.NewBattlEyeServer("secret", nil)
	defer srv.Close()

	dialAndLogin(t, DialBattlEye, srv.Addr(), "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	link, err := DialBattlEye(ctx, DialConfig{Address: srv.Addr()})
	if err != nil {
		t.Fatalf("DialBattlEye failed: %v", err)
	}
	defer link.Close()
	if err := link.Handshake(ctx, 0, "nope"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Handshake error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestBattlEyeLinkAcksServerMessagesOnce(t *testing.T) {
	srv := rcontest.NewBattlEyeServer("secret", nil)
	defer srv.Close()

	link := dialAndLogin(t, DialBattlEye, srv.Addr(), "secret")

	srv.SendMessage(0, "Player #1 connected")
	srv.SendMessage(0, "Player #1 connected")
	srv.SendMessage(1, "Player #1 disconnected")

	if in := readInbound(t, link); in.Kind != InboundPush || in.Body != "Player #1 connected" {
		t.Fatalf("first inbound = %+v", in)
	}
	if in := readInbound(t, link); in.Body != "Player #1 disconnected" {
		t.Fatalf("retransmit was surfaced again: %+v", in)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Acks()) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if acks := srv.Acks(); len(acks) != 3 || acks[0] != 0 || acks[1] != 0 || acks[2] != 1 {
		t.Errorf("acks = %v, want [0 0 1]", acks)
	}
}

func TestBattlEyeLinkMultipartResponse(t *testing.T) {
	srv := rcontest.NewUnstartedBattlEyeServer("secret", nil)
	srv.PartSize = 4
	srv.Start()
	defer srv.Close()

	link := dialAndLogin(t, DialBattlEye, srv.Addr(), "secret")

	link.WriteCommand(7, "say -1 a long broadcast")
	in := readInbound(t, link)
	if in.Kind != InboundReply || in.ID != 7 || in.Body != "say -1 a long broadcast" {
		t.Errorf("inbound = %+v", in)
	}
}

func TestBattlEyeLinkChecksumMismatch(t *testing.T) {
	srv := rcontest.NewBattlEyeServer("secret", nil)
	defer srv.Close()

	link := dialAndLogin(t, DialBattlEye, srv.Addr(), "secret")

	frame := protocol.EncodeBattlEye(protocol.BECommandPacket(1, "spoofed"))
	frame[len(frame)-1] ^= 0xFF
	srv.WriteRaw(frame)

	if in := readInbound(t, link); !errors.Is(in.Err, protocol.ErrChecksumMismatch) {
		t.Fatalf("inbound = %+v, want checksum mismatch", in)
	}
}

func TestSessionLinkEchoesAssignedSession(t *testing.T) {
	srv := rcontest.NewSessionServer("secret", nil)
	defer srv.Close()

	link := dialAndLogin(t, DialSession, srv.Addr(), "secret")
	if got := link.(*SessionLink).Session(); got != rcontest.SessionID {
		t.Fatalf("Session() = %#x, want %#x", got, rcontest.SessionID)
	}

	link.WriteCommand(1, "players")
	if in := readInbound(t, link); in.Kind != InboundReply || in.ID != 1 {
		t.Fatalf("inbound = %+v", in)
	}

	srv.SendMessage(rcontest.SessionID+1, "not for us")
	srv.SendMessage(rcontest.SessionID, "for us")
	if in := readInbound(t, link); in.Kind != InboundPush || in.Body != "for us" {
		t.Errorf("inbound = %+v", in)
	}
}

func TestSessionLinkRejected(t *testing.T) {
	srv := rcontest.NewSessionServer("secret", nil)
	defer srv.Close()

	link, err := DialSession(context.Background(), DialConfig{Address: srv.Addr()})
	if err != nil {
		t.Fatalf("DialSession failed: %v", err)
	}
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := link.Handshake(ctx, 1, "bad"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Handshake error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestTelnetLinkTranscript(t *testing.T) {
	srv := rcontest.NewTelnetServer("pw", func(cmd string) string {
		switch cmd {
		case "version":
			return "Version 1.2"
		case "padded":
			return "\r\nVersion 1.2"
		}
		return "*** ERROR: unknown command '" + cmd + "'"
	})
	defer srv.Close()

	link := dialAndLogin(t, DialTelnet, srv.Addr(), "pw")

	link.WriteCommand(1, "version")
	if in := readInbound(t, link); in.Kind != InboundReply || in.ID != 1 || in.Body != "Version 1.2" {
		t.Fatalf("inbound = %+v", in)
	}

	link.WriteCommand(2, "padded")
	if in := readInbound(t, link); in.Kind != InboundReply || in.ID != 2 || in.Body != "Version 1.2" {
		t.Fatalf("inbound after blank line = %+v", in)
	}

	srv.Log("2024-01-01T00:00:00 INF Time: 10.00m FPS: 60")
	if in := readInbound(t, link); in.Kind != InboundPush {
		t.Errorf("log line inbound = %+v, want push", in)
	}
}

func TestTelnetLinkFailures(t *testing.T) {
	srv := rcontest.NewUnstartedTelnetServer("pw", nil)
	srv.SkipBanner = true
	srv.Start()
	defer srv.Close()

	tests := []struct {
		name     string
		password string
		want     error
	}{
		{"wrong password", "nope", ErrAuthenticationFailed},
		{"no banner", "pw", ErrAuthenticationTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			link, err := DialTelnet(context.Background(), DialConfig{Address: srv.Addr()})
			if err != nil {
				t.Fatalf("DialTelnet failed: %v", err)
			}
			defer link.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			if err := link.Handshake(ctx, 1, tc.password); !errors.Is(err, tc.want) {
				t.Fatalf("Handshake error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestWebRconLink(t *testing.T) {
	srv := rcontest.NewWebRconServer("hunter2", nil)
	defer srv.Close()

	link := dialAndLogin(t, DialWebRcon, srv.Addr(), "hunter2")

	link.WriteCommand(3, "serverinfo")
	if in := readInbound(t, link); in.Kind != InboundReply || in.ID != 3 {
		t.Fatalf("inbound = %+v", in)
	}

	srv.Broadcast("[CHAT] someone: hi")
	if in := readInbound(t, link); in.Kind != InboundPush || in.Body != "[CHAT] someone: hi" {
		t.Errorf("broadcast inbound = %+v", in)
	}
}

func TestWebRconLinkUnauthorized(t *testing.T) {
	srv := rcontest.NewWebRconServer("hunter2", nil)
	defer srv.Close()

	_, err := DialWebRcon(context.Background(), DialConfig{Address: srv.Addr(), Password: "wrong"})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("DialWebRcon error = %v, want ErrAuthenticationFailed", err)
	}
}
