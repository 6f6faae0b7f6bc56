package rcontest

import (
	"net"
	"sync"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// BattlEyeServer is a BattlEye RCon server on a loopback UDP port.
type BattlEyeServer struct {
	Password string
	Handler  Handler
	// PartSize splits responses longer than it into multi-part replies.
	PartSize int
	// Mute suppresses every reply, for timeout tests.
	Mute bool

	pc net.PacketConn
	wg sync.WaitGroup

	mu       sync.Mutex
	client   net.Addr
	acks     []byte
	commands []string
}

// NewBattlEyeServer starts a server accepting password.
func NewBattlEyeServer(password string, handler Handler) *BattlEyeServer {
	s := NewUnstartedBattlEyeServer(password, handler)
	s.Start()
	return s
}

// NewUnstartedBattlEyeServer binds but does not serve until Start.
func NewUnstartedBattlEyeServer(password string, handler Handler) *BattlEyeServer {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: " + err.Error())
	}
	if handler == nil {
		handler = DefaultHandler
	}
	return &BattlEyeServer{Password: password, Handler: handler, pc: pc}
}

// Start begins serving datagrams.
func (s *BattlEyeServer) Start() {
	s.wg.Add(1)
	go s.serve()
}

// Addr returns host:port.
func (s *BattlEyeServer) Addr() string { return s.pc.LocalAddr().String() }

// HostPort returns the host and port separately.
func (s *BattlEyeServer) HostPort() (string, int) { return splitAddr(s.pc.LocalAddr()) }

// SendMessage pushes a server message with seq to the logged-in client.
func (s *BattlEyeServer) SendMessage(seq byte, body string) {
	s.writeToClient(protocol.EncodeBattlEye(protocol.BEPacket{Type: protocol.BEMessage, Seq: seq, Body: []byte(body)}))
}

// WriteRaw sends arbitrary bytes to the logged-in client.
func (s *BattlEyeServer) WriteRaw(data []byte) {
	s.writeToClient(data)
}

// Acks returns the sequence numbers acknowledged so far.
func (s *BattlEyeServer) Acks() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.acks...)
}

// Commands returns the commands received so far, keep-alives included.
func (s *BattlEyeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops the server.
func (s *BattlEyeServer) Close() {
	s.pc.Close()
	s.wg.Wait()
}

func (s *BattlEyeServer) writeToClient(data []byte) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		s.pc.WriteTo(data, client)
	}
}

func (s *BattlEyeServer) serve() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt, err := protocol.DecodeBattlEye(buf[:n])
		if err != nil {
			continue
		}

		switch pkt.Type {
		case protocol.BELogin:
			ok := string(pkt.Body) == s.Password
			if ok {
				s.mu.Lock()
				s.client = addr
				s.mu.Unlock()
			}
			if s.Mute {
				continue
			}
			flag := byte(0x00)
			if ok {
				flag = 0x01
			}
			s.pc.WriteTo(protocol.EncodeBattlEye(protocol.BEPacket{Type: protocol.BELogin, Body: []byte{flag}}), addr)

		case protocol.BEMessage:
			s.mu.Lock()
			s.acks = append(s.acks, pkt.Seq)
			s.mu.Unlock()

		case protocol.BECommand:
			s.mu.Lock()
			s.commands = append(s.commands, string(pkt.Body))
			s.mu.Unlock()
			if s.Mute {
				continue
			}
			for _, reply := range s.replies(pkt.Seq, s.Handler(string(pkt.Body))) {
				s.pc.WriteTo(reply, addr)
			}
		}
	}
}

// replies builds the datagrams answering seq, split into parts when the
// body exceeds PartSize. Parts are sent last-first to exercise reordering.
func (s *BattlEyeServer) replies(seq byte, body string) [][]byte {
	if s.PartSize <= 0 || len(body) <= s.PartSize {
		return [][]byte{protocol.EncodeBattlEye(protocol.BECommandPacket(seq, body))}
	}

	var chunks []string
	for len(body) > 0 {
		n := min(s.PartSize, len(body))
		chunks = append(chunks, body[:n])
		body = body[n:]
	}

	out := make([][]byte, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		data := append([]byte{0x00, byte(len(chunks)), byte(i)}, chunks[i]...)
		out = append(out, protocol.EncodeBattlEye(protocol.BEPacket{Type: protocol.BECommand, Seq: seq, Body: data}))
	}
	return out
}
