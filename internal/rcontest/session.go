package rcontest

import (
	"net"
	"sync"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// SessionID is the session the SessionServer assigns on a good login.
const SessionID uint32 = 0x5C0FFEE5

// SessionServer is a session-keyed (SCUM) RCON server on a loopback UDP port.
type SessionServer struct {
	Password string
	Handler  Handler

	pc net.PacketConn
	wg sync.WaitGroup

	mu     sync.Mutex
	client net.Addr
}

// NewSessionServer starts a server accepting password.
func NewSessionServer(password string, handler Handler) *SessionServer {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: " + err.Error())
	}
	if handler == nil {
		handler = DefaultHandler
	}
	s := &SessionServer{Password: password, Handler: handler, pc: pc}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns host:port.
func (s *SessionServer) Addr() string { return s.pc.LocalAddr().String() }

// HostPort returns the host and port separately.
func (s *SessionServer) HostPort() (string, int) { return splitAddr(s.pc.LocalAddr()) }

// SendMessage pushes a server message to the logged-in client. A session
// other than SessionID simulates traffic for someone else.
func (s *SessionServer) SendMessage(session uint32, body string) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		s.pc.WriteTo(protocol.EncodeSession(protocol.SessionPacket{Type: protocol.SessionMessage, Session: session, Body: body}), client)
	}
}

// Close stops the server.
func (s *SessionServer) Close() {
	s.pc.Close()
	s.wg.Wait()
}

func (s *SessionServer) serve() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt, err := protocol.DecodeSession(buf[:n])
		if err != nil {
			continue
		}

		switch pkt.Type {
		case protocol.SessionLogin:
			session := uint32(0)
			if pkt.Body == s.Password {
				session = SessionID
				s.mu.Lock()
				s.client = addr
				s.mu.Unlock()
			}
			s.pc.WriteTo(protocol.EncodeSession(protocol.SessionPacket{Type: protocol.SessionLogin, Session: session}), addr)

		case protocol.SessionCommand:
			if pkt.Session != SessionID {
				continue
			}
			s.pc.WriteTo(protocol.EncodeSession(protocol.SessionPacket{
				Type:      protocol.SessionCommand,
				Session:   SessionID,
				RequestID: pkt.RequestID,
				Body:      s.Handler(pkt.Body),
			}), addr)
		}
	}
}
