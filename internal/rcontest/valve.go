package rcontest

import (
	"net"
	"sync"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// ValveServer is a Source RCON server on a loopback TCP port.
type ValveServer struct {
	Password string
	Handler  Handler
	// EmptyBeforeAuth mimics Minecraft, which sends an empty RESPONSE_VALUE
	// ahead of the auth response.
	EmptyBeforeAuth bool
	// Mute suppresses every reply, for timeout tests.
	Mute bool

	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewValveServer starts a server accepting password.
func NewValveServer(password string, handler Handler) *ValveServer {
	s := NewUnstartedValveServer(password, handler)
	s.Start()
	return s
}

// NewUnstartedValveServer listens but does not serve until Start, so
// fields can be adjusted first.
func NewUnstartedValveServer(password string, handler Handler) *ValveServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: " + err.Error())
	}
	if handler == nil {
		handler = DefaultHandler
	}
	return &ValveServer{Password: password, Handler: handler, ln: ln, conns: make(map[net.Conn]struct{})}
}

// Start begins accepting clients.
func (s *ValveServer) Start() {
	s.wg.Add(1)
	go s.serve()
}

// Addr returns host:port.
func (s *ValveServer) Addr() string { return s.ln.Addr().String() }

// HostPort returns the host and port separately.
func (s *ValveServer) HostPort() (string, int) { return splitAddr(s.ln.Addr()) }

// Broadcast writes an unsolicited RESPONSE_VALUE with id 0 to every client.
func (s *ValveServer) Broadcast(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		protocol.WriteValve(c, protocol.ValvePacket{ID: 0, Type: protocol.ValveResponseValue, Body: body})
	}
}

// WriteRaw writes arbitrary bytes to every client.
func (s *ValveServer) WriteRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Write(data)
	}
}

// DropClients closes every client connection.
func (s *ValveServer) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and all client connections.
func (s *ValveServer) Close() {
	s.ln.Close()
	s.DropClients()
	s.wg.Wait()
}

func (s *ValveServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *ValveServer) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	for {
		pkt, err := protocol.ReadValve(c)
		if err != nil {
			return
		}
		if s.Mute {
			continue
		}

		var replies []protocol.ValvePacket
		switch pkt.Type {
		case protocol.ValveAuth:
			if s.EmptyBeforeAuth {
				replies = append(replies, protocol.ValvePacket{ID: pkt.ID, Type: protocol.ValveResponseValue})
			}
			id := pkt.ID
			if pkt.Body != s.Password {
				id = protocol.ValveAuthFailedID
			}
			replies = append(replies, protocol.ValvePacket{ID: id, Type: protocol.ValveAuthResponse})
		case protocol.ValveExecCommand:
			replies = append(replies, protocol.ValvePacket{ID: pkt.ID, Type: protocol.ValveResponseValue, Body: s.Handler(pkt.Body)})
		}

		s.mu.Lock()
		for _, r := range replies {
			protocol.WriteValve(c, r)
		}
		s.mu.Unlock()
	}
}
