package rcontest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
)

// TelnetServer is a 7 Days to Die style telnet console on a loopback port.
type TelnetServer struct {
	Password string
	Handler  Handler
	// SkipBanner never sends the post-login banner, for timeout tests.
	SkipBanner bool

	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewTelnetServer starts a server accepting password.
func NewTelnetServer(password string, handler Handler) *TelnetServer {
	s := NewUnstartedTelnetServer(password, handler)
	s.Start()
	return s
}

// NewUnstartedTelnetServer listens but does not serve until Start.
func NewUnstartedTelnetServer(password string, handler Handler) *TelnetServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: " + err.Error())
	}
	if handler == nil {
		handler = DefaultHandler
	}
	return &TelnetServer{Password: password, Handler: handler, ln: ln, conns: make(map[net.Conn]struct{})}
}

// Start begins accepting clients.
func (s *TelnetServer) Start() {
	s.wg.Add(1)
	go s.serve()
}

// Addr returns host:port.
func (s *TelnetServer) Addr() string { return s.ln.Addr().String() }

// HostPort returns the host and port separately.
func (s *TelnetServer) HostPort() (string, int) { return splitAddr(s.ln.Addr()) }

// Log writes a console log line to every client, as the game does.
func (s *TelnetServer) Log(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		fmt.Fprintf(c, "%s\r\n", line)
	}
}

// Close stops the listener and all client connections.
func (s *TelnetServer) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TelnetServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *TelnetServer) handle(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	r := bufio.NewReader(c)
	fmt.Fprint(c, "*** Connected with 7DTD server.\r\n*** Server version: V 1.0 (b333)\r\n\r\nPlease enter password:\r\n")

	pw, err := r.ReadString('\n')
	if err != nil {
		return
	}
	if strings.TrimSpace(pw) != s.Password {
		fmt.Fprint(c, "Password incorrect, please enter password:\r\n")
		return
	}
	if s.SkipBanner {
		r.ReadString('\n')
		return
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	fmt.Fprint(c, "Logon successful.\r\n\r\n\r\n\r\nPress 'help' to get a list of all commands. Press 'exit' to end session.\r\n\r\n")
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "exit" {
			return
		}
		s.mu.Lock()
		fmt.Fprintf(c, "%s\r\n", s.Handler(cmd))
		s.mu.Unlock()
	}
}
