package rcontest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/energizer-project/rconnect/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebRconServer is a Rust WebRcon endpoint on an httptest server.
type WebRconServer struct {
	Password string
	Handler  Handler

	srv *httptest.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebRconServer starts a server accepting password in the URL path.
func NewWebRconServer(password string, handler Handler) *WebRconServer {
	if handler == nil {
		handler = DefaultHandler
	}
	s := &WebRconServer{Password: password, Handler: handler, conns: make(map[*websocket.Conn]struct{})}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Addr returns host:port.
func (s *WebRconServer) Addr() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// HostPort returns the host and port separately.
func (s *WebRconServer) HostPort() (string, int) {
	host, port, _ := strings.Cut(s.Addr(), ":")
	p, _ := strconv.Atoi(port)
	return host, p
}

// Broadcast sends console output with Identifier 0 to every client.
func (s *WebRconServer) Broadcast(message string) {
	data, _ := json.Marshal(protocol.WebRconResponse{Identifier: 0, Message: message, Type: "Generic"})
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteMessage(websocket.TextMessage, data)
	}
}

// Close stops the server and all client connections.
func (s *WebRconServer) Close() {
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.srv.Close()
}

func (s *WebRconServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/") != s.Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.DecodeWebRconRequest(data)
		if err != nil {
			continue
		}
		out, _ := json.Marshal(protocol.WebRconResponse{
			Identifier: req.Identifier,
			Message:    s.Handler(req.Message),
			Type:       "Generic",
		})
		s.mu.Lock()
		conn.WriteMessage(websocket.TextMessage, out)
		s.mu.Unlock()
	}
}
