package network

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/protocol"
)

// WebRconLink speaks Rust WebRcon: JSON messages over a websocket whose
// URL path carries the password. The open socket is the authentication.
type WebRconLink struct {
	ws           *websocket.Conn
	logger       zerolog.Logger
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebRcon opens the websocket. A 401 or 403 upgrade response is
// reported as ErrAuthenticationFailed.
func DialWebRcon(ctx context.Context, cfg DialConfig) (Link, error) {
	u := url.URL{Scheme: "ws", Host: cfg.Address, Path: "/" + cfg.Password}
	if cfg.Secure {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		TLSClientConfig:  cfg.tlsConfig(),
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthenticationFailed
		}
		return nil, transportError("dial "+cfg.Address, err)
	}

	return NewWebRconLink(ws, cfg.writeTimeout()), nil
}

// NewWebRconLink wraps an open websocket.
func NewWebRconLink(ws *websocket.Conn, writeTimeout time.Duration) *WebRconLink {
	return &WebRconLink{
		ws:           ws,
		writeTimeout: writeTimeout,
		logger: log.With().
			Str("component", "rcon_link").
			Str("protocol", "webrcon").
			Str("remote", ws.RemoteAddr().String()).
			Logger(),
	}
}

// Caps implements Link.
func (l *WebRconLink) Caps() Caps {
	return Caps{FirstID: 1, MaxID: math.MaxInt32}
}

// Handshake is a no-op: the upgrade already succeeded.
func (l *WebRconLink) Handshake(context.Context, uint32, string) error {
	return nil
}

// WriteCommand sends {Identifier, Message, Name}.
func (l *WebRconLink) WriteCommand(id uint32, command string) error {
	data, err := protocol.EncodeWebRcon(int(id), command)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.ws.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return transportError("write", err)
	}
	return nil
}

// ReadInbound returns the next message. Identifiers of 0 or below are
// console broadcasts.
func (l *WebRconLink) ReadInbound() (Inbound, error) {
	for {
		kind, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			return Inbound{}, transportError("read", err)
		}
		if kind != websocket.TextMessage {
			l.logger.Trace().Int("kind", kind).Msg("discarding non-text message")
			continue
		}

		resp, err := protocol.DecodeWebRcon(data)
		if err != nil {
			return Inbound{Err: err}, nil
		}
		if resp.Identifier <= 0 {
			return Inbound{Kind: InboundPush, Body: resp.Message}, nil
		}
		return Inbound{Kind: InboundReply, ID: uint32(resp.Identifier), Body: resp.Message}, nil
	}
}

// Close sends a close frame and closes the socket. It is safe to call more than once.
func (l *WebRconLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		l.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			l.logger.Debug().Err(werr).Msg("close frame not sent")
		}
		err = l.ws.Close()
	})
	return err
}
