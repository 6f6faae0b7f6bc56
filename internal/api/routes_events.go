package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/events"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
	eventBuffer     = 256
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are already filtered by the CORS and token middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventMessage is the wire form of an event on /api/events.
type eventMessage struct {
	Type    events.EventType `json:"type"`
	Source  string           `json:"source"`
	Time    time.Time        `json:"time"`
	Payload interface{}      `json:"payload,omitempty"`
}

// handleEvents upgrades to a websocket and streams bus events. The optional
// server and types query parameters (types comma-separated) narrow the feed.
func (s *Server) handleEvents(c *gin.Context) {
	var types []events.EventType
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}
	server := c.Query("server")

	conn, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("gateway: websocket upgrade failed")
		return
	}
	defer conn.Close()

	stream := s.eventBus.Stream(eventBuffer, types...)
	defer stream.Close()

	// The reader only services control frames and notices the peer leaving.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-stream.C():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if server != "" && !strings.EqualFold(ev.Source, server) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			msg := eventMessage{Type: ev.Type, Source: ev.Source, Time: ev.Time, Payload: ev.Payload}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
