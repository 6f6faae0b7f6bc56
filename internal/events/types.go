// Package events defines the lifecycle events an RCON connection publishes
// and the bus that carries them to handlers and streams.
package events

import (
	"time"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle, emitted by every rcon.Client.
	EventConnect       EventType = "connect"
	EventAuthenticated EventType = "authenticated"
	EventResponse      EventType = "response"
	EventError         EventType = "error"
	EventEnd           EventType = "end"

	// Emitted by the session pool once a command round trip finishes.
	EventCommandExecuted EventType = "command_executed"

	// Emitted by the health monitor.
	EventHealthFailed    EventType = "health_failed"
	EventHealthRecovered EventType = "health_recovered"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Severity grades error events for routing and display.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityFatal
)

// severityStrings maps Severity values to their JSON representation.
var severityStrings = map[Severity]string{
	SeverityInfo:    "info",
	SeverityWarning: "warning",
	SeverityFatal:   "fatal",
}

// String returns the string representation of Severity.
func (s Severity) String() string {
	if str, ok := severityStrings[s]; ok {
		return str
	}
	return "info"
}

// MarshalJSON serializes Severity as a JSON string (e.g. "fatal").
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New builds an event stamped with the current time.
func New(eventType EventType, source string, payload interface{}) Event {
	return Event{Type: eventType, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectPayload accompanies EventConnect and EventAuthenticated.
type ConnectPayload struct {
	SessionID string `json:"session_id"`
	Game      string `json:"game"`
	Address   string `json:"address"`
}

// ResponsePayload carries unsolicited server output.
type ResponsePayload struct {
	Body string `json:"body"`
}

// ErrorPayload carries the cause of an EventError.
type ErrorPayload struct {
	Err      error    `json:"-"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// NewErrorPayload fills Message from err.
func NewErrorPayload(err error, severity Severity) ErrorPayload {
	return ErrorPayload{Err: err, Message: err.Error(), Severity: severity}
}

// EndPayload accompanies EventEnd. Cause is empty after a clean end().
type EndPayload struct {
	SessionID string `json:"session_id"`
	Cause     string `json:"cause,omitempty"`
}

// CommandPayload describes one finished command round trip.
type CommandPayload struct {
	SessionID string        `json:"session_id"`
	Server    string        `json:"server"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// HealthPayload accompanies health events.
type HealthPayload struct {
	Server   string `json:"server"`
	Failures int    `json:"failures"`
	Reason   string `json:"reason,omitempty"`
}
