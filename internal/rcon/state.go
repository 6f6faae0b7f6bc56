package rcon

// State is a connection's lifecycle position.
//
//	Idle -> Connecting -> Authenticating -> Ready -> Closed
//
// Errored is absorbing and reachable from every state. Closed is reached by
// End or by the server closing the transport cleanly.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosed
	StateErrored
)

var stateStrings = map[State]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
	StateClosed:         "closed",
	StateErrored:        "errored",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string (e.g. "ready").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}
