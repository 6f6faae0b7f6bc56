package rcon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/energizer-project/rconnect/internal/network"
)

// Family is a wire protocol plus its transport.
type Family int

const (
	FamilyValve Family = iota
	FamilyBattlEye
	FamilySession
	FamilyTelnet
	FamilyWebRcon
)

var familyStrings = map[Family]string{
	FamilyValve:    "valve",
	FamilyBattlEye: "battleye",
	FamilySession:  "session",
	FamilyTelnet:   "telnet",
	FamilyWebRcon:  "webrcon",
}

// String returns the string representation of Family.
func (f Family) String() string {
	if str, ok := familyStrings[f]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Family as a JSON string (e.g. "battleye").
func (f Family) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// Dialer returns the function that opens this family's transport.
func (f Family) Dialer() network.DialFunc {
	switch f {
	case FamilyBattlEye:
		return network.DialBattlEye
	case FamilySession:
		return network.DialSession
	case FamilyTelnet:
		return network.DialTelnet
	case FamilyWebRcon:
		return network.DialWebRcon
	default:
		return network.DialValve
	}
}

// Verifier is the post-handshake probe that proves a session really works:
// send Command, expect Expect somewhere in the answer.
type Verifier struct {
	Command    string `json:"command"`
	Expect     string `json:"expect"`
	IgnoreCase bool   `json:"ignore_case"`
}

// Check applies the expected-substring predicate.
func (v Verifier) Check(response string) bool {
	if v.IgnoreCase {
		return strings.Contains(strings.ToLower(response), strings.ToLower(v.Expect))
	}
	return strings.Contains(response, v.Expect)
}

// Profile is what the selector resolves a game id to.
type Profile struct {
	Game     string   `json:"game"`
	Family   Family   `json:"family"`
	Verifier Verifier `json:"verifier"`
}

var (
	echoProbe    = Verifier{Command: "echo test", Expect: "test"}
	playersProbe = Verifier{Command: "players", Expect: "players", IgnoreCase: true}
	playerProbe  = Verifier{Command: "players", Expect: "player", IgnoreCase: true}
)

var games = map[string]Profile{
	"":          {Family: FamilyValve, Verifier: echoProbe},
	"valve":     {Family: FamilyValve, Verifier: echoProbe},
	"source":    {Family: FamilyValve, Verifier: echoProbe},
	"cs2":       {Family: FamilyValve, Verifier: echoProbe},
	"csgo":      {Family: FamilyValve, Verifier: echoProbe},
	"tf2":       {Family: FamilyValve, Verifier: echoProbe},
	"gmod":      {Family: FamilyValve, Verifier: echoProbe},
	"ark":       {Family: FamilyValve, Verifier: echoProbe},
	"palworld":  {Family: FamilyValve, Verifier: echoProbe},
	"valheim":   {Family: FamilyValve, Verifier: echoProbe},
	"minecraft": {Family: FamilyValve, Verifier: Verifier{Command: "list", Expect: "players", IgnoreCase: true}},

	"battleye":      {Family: FamilyBattlEye, Verifier: playersProbe},
	"arma3":         {Family: FamilyBattlEye, Verifier: playersProbe},
	"arma-reforger": {Family: FamilyBattlEye, Verifier: playersProbe},
	"dayz":          {Family: FamilyBattlEye, Verifier: playerProbe},

	"scum": {Family: FamilySession, Verifier: playerProbe},

	"7dtd":              {Family: FamilyTelnet, Verifier: Verifier{Command: "version", Expect: "Version"}},
	"seven-days-to-die": {Family: FamilyTelnet, Verifier: Verifier{Command: "version", Expect: "Version"}},

	"rust": {Family: FamilyWebRcon, Verifier: Verifier{Command: "serverinfo", Expect: "Hostname"}},
}

// Lookup resolves a game id (case-insensitive) to its protocol profile.
func Lookup(game string) (Profile, error) {
	key := strings.ToLower(strings.TrimSpace(game))
	p, ok := games[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownGame, game)
	}
	p.Game = key
	if key == "" {
		p.Game = "valve"
	}
	return p, nil
}

// Games lists every recognised game id.
func Games() []string {
	out := make([]string, 0, len(games))
	for g := range games {
		if g != "" {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}
