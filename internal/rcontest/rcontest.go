// Package rcontest provides loopback RCON servers for tests, one per
// protocol family, in the spirit of net/http/httptest.
package rcontest

import (
	"net"
	"strconv"
	"strings"
)

// Handler produces the response body for a command.
type Handler func(command string) string

// DefaultHandler answers the verification probes every family uses and
// echoes anything else.
func DefaultHandler(command string) string {
	switch {
	case command == "":
		return ""
	case strings.HasPrefix(command, "echo "):
		return strings.TrimPrefix(command, "echo ")
	case command == "players":
		return "Players on server:\n[#] [IP Address]:[Port] [Ping] [GUID] [Name]\n(0 players in total)"
	case command == "list":
		return "There are 0 of a max of 20 players online: "
	case command == "version":
		return "Game version: V 1.0 (b333) Compatibility Version: V 1.0"
	case command == "serverinfo":
		return `{"Hostname": "test server", "MaxPlayers": 100, "Players": 0}`
	}
	return command
}

func splitAddr(addr net.Addr) (string, int) {
	host, port, _ := net.SplitHostPort(addr.String())
	p, _ := strconv.Atoi(port)
	return host, p
}
