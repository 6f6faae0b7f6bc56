package protocol

import (
	"encoding/json"
	"fmt"
)

// WebRconName is the Name tag Rust expects on every request.
const WebRconName = "WebRcon"

// WebRconRequest is the JSON object sent for each command.
type WebRconRequest struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Name       string `json:"Name"`
}

// WebRconResponse is the JSON object the server sends back. Identifier
// echoes the request; 0 and -1 mark console output nobody asked for.
type WebRconResponse struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Type       string `json:"Type,omitempty"`
	Stacktrace string `json:"Stacktrace,omitempty"`
}

// EncodeWebRcon serializes a command request.
func EncodeWebRcon(id int, command string) ([]byte, error) {
	data, err := json.Marshal(WebRconRequest{Identifier: id, Message: command, Name: WebRconName})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webrcon request: %w", err)
	}
	return data, nil
}

// DecodeWebRcon parses one message-socket frame.
func DecodeWebRcon(data []byte) (WebRconResponse, error) {
	var resp WebRconResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return WebRconResponse{}, malformed("webrcon frame: %v", err)
	}
	return resp, nil
}

// DecodeWebRconRequest parses a request frame. Fake servers in tests use it.
func DecodeWebRconRequest(data []byte) (WebRconRequest, error) {
	var req WebRconRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return WebRconRequest{}, malformed("webrcon request: %v", err)
	}
	return req, nil
}
