package rcon

import (
	"errors"

	"github.com/energizer-project/rconnect/internal/network"
	"github.com/energizer-project/rconnect/internal/protocol"
)

var (
	// ErrNotReady is returned by Send outside the Ready state. No I/O happens.
	ErrNotReady = errors.New("connection is not ready")
	// ErrClosed fails requests still pending when the connection ends.
	ErrClosed = errors.New("connection closed")
	// ErrTooManyPending rejects a Send that could reuse a live request id.
	ErrTooManyPending = errors.New("too many outstanding requests")
	// ErrUnknownGame is returned by New for an unrecognised game id.
	ErrUnknownGame = errors.New("unknown game")
	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrVerificationFailed means the probe command answered unexpectedly.
	ErrVerificationFailed = errors.New("verification failed")
)

// Transport and codec failures surface unchanged from the lower layers.
var (
	ErrTransport             = network.ErrTransport
	ErrAuthenticationFailed  = network.ErrAuthenticationFailed
	ErrAuthenticationTimeout = network.ErrAuthenticationTimeout
	ErrMalformedFrame        = protocol.ErrMalformedFrame
	ErrChecksumMismatch      = protocol.ErrChecksumMismatch
)
