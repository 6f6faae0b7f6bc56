package network

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/energizer-project/rconnect/internal/protocol"
)

var (
	// ErrTransport marks socket-level failures. They are always fatal to the link.
	ErrTransport = errors.New("transport error")
	// ErrAuthenticationFailed is an explicit rejection from the server.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAuthenticationTimeout means the handshake did not finish in time.
	ErrAuthenticationTimeout = errors.New("authentication timed out")
)

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// handshakeError classifies a failure that happened while a handshake was
// bound to ctx. Deadline expiry becomes ErrAuthenticationTimeout; a
// malformed frame stays malformed; anything else is a transport error.
func handshakeError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrAuthenticationTimeout),
		errors.Is(err, protocol.ErrMalformedFrame):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrAuthenticationTimeout, op)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s: %w", op, context.Canceled)
	case errors.Is(err, ErrTransport):
		return err
	}
	return transportError(op, err)
}

// IsMalformed reports whether err is a recoverable decode failure.
func IsMalformed(err error) bool {
	return errors.Is(err, protocol.ErrMalformedFrame)
}
