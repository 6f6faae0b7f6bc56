package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when bytes violate a codec's framing
// contract. Short input handed to a stream splitter is not malformed; the
// splitter reports "need more" instead.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrChecksumMismatch is the BattlEye-specific form of ErrMalformedFrame.
var ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
