package protocol

// SplitFunc reports the byte size of the first complete frame at the start
// of buf. It returns 0 with a nil error when buf holds only a partial frame.
type SplitFunc func(buf []byte) (int, error)

// Reassembler turns arbitrarily chunked stream reads into whole frames.
// It holds at most one partial trailing frame between calls.
type Reassembler struct {
	buf   []byte
	split SplitFunc
}

// NewReassembler creates a Reassembler using split to find frame boundaries.
func NewReassembler(split SplitFunc) *Reassembler {
	return &Reassembler{split: split}
}

// Write appends a chunk read from the stream.
func (r *Reassembler) Write(chunk []byte) (int, error) {
	r.buf = append(r.buf, chunk...)
	return len(chunk), nil
}

// Next extracts the next complete frame. It returns (nil, nil) when only a
// partial frame is buffered. A boundary the splitter rejects cannot be
// resynchronised, so the buffer is discarded before the error is returned.
func (r *Reassembler) Next() ([]byte, error) {
	n, err := r.split(r.buf)
	if err != nil {
		r.buf = r.buf[:0]
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	frame := make([]byte, n)
	copy(frame, r.buf[:n])

	remaining := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
	return frame, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}
