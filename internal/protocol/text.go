package protocol

import (
	"bytes"
	"regexp"
)

// Telnet console patterns (7 Days to Die).
var (
	PasswordPrompt   = regexp.MustCompile(`(?i)password:?`)
	PasswordRejected = regexp.MustCompile(`(?i)password incorrect`)
	SessionBanner    = regexp.MustCompile(`(?i)press 'exit' to end session`)
	LineEnd          = regexp.MustCompile(`\r?\n`)
)

// TextBuffer accumulates an interactive text stream and consumes it up to
// pattern matches. There is no framing: a "frame" is whatever text
// precedes and includes the first match.
type TextBuffer struct {
	buf []byte
}

// Write appends received bytes. It never fails.
func (t *TextBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	return len(p), nil
}

// Match consumes the buffer through the end of the first match of re and
// returns the text before the match. ok is false when re does not match
// yet; the buffer is left untouched in that case.
func (t *TextBuffer) Match(re *regexp.Regexp) (before string, ok bool) {
	loc := re.FindIndex(t.buf)
	if loc == nil {
		return "", false
	}
	before = string(t.buf[:loc[0]])
	t.buf = t.buf[loc[1]:]
	return before, true
}

// MatchAny tries each pattern against the buffer and consumes through the
// earliest match. It returns the index of the pattern that matched.
func (t *TextBuffer) MatchAny(patterns ...*regexp.Regexp) (int, string, bool) {
	best, start, end := -1, 0, 0
	for i, re := range patterns {
		loc := re.FindIndex(t.buf)
		if loc != nil && (best < 0 || loc[0] < start) {
			best, start, end = i, loc[0], loc[1]
		}
	}
	if best < 0 {
		return -1, "", false
	}
	before := string(t.buf[:start])
	t.buf = t.buf[end:]
	return best, before, true
}

// NextLine consumes one line and returns it without its terminator.
func (t *TextBuffer) NextLine() (string, bool) {
	i := bytes.IndexByte(t.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := t.buf[:i]
	t.buf = t.buf[i+1:]
	return string(bytes.TrimSuffix(line, []byte{'\r'})), true
}

// Len returns the number of unconsumed bytes.
func (t *TextBuffer) Len() int { return len(t.buf) }

// Reset drops everything buffered.
func (t *TextBuffer) Reset() { t.buf = t.buf[:0] }

// EncodeLine terminates a command with a single newline.
func EncodeLine(command string) []byte {
	if len(command) > 0 && command[len(command)-1] == '\n' {
		return []byte(command)
	}
	return append([]byte(command), '\n')
}
