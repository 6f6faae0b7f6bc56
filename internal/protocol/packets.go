// Package protocol implements the wire codecs for the supported RCON
// families: the length-prefixed Valve/Source codec, the checksummed
// BattlEye codec, the session-keyed SCUM codec, the line-oriented telnet
// matcher used by 7 Days to Die, and the WebRcon JSON codec used by Rust.
// Codecs are pure: they never touch a socket and keep no state beyond what
// the caller hands them.
package protocol

// Valve (Source RCON) packet types. Auth response and exec command share
// the value 2; direction disambiguates them.
const (
	ValveResponseValue int32 = 0
	ValveExecCommand   int32 = 2
	ValveAuthResponse  int32 = 2
	ValveAuth          int32 = 3
)

// Valve framing sizes.
const (
	ValveLengthSize = 4
	// id + type + two terminators, the smallest value the length field may hold.
	ValveMinLength = 10
	// length + id + type + two terminators.
	ValveMinFrameSize = ValveLengthSize + ValveMinLength
	// ValveMaxBodySize is the body limit Source servers enforce per packet.
	ValveMaxBodySize = 4096
)

// ValveAuthFailedID is the id an auth response carries when the password is wrong.
const ValveAuthFailedID int32 = -1

// BattlEye payload types (first byte after the 0xFF trailer).
const (
	BELogin   byte = 0x00
	BECommand byte = 0x01
	BEMessage byte = 0x02
)

// BattlEye framing.
const (
	BEHeaderSize = 7 // "BE" + crc32 + 0xFF
	BETrailer    = 0xFF
)

// Session-keyed (SCUM) packet types.
const (
	SessionLogin   byte = 0x00
	SessionCommand byte = 0x01
	SessionMessage byte = 0x02
)

// Session framing: "BE" + type + session id. Non-login frames add a request id.
const (
	SessionHeaderSize  = 7
	SessionRequestSize = 4
)

// MaxFrameSize bounds a single frame on any transport. Stream reassembly
// rejects length prefixes beyond it instead of buffering without limit.
const MaxFrameSize = 64 * 1024

// Magic is the two-byte marker opening BattlEye and session-keyed frames.
var Magic = [2]byte{'B', 'E'}
