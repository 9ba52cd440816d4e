// SPDX-License-Identifier: MIT
/*
Package block holds the fixed-size sample plumbing of the measurement engine:
- Block, one hardware period of signed 16-bit samples for one channel
- Assembler, which stitches blocks into FFT-sized analysis windows
- DelayLine, which replays the noise reference with the playback-to-mic latency

Nothing in this package allocates after construction. Every contract violation
(wrong block length, unknown channel, nil buffer) is reported as a fault.Error.
*/
package block

// Block is one period of samples for a single logical channel. Its length is
// always the configured block size.
type Block []int16

// Channel indexes the five analysis paths. The order is the fixed processing
// order of a cycle: the four microphones, then the delayed reference.
type Channel int

const (
	OEML      Channel = iota // Outer (feed-forward) microphone, left earpiece.
	IEML                     // Inner (in-ear) microphone, left earpiece.
	OEMR                     // Outer microphone, right earpiece.
	IEMR                     // Inner microphone, right earpiece.
	Reference                // Delay-compensated noise reference.
)

const (
	// NumMics is the number of captured microphone channels.
	NumMics = 4
	// NumChannels is the number of analysis paths (microphones + reference).
	NumChannels = NumMics + 1
)

// Mics lists the capture channels in drain order.
var Mics = [NumMics]Channel{OEML, IEML, OEMR, IEMR}

func (c Channel) String() string {
	switch c {
	case OEML:
		return "OEM_L"
	case IEML:
		return "IEM_L"
	case OEMR:
		return "OEM_R"
	case IEMR:
		return "IEM_R"
	case Reference:
		return "REF"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether c names one of the five analysis paths.
func (c Channel) Valid() bool {
	return c >= OEML && c <= Reference
}
