// SPDX-License-Identifier: MIT
//
// Package transport defines the collaborators the measurement core talks to:
// the capture and playback queues of the audio interface, the reference
// generator, presence detection and status reporting. The core only ever sees
// these interfaces; concrete implementations live in internal/audio,
// internal/noise and the subpackages here.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"headset/internal/analysis"
	"headset/internal/block"
)

// Output is one of the four playback destinations.
type Output int

const (
	SpeakerLeft     Output = iota // SPK_L, earpiece loudspeaker
	SpeakerRight                  // SPK_R
	CalibratorLeft                // CAL_L, calibration loudspeaker
	CalibratorRight               // CAL_R
)

// NumOutputs is the number of playback destinations.
const NumOutputs = 4

func (o Output) String() string {
	switch o {
	case SpeakerLeft:
		return "SPK_L"
	case SpeakerRight:
		return "SPK_R"
	case CalibratorLeft:
		return "CAL_L"
	case CalibratorRight:
		return "CAL_R"
	default:
		return fmt.Sprintf("Output(%d)", int(o))
	}
}

// Valid reports whether o names one of the four destinations.
func (o Output) Valid() bool {
	return o >= SpeakerLeft && o <= CalibratorRight
}

// ErrUnknownOutput is returned for an output name or index outside the four
// destinations.
var ErrUnknownOutput = errors.New("unknown playback output")

// ParseOutput accepts an index 0..3 or a name such as "spk_l" or "cal-r".
func ParseOutput(s string) (Output, error) {
	if id, err := strconv.Atoi(s); err == nil {
		if o := Output(id); o.Valid() {
			return o, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrUnknownOutput, id)
	}
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for o := SpeakerLeft; o <= CalibratorRight; o++ {
		if o.String() == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOutput, s)
}

// Status is the station state shown to the operator.
type Status int

const (
	StatusIdle  Status = iota // blue LED
	StatusBusy                // white LED, a run is in progress
	StatusFault               // the engine halted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusFault:
		return "fault"
	default:
		return "unknown"
	}
}

// CaptureSource exposes the bounded per-microphone capture queues. It is
// polled and never blocks.
type CaptureSource interface {
	// Pending returns the number of complete blocks queued for ch.
	Pending(ch block.Channel) int
	// TakeBlock copies the oldest queued block of ch into dst and frees it.
	// It returns false when nothing is queued.
	TakeBlock(ch block.Channel, dst block.Block) bool
}

// QueueControl is implemented by capture sources whose queues only fill
// between Begin and End. Begin discards anything queued before it.
type QueueControl interface {
	Begin()
	End()
}

// PlaybackSink accepts exactly one block per output per cycle.
type PlaybackSink interface {
	SubmitBlock(out Output, b block.Block) error
}

// GainControl is implemented by sinks with an adjustable codec volume.
type GainControl interface {
	SetVolume(v float64)
}

// NoiseGenerator produces the reference signal and keeps its own history.
type NoiseGenerator interface {
	// NextBlock fills dst with the next live block and records it.
	NextBlock(dst block.Block) error
	// DelayedBlock fills dst with the block generated lag samples before
	// the most recent live block.
	DelayedBlock(dst block.Block, lag int) error
	// Reset clears the history; delayed blocks are silence until refilled.
	Reset()
}

// PresenceProvider reports headset presence. Getters have no side effects.
type PresenceProvider interface {
	HeadsetConnected() bool
	IdentityReadable() bool
}

// StatusSink receives fire-and-forget status notifications.
type StatusSink interface {
	Notify(s Status)
}

// LevelSource reports the instantaneous level of all four microphones, or
// false when any of them has no fresh value.
type LevelSource interface {
	ReadAll() (analysis.Levels, bool)
}

// Statuses fans a notification out to several sinks in order.
type Statuses []StatusSink

// Notify forwards s to every sink.
func (ss Statuses) Notify(s Status) {
	for _, sink := range ss {
		if sink != nil {
			sink.Notify(s)
		}
	}
}

var _ StatusSink = Statuses(nil)
