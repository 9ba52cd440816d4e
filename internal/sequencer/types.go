// SPDX-License-Identifier: MIT
package sequencer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"headset/internal/transport"
)

// ErrUnknownOutput is returned by PlayTone for an output outside 0..3.
var ErrUnknownOutput = transport.ErrUnknownOutput

// ErrUnknownTest is returned for a test name ParseTestType does not recognize.
var ErrUnknownTest = errors.New("unknown test type")

// TestType selects one of the production tests.
type TestType int

const (
	Loopback   TestType = iota // Test 0: full chain through the main speaker lines, no headset needed.
	Speaker                    // Test 1: earpiece loudspeakers against the inner microphones.
	Calibrator                 // Test 2A: calibration loudspeakers against all four microphones.
	SpeakerB                   // Test 2B: earpiece loudspeakers, second pass.
	Leak                       // Test 3: outer versus inner microphone, leak detection.
	Tone                       // Debug sine on a single output, no analysis.
)

func (t TestType) String() string {
	switch t {
	case Loopback:
		return "test0"
	case Speaker:
		return "test1"
	case Calibrator:
		return "test2a"
	case SpeakerB:
		return "test2b"
	case Leak:
		return "test3"
	case Tone:
		return "tone"
	default:
		return fmt.Sprintf("TestType(%d)", int(t))
	}
}

// ParseTestType accepts "0", "1", "2a", "2b", "3" with or without a "test"
// prefix, or a descriptive name such as "leak".
func ParseTestType(s string) (TestType, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "test") {
	case "0", "loopback":
		return Loopback, nil
	case "1", "speaker":
		return Speaker, nil
	case "2a", "calibrator":
		return Calibrator, nil
	case "2b", "speakerb":
		return SpeakerB, nil
	case "3", "leak":
		return Leak, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTest, s)
	}
}

// State is the position of the sequencer in the lifecycle of a run.
type State int

const (
	Idle State = iota
	Gating
	Priming
	Measuring
	Done
	Aborted // A gate precondition failed; accumulators were not touched.
	Halted  // A fault occurred; every later call fails.
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Gating:
		return "gating"
	case Priming:
		return "priming"
	case Measuring:
		return "measuring"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	case Halted:
		return "halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the per-position result code of a test.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoHeadset
	OutcomeNoIdentity // Headset present but its identity memory did not answer.
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoHeadset:
		return "no-headset"
	case OutcomeNoIdentity:
		return "no-identity"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// PositionOutcome is the outcome reported for one measured position.
type PositionOutcome struct {
	Position string  `json:"position"`
	Outcome  Outcome `json:"outcome"`
}

// Result describes a finished or aborted run.
type Result struct {
	Test     TestType          `json:"-"`
	Name     string            `json:"test"`
	Outcomes []PositionOutcome `json:"outcomes"`
	Windows  int               `json:"windows"` // Windows accumulated per path.
	Elapsed  time.Duration     `json:"elapsed_ns"`
}

// OK reports whether every position succeeded.
func (r *Result) OK() bool {
	for _, po := range r.Outcomes {
		if po.Outcome != OutcomeSuccess {
			return false
		}
	}
	return true
}

// Outcome returns the outcome of position, or false if the test does not
// report it.
func (r *Result) Outcome(position string) (Outcome, bool) {
	for _, po := range r.Outcomes {
		if po.Position == position {
			return po.Outcome, true
		}
	}
	return 0, false
}

func newResult(t TestType, positions []string) *Result {
	r := &Result{Test: t, Name: t.String(), Outcomes: make([]PositionOutcome, len(positions))}
	for i, p := range positions {
		r.Outcomes[i] = PositionOutcome{Position: p}
	}
	return r
}

func (r *Result) fill(o Outcome) {
	for i := range r.Outcomes {
		r.Outcomes[i].Outcome = o
	}
}
