// SPDX-License-Identifier: MIT
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"headset/internal/block"
)

var (
	// ErrUnknownCurve is returned for a curve identifier outside the four
	// microphone-versus-reference pairs.
	ErrUnknownCurve = errors.New("unknown transfer function curve")
	// ErrNoMeasurement is returned when the accumulators do not hold a
	// completed, comparable epoch for the requested pair.
	ErrNoMeasurement = errors.New("no completed measurement for curve")
)

// EnergyEpsilon is the smallest reference energy a bin may hold and still be
// reported. Bins at or below it (typically DC on AC-coupled inputs, or silent
// paths) are marked invalid rather than divided by.
const EnergyEpsilon = 1e-12

// Curve selects one microphone-versus-reference transfer function.
type Curve int

const (
	CurveOEML Curve = iota // OEM_L / reference
	CurveOEMR              // OEM_R / reference
	CurveIEML              // IEM_L / reference
	CurveIEMR              // IEM_R / reference
)

// NumCurves is the number of recognized curve identifiers.
const NumCurves = 4

var curveChannels = [NumCurves]block.Channel{block.OEML, block.OEMR, block.IEML, block.IEMR}

// Channel returns the measured path of c.
func (c Curve) Channel() (block.Channel, bool) {
	if c < 0 || int(c) >= NumCurves {
		return 0, false
	}
	return curveChannels[c], true
}

func (c Curve) String() string {
	ch, ok := c.Channel()
	if !ok {
		return fmt.Sprintf("Curve(%d)", int(c))
	}
	return ch.String()
}

// ParseCurve accepts a numeric id or a channel name such as "iem_l".
func ParseCurve(s string) (Curve, error) {
	if id, err := strconv.Atoi(s); err == nil {
		c := Curve(id)
		if _, ok := c.Channel(); !ok {
			return 0, fmt.Errorf("%w: %d", ErrUnknownCurve, id)
		}
		return c, nil
	}
	name := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for i, ch := range curveChannels {
		if ch.String() == name {
			return Curve(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}

// TransferFunction is a per-bin magnitude ratio in dB of a microphone path
// against the reference path.
type TransferFunction struct {
	Curve  Curve
	Frames int       // Windows integrated into both paths.
	DB     []float64 // 10·log10(measured/reference); NaN where !Valid.
	Valid  []bool    // False where the reference bin held no usable energy.
}

// Evaluate computes the transfer function of curve from acc. Both paths must
// hold the same, non-zero number of windows.
func Evaluate(acc *Accumulator, curve Curve) (*TransferFunction, error) {
	tf := &TransferFunction{
		DB:    make([]float64, acc.Bins()),
		Valid: make([]bool, acc.Bins()),
	}
	if err := EvaluateInto(tf, acc, curve); err != nil {
		return nil, err
	}
	return tf, nil
}

// EvaluateInto is Evaluate writing into a caller-owned result whose slices
// are already sized to acc.Bins().
func EvaluateInto(tf *TransferFunction, acc *Accumulator, curve Curve) error {
	ch, ok := curve.Channel()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCurve, int(curve))
	}
	frames := acc.Frames(ch)
	if frames == 0 || frames != acc.Frames(block.Reference) {
		return fmt.Errorf("%w: %s has %d windows, reference has %d",
			ErrNoMeasurement, ch, frames, acc.Frames(block.Reference))
	}
	if len(tf.DB) != acc.Bins() || len(tf.Valid) != acc.Bins() {
		return fmt.Errorf("transfer function buffers hold %d bins, want %d", len(tf.DB), acc.Bins())
	}

	measured := acc.energy[ch]
	reference := acc.energy[block.Reference]
	for i := range tf.DB {
		ref := reference[i]
		if ref <= EnergyEpsilon {
			tf.DB[i] = math.NaN()
			tf.Valid[i] = false
			continue
		}
		tf.DB[i] = EnergyToDB(math.Max(measured[i], EnergyEpsilon) / ref)
		tf.Valid[i] = true
	}
	tf.Curve = curve
	tf.Frames = frames
	return nil
}

// MarshalJSON encodes invalid bins as null.
func (tf *TransferFunction) MarshalJSON() ([]byte, error) {
	points := make([]*float64, len(tf.DB))
	for i := range tf.DB {
		if tf.Valid[i] {
			points[i] = &tf.DB[i]
		}
	}
	return json.Marshal(struct {
		Curve  string     `json:"curve"`
		Frames int        `json:"frames"`
		DB     []*float64 `json:"db"`
	}{tf.Curve.String(), tf.Frames, points})
}

// AmplitudeToDB converts a linear amplitude ratio to decibels.
func AmplitudeToDB(amplitude float64) float64 {
	return 20 * math.Log10(amplitude)
}

// DBToAmplitude converts decibels to a linear amplitude ratio.
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

// EnergyToDB converts a linear energy (power) ratio to decibels.
func EnergyToDB(energy float64) float64 {
	return 10 * math.Log10(energy)
}

// DBToEnergy converts decibels to a linear energy ratio.
func DBToEnergy(db float64) float64 {
	return math.Pow(10, db/10)
}
