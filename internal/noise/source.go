// SPDX-License-Identifier: MIT
//
// Package noise generates the reference signals played during a measurement:
// seeded pink noise for the transfer function tests and a sine tone for
// manual verification. Reference wraps either one with the history needed to
// hand out delay-compensated copies.
package noise

import (
	"math"
	"math/rand/v2"
)

// Source produces an endless stream of samples.
type Source interface {
	Fill(dst []int16)
}

// Restarter is implemented by sources that can rewind to their initial state.
type Restarter interface {
	Restart()
}

// pinkGain brings the Kellet filter output back to roughly unit peak.
const pinkGain = 0.11

// Pink is a pink (1/f) noise source: seeded white noise through Paul Kellet's
// refined seven-pole filter, about -3 dB per octave from 9 Hz to Nyquist.
type Pink struct {
	seed      uint64
	amplitude float64
	rng       *rand.Rand
	b         [7]float64
}

// NewPink returns a pink noise source with the given peak amplitude as a
// fraction of full scale. Equal seeds produce equal streams.
func NewPink(seed uint64, amplitude float64) *Pink {
	p := &Pink{seed: seed, amplitude: amplitude}
	p.Restart()
	return p
}

// Fill writes the next len(dst) samples.
func (p *Pink) Fill(dst []int16) {
	b := &p.b
	for i := range dst {
		white := p.rng.Float64()*2 - 1
		b[0] = 0.99886*b[0] + white*0.0555179
		b[1] = 0.99332*b[1] + white*0.0750759
		b[2] = 0.96900*b[2] + white*0.1538520
		b[3] = 0.86650*b[3] + white*0.3104856
		b[4] = 0.55000*b[4] + white*0.5329522
		b[5] = -0.7616*b[5] - white*0.0168980
		pink := b[0] + b[1] + b[2] + b[3] + b[4] + b[5] + b[6] + white*0.5362
		b[6] = white * 0.115926

		dst[i] = quantize(pink * pinkGain * p.amplitude)
	}
}

// Restart rewinds the generator and clears the filter state.
func (p *Pink) Restart() {
	p.rng = rand.New(rand.NewPCG(p.seed, p.seed^0x5deece66d))
	p.b = [7]float64{}
}

// Tone is a phase-continuous sine source.
type Tone struct {
	frequency float64
	amplitude float64
	step      float64
	phase     float64
}

// NewTone returns a sine at frequency Hz with the given peak amplitude as a
// fraction of full scale.
func NewTone(frequency, sampleRate, amplitude float64) *Tone {
	return &Tone{
		frequency: frequency,
		amplitude: amplitude,
		step:      2 * math.Pi * frequency / sampleRate,
	}
}

// Fill writes the next len(dst) samples.
func (t *Tone) Fill(dst []int16) {
	for i := range dst {
		dst[i] = quantize(math.Sin(t.phase) * t.amplitude)
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}

// Restart resets the phase to zero.
func (t *Tone) Restart() {
	t.phase = 0
}

// Frequency returns the tone frequency in Hz.
func (t *Tone) Frequency() float64 {
	return t.frequency
}

// quantize maps [-1, 1] to a saturated Q1.15 sample.
func quantize(v float64) int16 {
	s := math.Round(v * 32767)
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(s)
}
