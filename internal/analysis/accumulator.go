// SPDX-License-Identifier: MIT
package analysis

import (
	"headset/internal/block"
	"headset/internal/fault"
)

// Accumulator sums per-bin energy of successive spectra for each analysis
// path, an un-normalized averaged periodogram. After k accumulated windows,
// Energy(ch)[bin] = Σ |X_k[bin]|². Frame-count normalization is left out on
// purpose: the transfer function is a ratio of two paths that always hold the
// same number of windows, so it cancels.
type Accumulator struct {
	bins   int
	energy [block.NumChannels][]float64
	frames [block.NumChannels]int
}

// NewAccumulator sizes every path to fftSize/2 bins (Nyquist is dropped).
func NewAccumulator(fftSize int) *Accumulator {
	a := &Accumulator{bins: fftSize / 2}
	for ch := range a.energy {
		a.energy[ch] = make([]float64, a.bins)
	}
	return a
}

// Accumulate adds |X[bin]|² of spectrum into the running total of ch.
// spectrum must carry at least Bins() values; extra bins are ignored.
func (a *Accumulator) Accumulate(ch block.Channel, spectrum []complex128) error {
	if !ch.Valid() {
		return fault.Newf("analysis.accumulate", fault.ErrBadChannel, "channel %d", int(ch))
	}
	if spectrum == nil {
		return fault.New("analysis.accumulate", fault.ErrNilBuffer)
	}
	if len(spectrum) < a.bins {
		return fault.Newf("analysis.accumulate", fault.ErrBlockSize, "got %d bins, want %d", len(spectrum), a.bins)
	}

	acc := a.energy[ch]
	for i := range acc {
		re, im := real(spectrum[i]), imag(spectrum[i])
		acc[i] += re*re + im*im
	}
	a.frames[ch]++
	return nil
}

// Reset zeroes the energy and window count of ch.
func (a *Accumulator) Reset(ch block.Channel) {
	if !ch.Valid() {
		return
	}
	clear(a.energy[ch])
	a.frames[ch] = 0
}

// ResetAll zeroes every path.
func (a *Accumulator) ResetAll() {
	for ch := block.OEML; ch <= block.Reference; ch++ {
		a.Reset(ch)
	}
}

// Frames returns the number of windows accumulated into ch since its reset.
func (a *Accumulator) Frames(ch block.Channel) int {
	if !ch.Valid() {
		return 0
	}
	return a.frames[ch]
}

// Bins returns the number of accumulated bins per path.
func (a *Accumulator) Bins() int {
	return a.bins
}

// Energy returns a copy of the accumulated energy of ch.
func (a *Accumulator) Energy(ch block.Channel) []float64 {
	if !ch.Valid() {
		return nil
	}
	out := make([]float64, a.bins)
	copy(out, a.energy[ch])
	return out
}
