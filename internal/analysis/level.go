// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sync"

	"headset/internal/block"
)

// Levels holds one instantaneous RMS level per microphone in dBFS.
type Levels [block.NumMics]float64

// LevelMeter tracks the RMS of every microphone since its last read,
// independently of the windowed pipeline. Observe runs on the capture
// callback; Read and ReadAll run on the control goroutine.
type LevelMeter struct {
	mu         sync.Mutex
	sumSquares [block.NumMics]float64
	count      [block.NumMics]int
}

// NewLevelMeter returns an empty meter.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

// Observe folds a block of samples of microphone ch into its running RMS.
func (m *LevelMeter) Observe(ch block.Channel, samples []int16) {
	if ch < block.OEML || ch > block.IEMR || len(samples) == 0 {
		return
	}
	sum := sumSquares(samples)

	m.mu.Lock()
	m.sumSquares[ch] += sum
	m.count[ch] += len(samples)
	m.mu.Unlock()
}

// Read returns the RMS of ch since the previous read and restarts it. ok is
// false when no samples arrived since the previous read.
func (m *LevelMeter) Read(ch block.Channel) (rms float64, ok bool) {
	if ch < block.OEML || ch > block.IEMR {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(ch)
}

// ReadAll returns the levels of all four microphones in dBFS, or false
// without consuming anything when any microphone has no fresh value.
func (m *LevelMeter) ReadAll() (Levels, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var levels Levels
	for _, ch := range block.Mics {
		if m.count[ch] == 0 {
			return levels, false
		}
	}
	for _, ch := range block.Mics {
		rms, _ := m.readLocked(ch)
		levels[ch] = AmplitudeToDB(rms)
	}
	return levels, true
}

func (m *LevelMeter) readLocked(ch block.Channel) (float64, bool) {
	if m.count[ch] == 0 {
		return 0, false
	}
	rms := math.Sqrt(m.sumSquares[ch] / float64(m.count[ch]))
	m.sumSquares[ch] = 0
	m.count[ch] = 0
	return rms, true
}

// sumSquares returns Σ x² of the samples normalized to [-1, 1).
func sumSquares(samples []int16) float64 {
	var sum float64
	for _, sample := range samples {
		v := float64(sample) * sampleScale
		sum += v * v
	}
	return sum
}
