// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/cmplx"
	"testing"

	"headset/internal/fault"
	"headset/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFFTSize    = 1024
	testSampleRate = 44100
)

func newTestTransform(t *testing.T) *SpectralTransform {
	t.Helper()
	s, err := NewSpectralTransform(testFFTSize, testSampleRate, Hamming)
	require.NoError(t, err)
	return s
}

func TestTransformHotPath(t *testing.T) {
	s := newTestTransform(t)
	input := utils.GenerateNoise(testFFTSize, 8000, 1)

	// Warm-up call outside of the measured runs.
	_, _ = s.Transform(input)
	allocs := testing.AllocsPerRun(100, func() {
		_, _ = s.Transform(input)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in Transform hot path, got %.1f", allocs)
	}
}

func TestHammingWindowIsSymmetric(t *testing.T) {
	s := newTestTransform(t)
	w := s.workspace.window

	for i := 0; i < testFFTSize/2; i++ {
		assert.InDelta(t, w[i], w[testFFTSize-1-i], 1e-12, "coefficient %d", i)
	}
	assert.InDelta(t, 0.08, w[0], 1e-12)
	// The cosine terms of a symmetric window sum to 1, so Σw = 0.54N - 0.46.
	assert.InDelta(t, 0.54*testFFTSize-0.46, s.WindowDCGain(), 1e-6)
}

func TestConstantInputDCEnergy(t *testing.T) {
	s := newTestTransform(t)

	for _, amplitude := range []int16{1000, 16384, -20000} {
		input := make([]int16, testFFTSize)
		for i := range input {
			input[i] = amplitude
		}

		spectrum, err := s.Transform(input)
		require.NoError(t, err)
		require.Len(t, spectrum, testFFTSize/2+1)

		dc := float64(amplitude) * sampleScale * s.WindowDCGain()
		want := dc * dc
		got := real(spectrum[0])*real(spectrum[0]) + imag(spectrum[0])*imag(spectrum[0])
		assert.InEpsilon(t, want, got, 1e-9, "amplitude %d", amplitude)
	}
}

func TestSinePeaksAtItsBin(t *testing.T) {
	s := newTestTransform(t)

	for _, bin := range []int{10, 93, 300} {
		freq := float64(bin) * testSampleRate / testFFTSize
		input := utils.GenerateSineWave(testFFTSize, testSampleRate, freq, 0.5)

		spectrum, err := s.Transform(input)
		require.NoError(t, err)

		magnitudes := make([]float64, len(spectrum))
		for i, c := range spectrum {
			magnitudes[i] = cmplx.Abs(c)
		}
		assert.Equal(t, bin, utils.FindPeakBin(magnitudes, 0, len(magnitudes)-1))
		assert.InDelta(t, freq, s.BinFrequency(bin), 1e-9)
	}
}

func TestTransformRejectsBadWindow(t *testing.T) {
	s := newTestTransform(t)

	_, err := s.Transform(nil)
	assert.ErrorIs(t, err, fault.ErrNilBuffer)

	_, err = s.Transform(make([]int16, testFFTSize/2))
	assert.ErrorIs(t, err, fault.ErrBlockSize)
}

func TestNewSpectralTransformValidation(t *testing.T) {
	_, err := NewSpectralTransform(1000, testSampleRate, Hamming)
	assert.ErrorIs(t, err, fault.ErrBadConfig)

	_, err = NewSpectralTransform(testFFTSize, 0, Hamming)
	assert.ErrorIs(t, err, fault.ErrBadConfig)
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"Hamming", Hamming, false},
		{"", Hamming, false},
		{"hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"none", Rectangular, false},
		{"kaiser", Hamming, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestBinFrequencyBounds(t *testing.T) {
	s := newTestTransform(t)

	assert.Equal(t, 0.0, s.BinFrequency(-1))
	assert.Equal(t, 0.0, s.BinFrequency(testFFTSize/2+1))
	assert.InDelta(t, testSampleRate/2.0, s.BinFrequency(testFFTSize/2), 1e-9)
	assert.False(t, math.IsNaN(s.BinFrequency(1)))
}

func BenchmarkTransform(b *testing.B) {
	s, _ := NewSpectralTransform(testFFTSize, testSampleRate, Hamming)
	input := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	b.ReportAllocs()

	for b.Loop() {
		_, _ = s.Transform(input)
	}
}
