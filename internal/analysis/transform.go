// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions. Hamming is the production window.
const (
	Hamming WindowFunc = iota
	Hann
	Blackman
	BlackmanNuttall
	Nuttall
	Rectangular
)

func (w WindowFunc) String() string {
	switch w {
	case Hamming:
		return "Hamming"
	case Hann:
		return "Hann"
	case Blackman:
		return "Blackman"
	case BlackmanNuttall:
		return "BlackmanNuttall"
	case Nuttall:
		return "Nuttall"
	case Rectangular:
		return "Rectangular"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// sampleScale maps signed Q1.15 samples to [-1, 1).
const sampleScale = 1.0 / 32768.0

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed, scaled input; overwritten on every call.
	fftOutput []complex128 // N/2+1 one-sided coefficients.
	window    []float64    // Pre-calculated symmetric window coefficients.
}

// SpectralTransform converts an integer analysis window into a one-sided
// complex spectrum. It is stateless between calls apart from the reusable
// plan and scratch buffers, and is not safe for concurrent use.
type SpectralTransform struct {
	fftCalculator *fourier.FFT // Reusable real FFT plan.
	fftSize       int          // Number of points for the FFT (power of 2).
	sampleRate    float64      // Sample rate of the input audio (Hz).
	windowType    WindowFunc
	workspace     fftWorkspace
}

// NewSpectralTransform plans a real FFT of fftSize points and precomputes the
// window coefficients.
func NewSpectralTransform(fftSize int, sampleRate float64, windowType WindowFunc) (*SpectralTransform, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fault.Newf("analysis.transform", fault.ErrBadConfig,
			"fft size must be a power of 2, got %d (try %d)", fftSize, bitint.NextPowerOfTwo(fftSize))
	}
	if sampleRate <= 0 {
		return nil, fault.Newf("analysis.transform", fault.ErrBadConfig, "sample rate must be positive, got %f", sampleRate)
	}

	coeffs := make([]float64, fftSize)
	applyWindow(coeffs, windowType)

	applog.Debugf("Analysis: Initializing SpectralTransform (Size: %d, SampleRate: %.1f Hz, Window: %v)", fftSize, sampleRate, windowType)

	return &SpectralTransform{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		windowType:    windowType,
		workspace: fftWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, fftSize/2+1),
			window:    coeffs,
		},
	}, nil
}

// Transform scales, windows and transforms samples. The returned spectrum has
// fftSize/2+1 bins and aliases internal storage until the next call.
func (s *SpectralTransform) Transform(samples []int16) ([]complex128, error) {
	if samples == nil {
		return nil, fault.New("analysis.transform", fault.ErrNilBuffer)
	}
	if len(samples) != s.fftSize {
		return nil, fault.Newf("analysis.transform", fault.ErrBlockSize, "got %d samples, want %d", len(samples), s.fftSize)
	}

	in := s.workspace.input
	for i, v := range samples {
		in[i] = float64(v) * sampleScale * s.workspace.window[i]
	}

	s.fftCalculator.Coefficients(s.workspace.fftOutput, in)
	return s.workspace.fftOutput, nil
}

// Size returns the configured FFT size (number of points).
func (s *SpectralTransform) Size() int {
	return s.fftSize
}

// Window returns the configured window function.
func (s *SpectralTransform) Window() WindowFunc {
	return s.windowType
}

// Bins returns the length of the produced spectrum.
func (s *SpectralTransform) Bins() int {
	return s.fftSize/2 + 1
}

// WindowDCGain is the sum of the window coefficients, the factor by which a
// constant full-scale input appears in bin 0.
func (s *SpectralTransform) WindowDCGain() float64 {
	var sum float64
	for _, w := range s.workspace.window {
		sum += w
	}
	return sum
}

// BinFrequency returns the center frequency (Hz) for a given FFT bin index.
func (s *SpectralTransform) BinFrequency(i int) float64 {
	if i < 0 || i > s.fftSize/2 {
		return 0
	}
	return float64(i) * s.sampleRate / float64(s.fftSize)
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns the production default (Hamming) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "hamming", "":
		return Hamming, nil
	case "hann", "hanning":
		return Hann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "nuttall":
		return Nuttall, nil
	case "rectangular", "none":
		return Rectangular, nil
	default:
		return Hamming, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// gonum windows scale in place, start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case Hamming:
		window.Hamming(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case Rectangular:
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hamming", windowType)
		window.Hamming(coeffs)
	}
}
