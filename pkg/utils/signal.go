// SPDX-License-Identifier: MIT
//
// Package utils provides deterministic signal generators and spectrum helpers
// shared by the measurement tests.
package utils

import (
	"math"
	"math/rand/v2"
)

// GenerateSineWave returns size int16 samples of a sine at frequency Hz whose
// peak is amplitude of full scale (0..1).
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = toSample(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics at 90%
// of full scale.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = toSample(signal * 0.9)
	}
	return buffer
}

// GenerateNoise returns uniform white noise with peak amplitude (in LSB),
// reproducible for a given seed.
func GenerateNoise(size int, amplitude int, seed uint64) []int16 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buffer := make([]int16, size)
	for i := range buffer {
		buffer[i] = int16(rng.IntN(2*amplitude+1) - amplitude)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// toSample rounds a [-1, 1] value to a saturated Q1.15 sample.
func toSample(v float64) int16 {
	s := math.Round(v * 32767)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
