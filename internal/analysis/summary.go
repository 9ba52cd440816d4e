// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FrequencyBand defines the name and frequency range of a report band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands split the audible range the way leak and wiring faults show
// up: leaks lift or sink the low band, broken wiring flattens everything.
var DefaultBands = []FrequencyBand{
	{Name: "low", LowHz: 50, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "high", LowHz: 2000, HighHz: 8000},
	{Name: "air", LowHz: 8000, HighHz: 16000},
}

// BandSummary describes the valid bins of a transfer function inside a band.
type BandSummary struct {
	Band   FrequencyBand
	Bins   int
	MeanDB float64
	StdDB  float64
	MinDB  float64
	MaxDB  float64
}

// Summarize reports per-band statistics of tf. binHz is the bin spacing
// (sampleRate / fftSize). Bands without a valid bin report NaN statistics.
func Summarize(tf *TransferFunction, binHz float64, bands []FrequencyBand) []BandSummary {
	out := make([]BandSummary, 0, len(bands))
	values := make([]float64, 0, len(tf.DB))

	for _, band := range bands {
		values = values[:0]
		for i, v := range tf.DB {
			freq := float64(i) * binHz
			if tf.Valid[i] && freq >= band.LowHz && freq < band.HighHz {
				values = append(values, v)
			}
		}

		s := BandSummary{Band: band, Bins: len(values)}
		if len(values) == 0 {
			s.MeanDB, s.StdDB, s.MinDB, s.MaxDB = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		} else {
			s.MeanDB, s.StdDB = stat.MeanStdDev(values, nil)
			if len(values) == 1 {
				s.StdDB = 0
			}
			s.MinDB = floats.Min(values)
			s.MaxDB = floats.Max(values)
		}
		out = append(out, s)
	}
	return out
}
