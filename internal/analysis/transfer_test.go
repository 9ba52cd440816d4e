// SPDX-License-Identifier: MIT
package analysis

import (
	"encoding/json"
	"math"
	"testing"

	"headset/internal/block"
	"headset/internal/fault"
	"headset/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spectrumOf(t *testing.T, s *SpectralTransform, samples []int16) []complex128 {
	t.Helper()
	spectrum, err := s.Transform(samples)
	require.NoError(t, err)
	out := make([]complex128, len(spectrum))
	copy(out, spectrum)
	return out
}

func TestAccumulatorIsOrderIndependent(t *testing.T) {
	s := newTestTransform(t)
	spectra := [][]complex128{
		spectrumOf(t, s, utils.GenerateNoise(testFFTSize, 4000, 1)),
		spectrumOf(t, s, utils.GenerateNoise(testFFTSize, 4000, 2)),
		spectrumOf(t, s, utils.GenerateNoise(testFFTSize, 4000, 3)),
	}

	forward := NewAccumulator(testFFTSize)
	backward := NewAccumulator(testFFTSize)
	for i := range spectra {
		require.NoError(t, forward.Accumulate(block.OEML, spectra[i]))
		require.NoError(t, backward.Accumulate(block.OEML, spectra[len(spectra)-1-i]))
	}

	assert.Equal(t, 3, forward.Frames(block.OEML))
	assert.Equal(t, 0, forward.Frames(block.Reference))
	assert.InDeltaSlice(t, forward.Energy(block.OEML), backward.Energy(block.OEML), 1e-9)
	assert.Len(t, forward.Energy(block.OEML), testFFTSize/2)
}

func TestAccumulatorValidation(t *testing.T) {
	a := NewAccumulator(testFFTSize)

	err := a.Accumulate(block.Channel(7), make([]complex128, testFFTSize/2+1))
	assert.ErrorIs(t, err, fault.ErrBadChannel)
	assert.True(t, fault.IsFatal(err))

	assert.ErrorIs(t, a.Accumulate(block.OEML, nil), fault.ErrNilBuffer)
	assert.ErrorIs(t, a.Accumulate(block.OEML, make([]complex128, 4)), fault.ErrBlockSize)
	assert.Nil(t, a.Energy(block.Channel(-1)))
}

func TestAccumulatorReset(t *testing.T) {
	a := NewAccumulator(testFFTSize)
	spectrum := make([]complex128, testFFTSize/2+1)
	for i := range spectrum {
		spectrum[i] = complex(1, 1)
	}
	for ch := block.OEML; ch <= block.Reference; ch++ {
		require.NoError(t, a.Accumulate(ch, spectrum))
	}

	a.Reset(block.IEML)
	assert.Equal(t, 0, a.Frames(block.IEML))
	assert.Equal(t, 1, a.Frames(block.OEML))
	assert.Equal(t, 2.0, a.Energy(block.OEML)[5])
	assert.Equal(t, 0.0, a.Energy(block.IEML)[5])

	a.ResetAll()
	for ch := block.OEML; ch <= block.Reference; ch++ {
		assert.Equal(t, 0, a.Frames(ch))
	}
}

func TestEvaluateScaleInvariance(t *testing.T) {
	s := newTestTransform(t)
	acc := NewAccumulator(testFFTSize)

	const k = 0.25
	for seed := uint64(1); seed <= 4; seed++ {
		ref := spectrumOf(t, s, utils.GenerateNoise(testFFTSize, 8000, seed))
		measured := make([]complex128, len(ref))
		for i, c := range ref {
			measured[i] = c * complex(k, 0)
		}
		require.NoError(t, acc.Accumulate(block.Reference, ref))
		require.NoError(t, acc.Accumulate(block.IEMR, measured))
	}

	tf, err := Evaluate(acc, CurveIEMR)
	require.NoError(t, err)
	assert.Equal(t, CurveIEMR, tf.Curve)
	assert.Equal(t, 4, tf.Frames)

	want := AmplitudeToDB(k)
	for i := 1; i < len(tf.DB); i++ {
		require.True(t, tf.Valid[i], "bin %d", i)
		assert.InDelta(t, want, tf.DB[i], 1e-9, "bin %d", i)
	}
}

func TestEvaluateReferenceSampleScaling(t *testing.T) {
	s := newTestTransform(t)

	// Scaling the reference samples by k shifts every bin by 20·log10(1/k).
	// Power-of-two factors keep the int16 windows exact.
	for _, k := range []int{1, 2, 4} {
		acc := NewAccumulator(testFFTSize)
		for seed := uint64(1); seed <= 4; seed++ {
			measured := utils.GenerateNoise(testFFTSize, 8000, seed)
			reference := make([]int16, len(measured))
			for i, v := range measured {
				reference[i] = v * int16(k)
			}
			require.NoError(t, acc.Accumulate(block.OEMR, spectrumOf(t, s, measured)))
			require.NoError(t, acc.Accumulate(block.Reference, spectrumOf(t, s, reference)))
		}

		tf, err := Evaluate(acc, CurveOEMR)
		require.NoError(t, err)

		want := 20 * math.Log10(1/float64(k))
		for i := 1; i < len(tf.DB); i++ {
			require.True(t, tf.Valid[i], "k %d bin %d", k, i)
			assert.InDelta(t, want, tf.DB[i], 1e-9, "k %d bin %d", k, i)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	acc := NewAccumulator(testFFTSize)

	_, err := Evaluate(acc, Curve(4))
	assert.ErrorIs(t, err, ErrUnknownCurve)
	assert.False(t, fault.IsFatal(err))

	_, err = Evaluate(acc, CurveOEML)
	assert.ErrorIs(t, err, ErrNoMeasurement)

	spectrum := make([]complex128, testFFTSize/2+1)
	require.NoError(t, acc.Accumulate(block.Reference, spectrum))
	require.NoError(t, acc.Accumulate(block.Reference, spectrum))
	require.NoError(t, acc.Accumulate(block.OEML, spectrum))
	_, err = Evaluate(acc, CurveOEML)
	assert.ErrorIs(t, err, ErrNoMeasurement)
}

func TestEvaluateGuardsSilentReference(t *testing.T) {
	acc := NewAccumulator(8)
	ref := []complex128{0, 1, 1, 0, 0}
	measured := []complex128{1, 0, 2, 0, 0}
	require.NoError(t, acc.Accumulate(block.Reference, ref))
	require.NoError(t, acc.Accumulate(block.OEMR, measured))

	tf, err := Evaluate(acc, CurveOEMR)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true, true, false}, tf.Valid)
	assert.True(t, math.IsNaN(tf.DB[0]))
	// Silent measured path against a live reference is clamped, not -Inf.
	assert.InDelta(t, EnergyToDB(EnergyEpsilon), tf.DB[1], 1e-9)
	assert.InDelta(t, EnergyToDB(4), tf.DB[2], 1e-9)

	raw, err := json.Marshal(tf)
	require.NoError(t, err)

	var decoded struct {
		Curve  string     `json:"curve"`
		Frames int        `json:"frames"`
		DB     []*float64 `json:"db"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "OEM_R", decoded.Curve)
	assert.Equal(t, 1, decoded.Frames)
	require.Len(t, decoded.DB, 4)
	assert.Nil(t, decoded.DB[0])
	assert.NotNil(t, decoded.DB[2])
}

func TestParseCurve(t *testing.T) {
	tests := []struct {
		in      string
		want    Curve
		wantErr bool
	}{
		{"0", CurveOEML, false},
		{"3", CurveIEMR, false},
		{"iem_l", CurveIEML, false},
		{"OEM-R", CurveOEMR, false},
		{"4", 0, true},
		{"-1", 0, true},
		{"ref", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCurve(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCurve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecibelConversions(t *testing.T) {
	assert.InDelta(t, -6.0206, AmplitudeToDB(0.5), 1e-4)
	assert.InDelta(t, 0.5, DBToAmplitude(AmplitudeToDB(0.5)), 1e-12)
	assert.InDelta(t, 10, EnergyToDB(10), 1e-12)
	assert.InDelta(t, 100, DBToEnergy(20), 1e-9)
}
