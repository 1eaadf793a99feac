package tonal

import (
	"github.com/RyanBlaney/harmonic-analyzer/algorithms/common"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ModeCorrelation is the correlation of one chroma vector against every
// tonic rotation of one mode's profile
type ModeCorrelation struct {
	Mode         Mode
	KeyIndex     int     // tonic pitch class with the highest correlation
	Correlation  float64 // Coefficients[KeyIndex]
	Coefficients [NumPitchClasses]float64
}

// Correlate scores a normalized chroma vector against all 12 rotations of a
// mode's profile. Coefficient r assumes pitch class r is the tonic and lies
// in [-1, 1]. Ties resolve to the lowest pitch class.
func (t *ModeProfileTable) Correlate(m Mode, x NormalizedChroma) (ModeCorrelation, error) {
	rotation, profileNorm, err := t.Profile(m)
	if err != nil {
		return ModeCorrelation{}, err
	}
	if len(x.Values) != NumPitchClasses {
		return ModeCorrelation{}, ErrInvalidInputLength
	}
	if x.Norm == 0 {
		return ModeCorrelation{}, ErrFlatChromaVector
	}

	input := mat.NewVecDense(NumPitchClasses, append([]float64(nil), x.Values...))

	var scores mat.VecDense
	scores.MulVec(rotation.T(), input)
	scores.ScaleVec(1/(profileNorm*x.Norm), &scores)

	result := ModeCorrelation{Mode: m}
	raw := scores.RawVector().Data
	for i := range NumPitchClasses {
		// rounding can push an exact match a hair past 1
		result.Coefficients[i] = common.Clamp(raw[i], -1, 1)
	}

	result.KeyIndex = bestRotation(result.Coefficients[:])
	result.Correlation = result.Coefficients[result.KeyIndex]

	return result, nil
}

// bestRotation is the argmax of coefficients. floats.MaxIdx keeps the first
// index among equal maxima, so ties go to the lowest pitch class.
func bestRotation(coefficients []float64) int {
	return floats.MaxIdx(coefficients)
}

// CorrelateAll runs Correlate for every mode in declaration order
func (t *ModeProfileTable) CorrelateAll(x NormalizedChroma) ([NumModes]ModeCorrelation, error) {
	var out [NumModes]ModeCorrelation
	for _, m := range Modes() {
		mc, err := t.Correlate(m, x)
		if err != nil {
			return out, err
		}
		out[m] = mc
	}
	return out, nil
}
