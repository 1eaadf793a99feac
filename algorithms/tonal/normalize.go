package tonal

import (
	"errors"
	"fmt"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/common"
)

// NormalizedChroma is a z-scored chroma vector with its Euclidean norm
type NormalizedChroma struct {
	Values []float64
	Norm   float64
}

// NormalizeChroma validates a raw chroma vector and standardizes it.
// The input slice is not modified.
func NormalizeChroma(values []float64) (NormalizedChroma, error) {
	if len(values) != NumPitchClasses {
		return NormalizedChroma{}, fmt.Errorf("%w: got %d", ErrInvalidInputLength, len(values))
	}
	if ok, idx := common.AllFinite(values); !ok {
		return NormalizedChroma{}, fmt.Errorf("%w: bin %d is %v", ErrNonFiniteChroma, idx, values[idx])
	}

	zscored, err := common.ZScore(values)
	if err != nil {
		if errors.Is(err, common.ErrZeroVariance) {
			return NormalizedChroma{}, ErrFlatChromaVector
		}
		return NormalizedChroma{}, err
	}

	return NormalizedChroma{
		Values: zscored,
		Norm:   common.Norm(zscored),
	}, nil
}
