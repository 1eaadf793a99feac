package tonal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/common"
	"gonum.org/v1/gonum/mat"
)

// modeProfile holds the precomputed correlation data for one mode
type modeProfile struct {
	zscored  []float64
	rotation *mat.Dense // column i is the profile with pitch class i as tonic
	norm     float64
}

// ModeProfileTable holds the z-scored reference profiles for every mode,
// with their circulant rotation matrices and norms. It is immutable once
// built and safe for concurrent use.
type ModeProfileTable struct {
	profiles [NumModes]modeProfile
}

// NewModeProfileTable builds the table from the Krumhansl-Schmuckler weights
func NewModeProfileTable() (*ModeProfileTable, error) {
	return newModeProfileTable(modeWeights)
}

func newModeProfileTable(weights [NumModes][NumPitchClasses]float64) (*ModeProfileTable, error) {
	table := &ModeProfileTable{}

	for m := range NumModes {
		raw := weights[m] // array copy, the source is never touched

		zscored, err := common.ZScore(raw[:])
		if err != nil {
			if errors.Is(err, common.ErrZeroVariance) {
				return nil, fmt.Errorf("%w: %s", ErrDegenerateProfile, Mode(m))
			}
			return nil, err
		}

		table.profiles[m] = modeProfile{
			zscored:  zscored,
			rotation: circulant(zscored),
			norm:     common.Norm(zscored),
		}
	}

	return table, nil
}

// circulant builds the n×n matrix whose column j is v shifted down by j,
// i.e. element (i, j) = v[(i-j) mod n]
func circulant(v []float64) *mat.Dense {
	n := len(v)
	data := make([]float64, n*n)
	for i := range n {
		for j := range n {
			data[i*n+j] = v[((i-j)%n+n)%n]
		}
	}
	return mat.NewDense(n, n, data)
}

// Profile returns the rotation matrix and norm for a mode. The matrix is
// shared and must not be modified.
func (t *ModeProfileTable) Profile(m Mode) (mat.Matrix, float64, error) {
	if !m.Valid() {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	p := &t.profiles[m]
	return p.rotation, p.norm, nil
}

// ZScored returns a copy of the normalized profile for a mode
func (t *ModeProfileTable) ZScored(m Mode) []float64 {
	if !m.Valid() {
		return nil
	}
	out := make([]float64, NumPitchClasses)
	copy(out, t.profiles[m].zscored)
	return out
}

var defaultTable = sync.OnceValues(NewModeProfileTable)

// DefaultModeProfileTable returns the process-wide table, building it on first use
func DefaultModeProfileTable() (*ModeProfileTable, error) {
	return defaultTable()
}
