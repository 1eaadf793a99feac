package chroma

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/common"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidSize is returned when a vector does not have 12 bins
	ErrInvalidSize = errors.New("chroma: vector must have 12 values")

	// ErrNonFinite is returned when a bin is NaN or infinite
	ErrNonFinite = errors.New("chroma: non-finite value")

	// ErrNoFrames is returned when averaging an empty frame sequence
	ErrNoFrames = errors.New("chroma: no frames to average")
)

// VectorStats contains summary statistics for a chroma vector
type VectorStats struct {
	Energy         float64 `json:"energy"`          // Euclidean norm
	Entropy        float64 `json:"entropy"`         // Shannon entropy of the distribution (bits)
	Uniformity     float64 `json:"uniformity"`      // How uniform the distribution is (0-1)
	DominantChroma int     `json:"dominant_chroma"` // Strongest chroma class
}

// Validate checks that values is a 12-bin vector of finite numbers
func Validate(values []float64) error {
	if len(values) != NumPitchClasses {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, len(values))
	}
	if ok, idx := common.AllFinite(values); !ok {
		return fmt.Errorf("%w at bin %d", ErrNonFinite, idx)
	}
	return nil
}

// Average computes the per-bin mean over a sequence of chroma frames
func Average(frames [][]float64) ([]float64, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	avg := make([]float64, NumPitchClasses)
	for i, frame := range frames {
		if err := Validate(frame); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		floats.Add(avg, frame)
	}

	floats.Scale(1/float64(len(frames)), avg)
	return avg, nil
}

// Dominant returns the n strongest pitch classes, strongest first.
// Equal values keep pitch class order.
func Dominant(values []float64, n int) []PitchClass {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return values[indices[a]] > values[indices[b]]
	})

	n = max(0, min(n, len(indices)))
	out := make([]PitchClass, n)
	for i := range n {
		out[i] = PitchClass(indices[i])
	}
	return out
}

// Rotate shifts values cyclically so that bin i moves to bin i+k
func Rotate(values []float64, k int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	for i, val := range values {
		out[((i+k)%n+n)%n] = val
	}
	return out
}

// Stats computes energy, entropy and uniformity for a chroma vector
func Stats(values []float64) VectorStats {
	if len(values) == 0 {
		return VectorStats{}
	}
	return VectorStats{
		Energy:         common.Norm(values),
		Entropy:        computeEntropy(values),
		Uniformity:     computeUniformity(values),
		DominantChroma: floats.MaxIdx(values),
	}
}

func computeEntropy(values []float64) float64 {
	// Normalize to probability distribution
	sum := 0.0
	for _, val := range values {
		if val > 0 {
			sum += val
		}
	}

	if sum == 0 {
		return 0
	}

	entropy := 0.0
	for _, val := range values {
		if val > 0 {
			prob := val / sum
			entropy -= prob * math.Log2(prob)
		}
	}

	return entropy
}

func computeUniformity(values []float64) float64 {
	sum := floats.Sum(values)
	if sum == 0 {
		return 1.0 // Perfectly uniform (all zeros)
	}

	expectedVal := sum / float64(len(values))
	variance := 0.0

	for _, val := range values {
		diff := val - expectedVal
		variance += diff * diff
	}

	variance /= float64(len(values))

	// Lower variance = higher uniformity
	return 1.0 / (1.0 + variance)
}
