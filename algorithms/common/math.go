package common

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions shared by the tonal algorithms, backed by gonum

// ErrZeroVariance is returned when data cannot be standardized
var ErrZeroVariance = errors.New("common: zero variance")

// flatTolerance is the spread, relative to the largest magnitude, below which
// data counts as constant. A few ulps covers rounding in the mean.
const flatTolerance = 4 * 0x1p-52

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// PopulationStdDev calculates the population (not sample) standard deviation
func PopulationStdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// ZScore standardizes data to zero mean and unit population variance.
// Constant data returns ErrZeroVariance instead of dividing by zero.
func ZScore(data []float64) ([]float64, error) {
	if len(data) == 0 {
		return nil, ErrZeroVariance
	}

	mean, std := stat.PopMeanStdDev(data, nil)
	scale := math.Max(math.Abs(mean), floats.Max(absAll(data)))
	if std == 0 || std <= flatTolerance*scale {
		return nil, ErrZeroVariance
	}

	normalized := make([]float64, len(data))
	for i, val := range data {
		normalized[i] = stat.StdScore(val, mean, std)
	}

	return normalized, nil
}

// Norm returns the Euclidean norm of data
func Norm(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Norm(data, 2)
}

// AllFinite reports whether data has no NaN or infinite entries, and the first offending index
func AllFinite(data []float64) (bool, int) {
	for i, val := range data {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false, i
		}
	}
	return true, -1
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func absAll(data []float64) []float64 {
	out := make([]float64, len(data))
	for i, val := range data {
		out[i] = math.Abs(val)
	}
	return out
}
