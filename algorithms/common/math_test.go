package common

import (
	"errors"
	"math"
	"testing"
)

func TestZScore(t *testing.T) {
	z, err := ZScore([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	if math.Abs(Mean(z)) > 1e-12 {
		t.Fatalf("expected zero mean, got %g", Mean(z))
	}
	if math.Abs(PopulationStdDev(z)-1) > 1e-12 {
		t.Fatalf("expected unit std, got %g", PopulationStdDev(z))
	}
}

func TestZScoreRejectsConstantData(t *testing.T) {
	for _, data := range [][]float64{
		nil,
		{0, 0, 0},
		{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
		{1e9, 1e9, 1e9},
	} {
		if _, err := ZScore(data); !errors.Is(err, ErrZeroVariance) {
			t.Fatalf("%v: expected ErrZeroVariance, got %v", data, err)
		}
	}
}

func TestZScoreKeepsSmallSpreadOnLargeOffset(t *testing.T) {
	data := make([]float64, 12)
	for i := range data {
		data[i] = 1e6 + float64(i)*1e-7
	}
	z, err := ZScore(data)
	if err != nil {
		t.Fatalf("expected real spread to standardize, got %v", err)
	}
	if z[0] >= 0 || z[11] <= 0 {
		t.Fatalf("expected ordering preserved, got %v", z)
	}
	if math.Abs(PopulationStdDev(z)-1) > 1e-6 {
		t.Fatalf("expected unit std, got %g", PopulationStdDev(z))
	}
}

func TestAllFiniteAndClamp(t *testing.T) {
	if ok, idx := AllFinite([]float64{1, math.NaN(), math.Inf(1)}); ok || idx != 1 {
		t.Fatalf("expected first bad index 1, got %v %d", ok, idx)
	}
	if ok, idx := AllFinite([]float64{1, -2}); !ok || idx != -1 {
		t.Fatalf("expected finite, got %v %d", ok, idx)
	}
	if Clamp(1.0000001, -1, 1) != 1 || Clamp(-3, -1, 1) != -1 || Clamp(0.5, -1, 1) != 0.5 {
		t.Fatalf("clamp out of range")
	}
	if Norm([]float64{3, 4}) != 5 {
		t.Fatalf("expected norm 5")
	}
}
