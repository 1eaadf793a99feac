package chroma

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := Validate(make([]float64, 12)); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := Validate(make([]float64, 11)); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	bad := make([]float64, 12)
	bad[3] = math.NaN()
	if err := Validate(bad); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func TestAverage(t *testing.T) {
	a := []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	b := []float64{3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}

	avg, err := Average([][]float64{a, b})
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if avg[0] != 2 || avg[11] != 3 {
		t.Fatalf("unexpected average %v", avg)
	}
	if a[0] != 1 {
		t.Fatalf("input frame modified")
	}

	if _, err := Average(nil); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
	if _, err := Average([][]float64{a, {1, 2}}); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize for short frame, got %v", err)
	}
}

func TestDominant(t *testing.T) {
	values := []float64{0.2, 0.1, 0.3, 0.1, 0.9, 0.2, 0.1, 0.5, 0.1, 0.1, 0.1, 0.5}

	got := Dominant(values, 3)
	want := []PitchClass{4, 7, 11}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(Dominant(values, 40)) != 12 {
		t.Fatalf("expected n clamped to 12")
	}
}

func TestRotate(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	got := Rotate(values, 4)
	if got[4] != 0 || got[0] != 8 {
		t.Fatalf("unexpected rotation %v", got)
	}
	if !reflect.DeepEqual(Rotate(values, -4), Rotate(values, 8)) {
		t.Fatalf("negative rotation should wrap")
	}
	if !reflect.DeepEqual(Rotate(values, 12), values) {
		t.Fatalf("full rotation should be identity")
	}
}

func TestStats(t *testing.T) {
	flat := Stats([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	if math.Abs(flat.Entropy-math.Log2(12)) > 1e-12 {
		t.Fatalf("expected max entropy for flat vector, got %v", flat.Entropy)
	}
	if flat.Uniformity != 1 {
		t.Fatalf("expected uniformity 1, got %v", flat.Uniformity)
	}

	peaked := Stats([]float64{0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 0})
	if peaked.DominantChroma != 7 || peaked.Entropy != 0 || peaked.Energy != 3 {
		t.Fatalf("unexpected stats %+v", peaked)
	}
}

func TestPitchClassNames(t *testing.T) {
	if PitchClass(4).String() != "E" || PitchClass(10).String() != "A#" {
		t.Fatalf("unexpected names")
	}
	if PitchClass(11).Transpose(3) != 2 || PitchClass(1).Transpose(-3) != 10 {
		t.Fatalf("transpose should wrap")
	}

	for name, want := range map[string]PitchClass{"c": 0, "F#": 6, "Bb": 10, " eb ": 3} {
		got, err := ParsePitchClass(name)
		if err != nil || got != want {
			t.Errorf("%q: expected %d, got %d (%v)", name, want, got, err)
		}
	}
	if _, err := ParsePitchClass("H"); err == nil {
		t.Fatalf("expected error for H")
	}
}
