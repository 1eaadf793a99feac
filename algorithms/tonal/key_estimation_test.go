package tonal

import (
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/chroma"
)

const tolerance = 1e-9

func newTestEstimator(t testing.TB) *KeyEstimator {
	t.Helper()
	ke, err := NewKeyEstimator(nil)
	if err != nil {
		t.Fatalf("new key estimator: %v", err)
	}
	return ke
}

func randomChroma(r *rand.Rand) []float64 {
	values := make([]float64, NumPitchClasses)
	for i := range values {
		values[i] = r.Float64()
	}
	return values
}

func TestEstimateKeyIonianProfileIsCMajor(t *testing.T) {
	ke := newTestEstimator(t)

	list, err := ke.EstimateKey(ModeIonian.Weights())
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	best := list.Best()
	if best.Mode != ModeIonian {
		t.Fatalf("expected ionian, got %s", best.Mode)
	}
	if best.DisplayMode != "major" {
		t.Fatalf("expected display mode major, got %q", best.DisplayMode)
	}
	if best.KeyIndex != 0 || best.KeyName != "C" {
		t.Fatalf("expected C (0), got %s (%d)", best.KeyName, best.KeyIndex)
	}
	if best.FullName != "C major" {
		t.Fatalf("expected full name %q, got %q", "C major", best.FullName)
	}
	if math.Abs(best.Correlation-1) > tolerance {
		t.Fatalf("expected correlation ~1, got %.15f", best.Correlation)
	}
}

func TestEstimateKeyAeolianRotatedIsEMinor(t *testing.T) {
	ke := newTestEstimator(t)

	name, confidence, list, err := ke.Estimate(chroma.Rotate(ModeAeolian.Weights(), 4))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	best := list.Best()
	if best.Mode != ModeAeolian || best.DisplayMode != "minor" {
		t.Fatalf("expected aeolian/minor, got %s/%s", best.Mode, best.DisplayMode)
	}
	if best.KeyIndex != 4 || best.KeyName != "E" {
		t.Fatalf("expected E (4), got %s (%d)", best.KeyName, best.KeyIndex)
	}
	if name != "E minor" {
		t.Fatalf("expected name E minor, got %q", name)
	}
	if confidence != best.Correlation {
		t.Fatalf("confidence %v does not match best correlation %v", confidence, best.Correlation)
	}
}

func TestExactMatchRecoveryEveryModeAndTonic(t *testing.T) {
	ke := newTestEstimator(t)

	for _, m := range Modes() {
		for r := range NumPitchClasses {
			list, err := ke.EstimateKey(chroma.Rotate(m.Weights(), r))
			if err != nil {
				t.Fatalf("%s@%d: %v", m, r, err)
			}
			e := list.ForMode(m)
			if e.KeyIndex != r {
				t.Errorf("%s@%d: expected key index %d, got %d", m, r, r, e.KeyIndex)
			}
			if math.Abs(e.Correlation-1) > tolerance {
				t.Errorf("%s@%d: expected correlation ~1, got %.15f", m, r, e.Correlation)
			}
		}
	}
}

func TestCoefficientsBounded(t *testing.T) {
	ke := newTestEstimator(t)
	r := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 200; trial++ {
		list, err := ke.EstimateKey(randomChroma(r))
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		for _, e := range list.All() {
			for i, c := range e.Coefficients {
				if c < -1 || c > 1 || math.IsNaN(c) {
					t.Fatalf("trial %d: %s coefficient %d out of range: %v", trial, e.Mode, i, c)
				}
			}
			if e.Correlation != e.Coefficients[e.KeyIndex] {
				t.Fatalf("trial %d: %s correlation does not match coefficient at key index", trial, e.Mode)
			}
		}
	}
}

func TestEstimateKeyDeterministic(t *testing.T) {
	ke := newTestEstimator(t)
	input := []float64{0.31, 0.12, 0.44, 0.09, 0.52, 0.27, 0.18, 0.61, 0.11, 0.35, 0.14, 0.22}

	first, err := ke.EstimateKey(input)
	if err != nil {
		t.Fatalf("first estimate: %v", err)
	}
	second, err := ke.EstimateKey(input)
	if err != nil {
		t.Fatalf("second estimate: %v", err)
	}

	if !reflect.DeepEqual(first.All(), second.All()) {
		t.Fatalf("expected identical results for identical input")
	}
}

func TestEstimateKeyDoesNotModifyInput(t *testing.T) {
	ke := newTestEstimator(t)
	input := []float64{0.31, 0.12, 0.44, 0.09, 0.52, 0.27, 0.18, 0.61, 0.11, 0.35, 0.14, 0.22}
	original := append([]float64(nil), input...)

	if _, err := ke.EstimateKey(input); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !reflect.DeepEqual(input, original) {
		t.Fatalf("input was modified: %v", input)
	}
}

func TestRotationCovariance(t *testing.T) {
	ke := newTestEstimator(t)
	base := []float64{0.9, 0.1, 0.45, 0.2, 0.7, 0.38, 0.15, 0.82, 0.12, 0.5, 0.08, 0.3}

	baseList, err := ke.EstimateKey(base)
	if err != nil {
		t.Fatalf("base estimate: %v", err)
	}

	for k := 1; k < NumPitchClasses; k++ {
		rotated, err := ke.EstimateKey(chroma.Rotate(base, k))
		if err != nil {
			t.Fatalf("rotation %d: %v", k, err)
		}

		for _, m := range Modes() {
			want := baseList.ForMode(m)
			got := rotated.ForMode(m)

			if got.KeyIndex != (want.KeyIndex+k)%NumPitchClasses {
				t.Errorf("rotation %d, %s: expected key %d, got %d", k, m, (want.KeyIndex+k)%NumPitchClasses, got.KeyIndex)
			}
			if math.Abs(got.Correlation-want.Correlation) > tolerance {
				t.Errorf("rotation %d, %s: correlation %v != %v", k, m, got.Correlation, want.Correlation)
			}
			for r := range NumPitchClasses {
				shifted := got.Coefficients[(r+k)%NumPitchClasses]
				if math.Abs(shifted-want.Coefficients[r]) > tolerance {
					t.Fatalf("rotation %d, %s: coefficient %d not shifted", k, m, r)
				}
			}
		}

		if math.Abs(rotated.Best().Correlation-baseList.Best().Correlation) > tolerance {
			t.Errorf("rotation %d: top correlation changed", k)
		}
	}
}

func TestEstimateListInvariants(t *testing.T) {
	ke := newTestEstimator(t)
	r := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 50; trial++ {
		list, err := ke.EstimateKey(randomChroma(r))
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}

		all := list.All()
		if len(all) != NumModes || list.Len() != NumModes {
			t.Fatalf("expected %d estimates, got %d", NumModes, len(all))
		}

		seen := make(map[Mode]bool)
		for i, e := range all {
			if seen[e.Mode] {
				t.Fatalf("mode %s listed twice", e.Mode)
			}
			seen[e.Mode] = true
			if i > 0 && all[i-1].Correlation < e.Correlation {
				t.Fatalf("list not sorted at %d: %v < %v", i, all[i-1].Correlation, e.Correlation)
			}
		}

		for _, name := range []string{"dorian", "locrian"} {
			e, err := list.ByMode(name)
			if err != nil {
				t.Fatalf("by mode %s: %v", name, err)
			}
			if e.Mode.String() != name {
				t.Fatalf("by mode %s returned %s", name, e.Mode)
			}
		}
	}
}

func TestEstimateKeyRejectsFlatInput(t *testing.T) {
	ke := newTestEstimator(t)

	cases := map[string][]float64{
		"zeros": make([]float64, 12),
		"ones":  {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		"tenth": {0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
	}
	for name, input := range cases {
		list, err := ke.EstimateKey(input)
		if !errors.Is(err, ErrFlatChromaVector) {
			t.Errorf("%s: expected ErrFlatChromaVector, got %v", name, err)
		}
		if list != nil {
			t.Errorf("%s: expected no result alongside error", name)
		}
	}
}

func TestEstimateKeyRejectsWrongLength(t *testing.T) {
	ke := newTestEstimator(t)

	for _, n := range []int{0, 11, 13, 24} {
		input := make([]float64, n)
		for i := range input {
			input[i] = float64(i)
		}
		if _, err := ke.EstimateKey(input); !errors.Is(err, ErrInvalidInputLength) {
			t.Errorf("length %d: expected ErrInvalidInputLength, got %v", n, err)
		}
	}
}

func TestEstimateKeyRejectsNonFinite(t *testing.T) {
	ke := newTestEstimator(t)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		input := []float64{0.3, 0.1, 0.4, 0.1, 0.5, 0.9, 0.2, 0.6, 0.5, 0.3, 0.5, 0.8}
		input[5] = bad
		if _, err := ke.EstimateKey(input); !errors.Is(err, ErrNonFiniteChroma) {
			t.Errorf("%v: expected ErrNonFiniteChroma, got %v", bad, err)
		}
	}
}

func TestEstimateKeyConcurrentUse(t *testing.T) {
	ke := newTestEstimator(t)
	input := chroma.Rotate(ModeDorian.Weights(), 2)

	want, err := ke.EstimateKey(input)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				got, err := ke.EstimateKey(input)
				if err != nil {
					errs <- err.Error()
					return
				}
				if !reflect.DeepEqual(got.All(), want.All()) {
					errs <- "result differs under concurrent use"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Fatal(msg)
	}
}

func TestByModeUnknownSuggestsClosest(t *testing.T) {
	ke := newTestEstimator(t)
	list, err := ke.EstimateKey(ModeIonian.Weights())
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	_, err = list.ByMode("dorain")
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if !strings.Contains(err.Error(), `"dorian"`) {
		t.Fatalf("expected suggestion for dorian, got %q", err.Error())
	}

	if _, err := list.ByMode("blues"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode for blues, got %v", err)
	}
}

func BenchmarkEstimateKey(b *testing.B) {
	ke := newTestEstimator(b)
	input := []float64{0.31, 0.12, 0.44, 0.09, 0.52, 0.27, 0.18, 0.61, 0.11, 0.35, 0.14, 0.22}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ke.EstimateKey(input); err != nil {
			b.Fatal(err)
		}
	}
}
