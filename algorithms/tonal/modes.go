package tonal

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Mode identifies one of the seven diatonic modes
type Mode int

const (
	ModeIonian Mode = iota
	ModeDorian
	ModePhrygian
	ModeLydian
	ModeMixolydian
	ModeAeolian
	ModeLocrian
)

// NumModes is the number of diatonic modes estimated per call
const NumModes = 7

// NumPitchClasses is the chroma resolution the estimator works at
const NumPitchClasses = 12

var modeNames = [NumModes]string{
	"ionian",
	"dorian",
	"phrygian",
	"lydian",
	"mixolydian",
	"aeolian",
	"locrian",
}

// Krumhansl-Schmuckler weights, one row per mode in declaration order.
// Never written to: the profile table works on copies.
var modeWeights = [NumModes][NumPitchClasses]float64{
	{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88},
	{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.69, 1.66, 3.69, 2.59, 3.59, 4.75},
	{6.59, 2.52, 3.68, 5.06, 1.03, 4.60, 3.52, 5.35, 3.54, 4.90, 1.75, 1.80},
	{6.50, 2.33, 3.52, 2.68, 3.59, 2.59, 3.66, 5.17, 3.63, 2.59, 2.70, 3.33},
	{6.47, 2.37, 3.50, 2.52, 3.64, 2.50, 3.58, 2.64, 3.68, 2.50, 2.60, 3.38},
	{6.39, 2.55, 3.77, 3.98, 2.71, 3.91, 2.92, 2.29, 3.70, 3.27, 3.16, 6.20},
	{6.17, 2.74, 3.98, 2.69, 3.66, 3.68, 2.90, 2.42, 2.60, 2.70, 2.88, 6.59},
}

// Modes returns all modes in declaration order
func Modes() []Mode {
	return []Mode{ModeIonian, ModeDorian, ModePhrygian, ModeLydian, ModeMixolydian, ModeAeolian, ModeLocrian}
}

// Valid reports whether m is one of the seven modes
func (m Mode) Valid() bool {
	return m >= ModeIonian && m <= ModeLocrian
}

func (m Mode) String() string {
	if !m.Valid() {
		return "unknown"
	}
	return modeNames[m]
}

// DisplayName returns "major" for ionian, "minor" for aeolian and the mode name otherwise
func (m Mode) DisplayName() string {
	switch m {
	case ModeIonian:
		return "major"
	case ModeAeolian:
		return "minor"
	default:
		return m.String()
	}
}

// Weights returns a copy of the raw reference profile for the mode
func (m Mode) Weights() []float64 {
	if !m.Valid() {
		return nil
	}
	w := modeWeights[m]
	return w[:]
}

// ParseMode resolves a mode name. Matching is case-insensitive and also
// accepts the "major" and "minor" aliases.
func ParseMode(name string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "major":
		return ModeIonian, nil
	case "minor":
		return ModeAeolian, nil
	}

	for i, n := range modeNames {
		if n == key {
			return Mode(i), nil
		}
	}

	return 0, unknownModeError(name)
}

func unknownModeError(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if suggestion := closestModeName(key); suggestion != "" {
		return fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownMode, name, suggestion)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// closestModeName returns the nearest mode name within a small edit distance
func closestModeName(name string) string {
	if name == "" {
		return ""
	}

	best := ""
	bestDist := 3 // anything further is not a typo
	for _, n := range modeNames {
		if d := levenshtein.ComputeDistance(name, n); d < bestDist {
			best = n
			bestDist = d
		}
	}
	return best
}
