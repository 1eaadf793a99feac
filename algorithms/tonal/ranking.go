package tonal

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/chroma"
)

// Estimate is the best tonic for one mode
type Estimate struct {
	Mode         Mode                     `json:"mode"`
	DisplayMode  string                   `json:"display_mode"` // "major", "minor" or the mode name
	KeyIndex     int                      `json:"key_index"`    // Tonic pitch class (0=C, 1=C#, ..., 11=B)
	KeyName      string                   `json:"key"`          // Tonic name, e.g. "E"
	Correlation  float64                  `json:"correlation"`  // Correlation at KeyIndex, in [-1, 1]
	FullName     string                   `json:"full_name"`    // e.g. "E minor"
	Coefficients [NumPitchClasses]float64 `json:"coefficients"` // Correlation for every tonic
}

func newEstimate(mc ModeCorrelation) Estimate {
	keyName := chroma.PitchClass(mc.KeyIndex).String()
	display := mc.Mode.DisplayName()
	return Estimate{
		Mode:         mc.Mode,
		DisplayMode:  display,
		KeyIndex:     mc.KeyIndex,
		KeyName:      keyName,
		Correlation:  mc.Correlation,
		FullName:     keyName + " " + display,
		Coefficients: mc.Coefficients,
	}
}

// Relative returns the relative minor of a major estimate or the relative
// major of a minor one. ok is false for the other modes.
func (e Estimate) Relative() (key int, mode Mode, ok bool) {
	switch e.Mode {
	case ModeIonian:
		// Relative minor is 3 semitones down
		return (e.KeyIndex + 9) % 12, ModeAeolian, true
	case ModeAeolian:
		// Relative major is 3 semitones up
		return (e.KeyIndex + 3) % 12, ModeIonian, true
	default:
		return 0, 0, false
	}
}

// EstimateList holds one Estimate per mode, sorted by descending correlation.
// Equal correlations keep mode declaration order.
type EstimateList struct {
	estimates [NumModes]Estimate
}

// RankEstimates builds the sorted list from per-mode correlations
func RankEstimates(correlations [NumModes]ModeCorrelation) *EstimateList {
	list := &EstimateList{}
	for i, mc := range correlations {
		list.estimates[i] = newEstimate(mc)
	}

	// Stable over declaration order so ties resolve ionian first
	sort.SliceStable(list.estimates[:], func(i, j int) bool {
		return list.estimates[i].Correlation > list.estimates[j].Correlation
	})

	return list
}

// Len is always NumModes
func (l *EstimateList) Len() int {
	return len(l.estimates)
}

// Best returns the overall highest-correlation estimate
func (l *EstimateList) Best() Estimate {
	return l.estimates[0]
}

// Top returns the first n estimates. n is clamped to [0, NumModes].
func (l *EstimateList) Top(n int) []Estimate {
	n = max(0, min(n, NumModes))
	out := make([]Estimate, n)
	copy(out, l.estimates[:n])
	return out
}

// All returns every estimate in ranked order
func (l *EstimateList) All() []Estimate {
	return l.Top(NumModes)
}

// ByMode returns the estimate for one of the seven lowercase mode names.
// Anything else, aliases and other spellings included, is ErrUnknownMode.
// Use ParseMode first for lenient matching.
func (l *EstimateList) ByMode(name string) (Estimate, error) {
	for i, n := range modeNames {
		if n == name {
			return l.ForMode(Mode(i)), nil
		}
	}
	return Estimate{}, unknownModeError(name)
}

// ForMode returns the estimate for m. m must be valid.
func (l *EstimateList) ForMode(m Mode) Estimate {
	for _, e := range l.estimates {
		if e.Mode == m {
			return e
		}
	}
	return Estimate{}
}

// Clarity measures how far the best estimate stands out from the runner-up:
// (best - second) / |best|, or 0 when best is 0
func (l *EstimateList) Clarity() float64 {
	best := l.estimates[0].Correlation
	if best == 0 {
		return 0.0
	}
	return (best - l.estimates[1].Correlation) / math.Abs(best)
}

// MarshalJSON encodes the ranked estimates as an array
func (l *EstimateList) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.All())
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
