package chroma

import (
	"fmt"
	"strings"
)

// PitchClass is a chromatic semitone index (0=C, 1=C#, ..., 11=B)
type PitchClass int

// NumPitchClasses is the number of bins in a chroma vector
const NumPitchClasses = 12

// Sharps are used for display
var pitchClassNames = [NumPitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var flatAliases = map[string]PitchClass{
	"DB": 1, "EB": 3, "GB": 6, "AB": 8, "BB": 10,
}

func (pc PitchClass) String() string {
	return pitchClassNames[((int(pc)%NumPitchClasses)+NumPitchClasses)%NumPitchClasses]
}

// Transpose moves the pitch class by semitones, wrapping around the octave
func (pc PitchClass) Transpose(semitones int) PitchClass {
	return PitchClass(((int(pc)+semitones)%NumPitchClasses + NumPitchClasses) % NumPitchClasses)
}

// ParsePitchClass resolves a note name such as "E", "f#" or "Bb"
func ParsePitchClass(name string) (PitchClass, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range pitchClassNames {
		if n == key {
			return PitchClass(i), nil
		}
	}
	if pc, ok := flatAliases[key]; ok {
		return pc, nil
	}
	return 0, fmt.Errorf("unknown pitch class %q", name)
}
