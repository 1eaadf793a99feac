package tonal

import "errors"

var (
	// ErrInvalidInputLength is returned when a chroma vector does not have 12 bins
	ErrInvalidInputLength = errors.New("tonal: chroma vector must have 12 values")

	// ErrNonFiniteChroma is returned when a chroma bin is NaN or infinite
	ErrNonFiniteChroma = errors.New("tonal: chroma vector contains a non-finite value")

	// ErrFlatChromaVector is returned when every bin holds the same value
	ErrFlatChromaVector = errors.New("tonal: chroma vector has zero variance")

	// ErrDegenerateProfile is returned when a reference profile cannot be z-scored
	ErrDegenerateProfile = errors.New("tonal: mode profile has zero variance")

	// ErrUnknownMode is returned for mode names outside the seven diatonic modes
	ErrUnknownMode = errors.New("tonal: unknown mode")
)
