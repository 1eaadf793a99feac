package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/chroma"
)

// ErrNoChroma means a source had nothing to offer for the message
var ErrNoChroma = errors.New("analyzer: no chroma available")

// ChromaSource resolves the 12-bin chroma vector for a message
type ChromaSource interface {
	Chroma(ctx context.Context, msg *Message) ([]float64, error)
}

// MessageChromaSource reads chroma carried in the message itself
type MessageChromaSource struct{}

func (MessageChromaSource) Chroma(ctx context.Context, msg *Message) ([]float64, error) {
	return fromFields(msg.Chroma, msg.ChromaFrames)
}

// FeatureFileChromaSource reads the JSON feature file the pipeline writes at
// the message's metadata path
type FeatureFileChromaSource struct {
	// ReadFile defaults to os.ReadFile
	ReadFile func(name string) ([]byte, error)
}

type featureFile struct {
	Chroma       []float64   `json:"chroma"`
	ChromaFrames [][]float64 `json:"chroma_frames"`
}

func (s FeatureFileChromaSource) Chroma(ctx context.Context, msg *Message) ([]float64, error) {
	if msg.MetadataFilePath == "" {
		return nil, ErrNoChroma
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	read := s.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(msg.MetadataFilePath)
	if err != nil {
		return nil, fmt.Errorf("read feature file %s: %w", msg.MetadataFilePath, err)
	}

	var ff featureFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse feature file %s: %w", msg.MetadataFilePath, err)
	}
	return fromFields(ff.Chroma, ff.ChromaFrames)
}

// ChainChromaSource tries each source in order and stops at the first one
// that has chroma or fails with something other than ErrNoChroma
type ChainChromaSource []ChromaSource

func (c ChainChromaSource) Chroma(ctx context.Context, msg *Message) ([]float64, error) {
	for _, src := range c {
		values, err := src.Chroma(ctx, msg)
		if errors.Is(err, ErrNoChroma) {
			continue
		}
		return values, err
	}
	return nil, ErrNoChroma
}

// NewChromaSource maps a configured source name to a ChromaSource
func NewChromaSource(kind string) (ChromaSource, error) {
	switch kind {
	case "message":
		return MessageChromaSource{}, nil
	case "feature_file":
		return FeatureFileChromaSource{}, nil
	case "auto", "":
		return ChainChromaSource{MessageChromaSource{}, FeatureFileChromaSource{}}, nil
	default:
		return nil, fmt.Errorf("unknown chroma source %q", kind)
	}
}

func fromFields(values []float64, frames [][]float64) ([]float64, error) {
	if len(values) > 0 {
		return append([]float64(nil), values...), nil
	}
	if len(frames) > 0 {
		return chroma.Average(frames)
	}
	return nil, ErrNoChroma
}
