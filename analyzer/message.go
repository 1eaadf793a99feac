// Package analyzer turns uploaded-audio work items into key estimates.
package analyzer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/tonal"
	"github.com/RyanBlaney/harmonic-analyzer/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidMessage is returned for payloads that cannot be processed at all
var ErrInvalidMessage = errors.New("analyzer: invalid message")

// Message is one work item published by the upload pipeline
type Message struct {
	MessageID          string      `json:"messageId"`
	TrackID            string      `json:"trackId"`
	OriginalFilePath   string      `json:"originalFilePath,omitempty"`
	TranscodedFilePath string      `json:"transcodedFilePath,omitempty"`
	MetadataFilePath   string      `json:"metadataFilePath,omitempty"`
	Chroma             []float64   `json:"chroma,omitempty"`       // Averaged 12-bin chroma
	ChromaFrames       [][]float64 `json:"chromaFrames,omitempty"` // Per-frame chroma, averaged when Chroma is absent
}

// DecodeMessage parses and checks a work item payload
func DecodeMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if msg.MessageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrInvalidMessage)
	}
	return &msg, nil
}

// Result statuses
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// UnknownKey is reported when no key could be estimated
const UnknownKey = "Unknown"

// Result is the outcome recorded for one message
type Result struct {
	MessageID            string           `json:"messageId"`
	TrackID              string           `json:"trackId"`
	Key                  string           `json:"key"`
	Mode                 string           `json:"mode,omitempty"`
	DisplayMode          string           `json:"displayMode,omitempty"`
	KeyIndex             int              `json:"keyIndex"`
	Confidence           float64          `json:"confidence"`
	Clarity              float64          `json:"clarity"`
	Estimates            []tonal.Estimate `json:"estimates,omitempty"`
	DominantPitchClasses []string         `json:"dominantPitchClasses,omitempty"`
	ChromaDigest         uint64           `json:"chromaDigest,string,omitempty"`
	Status               string           `json:"status"`
	Error                string           `json:"error,omitempty"`
	ProcessedAt          time.Time        `json:"processedAt"`

	chroma []float64
}

func unknownResult(msg *Message, err error, at time.Time) *Result {
	return &Result{
		MessageID:   msg.MessageID,
		TrackID:     msg.TrackID,
		Key:         UnknownKey,
		KeyIndex:    -1,
		Status:      StatusFailed,
		Error:       err.Error(),
		ProcessedAt: at,
	}
}

func (r *Result) record() store.Record {
	return store.Record{
		MessageID:    r.MessageID,
		TrackID:      r.TrackID,
		KeyName:      r.Key,
		Mode:         r.Mode,
		KeyIndex:     r.KeyIndex,
		Confidence:   r.Confidence,
		Clarity:      r.Clarity,
		Status:       r.Status,
		Error:        r.Error,
		Chroma:       r.chroma,
		ChromaDigest: r.ChromaDigest,
		Estimates:    r.Estimates,
		ProcessedAt:  r.ProcessedAt,
	}
}

// Response is what Handle returns and the bus publishes
type Response struct {
	Status    string  `json:"status"` // "processed" or "duplicate"
	Timestamp float64 `json:"timestamp"`
	Result    *Result `json:"result,omitempty"`
}

func encodeResponse(status string, at time.Time, result *Result) ([]byte, error) {
	return json.Marshal(Response{
		Status:    status,
		Timestamp: float64(at.UnixMicro()) / 1e6,
		Result:    result,
	})
}
