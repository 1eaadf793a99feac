package analyzer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/chroma"
	"github.com/RyanBlaney/harmonic-analyzer/algorithms/tonal"
	"github.com/RyanBlaney/harmonic-analyzer/logging"
	"github.com/RyanBlaney/harmonic-analyzer/store"
)

// ResultSaver persists results
type ResultSaver interface {
	Save(ctx context.Context, rec store.Record) error
}

// MessageLedger remembers which messages were already processed
type MessageLedger interface {
	Seen(messageID string) (bool, time.Time, error)
	Mark(messageID string, at time.Time) error
}

// Options tunes an Analyzer
type Options struct {
	TopEstimates  int     // Estimates kept per result
	LowConfidence float64 // Results below this are logged as warnings
	Now           func() time.Time
}

// Stats is a snapshot of the message counters
type Stats struct {
	Received   uint64
	Processed  uint64
	Failed     uint64 // Processed with the Unknown fallback
	Duplicates uint64
	Rejected   uint64 // Undecodable payloads
}

// Analyzer handles work items end to end. Safe for concurrent use.
type Analyzer struct {
	estimator *tonal.KeyEstimator
	source    ChromaSource
	results   ResultSaver
	ledger    MessageLedger
	logger    logging.Logger
	opts      Options

	received   atomic.Uint64
	processed  atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
}

// New creates an Analyzer. results and ledger may be nil.
func New(estimator *tonal.KeyEstimator, source ChromaSource, results ResultSaver, ledger MessageLedger, logger logging.Logger, opts Options) *Analyzer {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	if source == nil {
		source = MessageChromaSource{}
	}
	if opts.TopEstimates <= 0 || opts.TopEstimates > tonal.NumModes {
		opts.TopEstimates = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		estimator: estimator,
		source:    source,
		results:   results,
		ledger:    ledger,
		logger:    logger.WithFields(logging.Fields{"component": "analyzer"}),
		opts:      opts,
	}
}

// Handle processes one payload and returns the encoded Response. An error
// means the message was not recorded and may be retried.
func (a *Analyzer) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	a.received.Add(1)

	msg, err := DecodeMessage(payload)
	if err != nil {
		a.rejected.Add(1)
		a.logger.Warn("Rejected message", logging.Fields{"error": err.Error(), "bytes": len(payload)})
		return nil, err
	}

	logger := a.logger.WithFields(logging.Fields{"message_id": msg.MessageID, "track_id": msg.TrackID})

	if a.ledger != nil {
		seen, at, err := a.ledger.Seen(msg.MessageID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup %s: %w", msg.MessageID, err)
		}
		if seen {
			a.duplicates.Add(1)
			logger.Info("Skipping duplicate message", logging.Fields{"first_processed": humanize.Time(at)})
			return encodeResponse("duplicate", a.opts.Now(), nil)
		}
	}

	result, err := a.Analyze(ctx, msg)
	if err != nil {
		return nil, err
	}

	if a.results != nil {
		if err := a.results.Save(ctx, result.record()); err != nil {
			return nil, fmt.Errorf("save result %s: %w", msg.MessageID, err)
		}
	}
	if a.ledger != nil {
		// Unmarked messages are redelivered; the result row is overwritten
		if err := a.ledger.Mark(msg.MessageID, result.ProcessedAt); err != nil {
			return nil, fmt.Errorf("mark %s processed: %w", msg.MessageID, err)
		}
	}

	a.processed.Add(1)
	if result.Status == StatusFailed {
		a.failed.Add(1)
	}

	return encodeResponse("processed", a.opts.Now(), result)
}

// Analyze resolves chroma and estimates the key for msg. Estimation
// failures produce an Unknown result rather than an error; only
// cancellation is returned.
func (a *Analyzer) Analyze(ctx context.Context, msg *Message) (*Result, error) {
	logger := a.logger.WithFields(logging.Fields{"message_id": msg.MessageID, "track_id": msg.TrackID})

	values, err := a.source.Chroma(ctx, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error(err, "Failed to resolve chroma")
		return unknownResult(msg, err, a.opts.Now()), nil
	}

	digest := store.ChromaDigest(values)

	list, err := a.estimator.EstimateKey(values)
	if err != nil {
		logger.Error(err, "Key estimation failed")
		result := unknownResult(msg, err, a.opts.Now())
		result.ChromaDigest = digest
		result.chroma = values
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := list.Best()
	dominant := chroma.Dominant(values, 3)
	names := make([]string, len(dominant))
	for i, pc := range dominant {
		names[i] = pc.String()
	}

	result := &Result{
		MessageID:            msg.MessageID,
		TrackID:              msg.TrackID,
		Key:                  best.FullName,
		Mode:                 best.Mode.String(),
		DisplayMode:          best.DisplayMode,
		KeyIndex:             best.KeyIndex,
		Confidence:           best.Correlation,
		Clarity:              list.Clarity(),
		Estimates:            list.Top(a.opts.TopEstimates),
		DominantPitchClasses: names,
		ChromaDigest:         digest,
		Status:               StatusOK,
		ProcessedAt:          a.opts.Now(),
		chroma:               values,
	}

	fields := logging.Fields{
		"key":        result.Key,
		"confidence": fmt.Sprintf("%.4f", result.Confidence),
		"clarity":    fmt.Sprintf("%.4f", result.Clarity),
	}
	if result.Confidence < a.opts.LowConfidence {
		logger.Warn("Low confidence key estimate", fields)
	} else {
		logger.Info("Key estimated", fields)
	}

	return result, nil
}

// Stats returns the current counters
func (a *Analyzer) Stats() Stats {
	return Stats{
		Received:   a.received.Load(),
		Processed:  a.processed.Load(),
		Failed:     a.failed.Load(),
		Duplicates: a.duplicates.Load(),
		Rejected:   a.rejected.Load(),
	}
}

// LogStats writes the counters as one info line
func (a *Analyzer) LogStats() {
	s := a.Stats()
	a.logger.Info("Message stats", logging.Fields{
		"received":   humanize.Comma(int64(s.Received)),
		"processed":  humanize.Comma(int64(s.Processed)),
		"failed":     humanize.Comma(int64(s.Failed)),
		"duplicates": humanize.Comma(int64(s.Duplicates)),
		"rejected":   humanize.Comma(int64(s.Rejected)),
	})
}

// RunStats logs the counters every interval until ctx is done
func (a *Analyzer) RunStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.LogStats()
			return
		case <-ticker.C:
			a.LogStats()
		}
	}
}
