package tonal

import (
	"fmt"

	"github.com/RyanBlaney/harmonic-analyzer/logging"
)

// summaryDepth is how many ranked estimates the debug summary lists
const summaryDepth = 5

// KeyEstimator implements Krumhansl-Schmuckler key estimation over the seven
// diatonic modes. It holds no per-call state and is safe for concurrent use.
type KeyEstimator struct {
	table  *ModeProfileTable
	logger logging.Logger
}

// NewKeyEstimator creates a key estimator backed by the process-wide profile table
func NewKeyEstimator(logger logging.Logger) (*KeyEstimator, error) {
	table, err := DefaultModeProfileTable()
	if err != nil {
		return nil, err
	}
	return NewKeyEstimatorWithTable(table, logger), nil
}

// NewKeyEstimatorWithTable creates a key estimator over an explicit table
func NewKeyEstimatorWithTable(table *ModeProfileTable, logger logging.Logger) *KeyEstimator {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	return &KeyEstimator{
		table:  table,
		logger: logger.WithFields(logging.Fields{"component": "key_estimator"}),
	}
}

// EstimateKey ranks every mode's best tonic for a 12-bin chroma vector
func (ke *KeyEstimator) EstimateKey(chromaVector []float64) (*EstimateList, error) {
	normalized, err := NormalizeChroma(chromaVector)
	if err != nil {
		return nil, err
	}

	correlations, err := ke.table.CorrelateAll(normalized)
	if err != nil {
		return nil, err
	}

	list := RankEstimates(correlations)
	ke.logSummary(list)

	return list, nil
}

// Estimate returns the best guess name, its confidence and the full ranking
func (ke *KeyEstimator) Estimate(chromaVector []float64) (string, float64, *EstimateList, error) {
	list, err := ke.EstimateKey(chromaVector)
	if err != nil {
		return "", 0, nil, err
	}
	best := list.Best()
	return best.FullName, best.Correlation, list, nil
}

// Table returns the profile table used by the estimator
func (ke *KeyEstimator) Table() *ModeProfileTable {
	return ke.table
}

func (ke *KeyEstimator) logSummary(list *EstimateList) {
	top := list.Top(summaryDepth)
	ranked := make([]string, len(top))
	for i, e := range top {
		ranked[i] = fmt.Sprintf("%s: %.4f", e.FullName, e.Correlation)
	}

	major := list.ForMode(ModeIonian)
	minor := list.ForMode(ModeAeolian)
	best := list.Best()

	ke.logger.Debug("Key estimated", logging.Fields{
		"best":       best.FullName,
		"confidence": best.Correlation,
		"top":        ranked,
		"major":      fmt.Sprintf("%s (%.4f)", major.KeyName, major.Correlation),
		"minor":      fmt.Sprintf("%s (%.4f)", minor.KeyName, minor.Correlation),
	})
}
