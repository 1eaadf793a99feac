package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	ledgerPrefix       = "m|"
	ledgerBatchCap     = 1024
	ledgerCacheBytes   = int64(8 << 20)
	ledgerValueVersion = 1
)

var (
	errLedgerClosed  = errors.New("store: ledger is closed")
	errInvalidLedger = errors.New("store: invalid ledger value")
)

// Ledger records processed message ids in Pebble so broker redeliveries
// are recognized across restarts
type Ledger struct {
	db    *pebble.DB
	cache *pebble.Cache

	mu     sync.RWMutex
	closed bool
}

// OpenLedger opens (or creates) the ledger directory at path
func OpenLedger(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: ledger path is empty")
	}
	cache := pebble.NewCache(ledgerCacheBytes)
	db, err := pebble.Open(path, &pebble.Options{Cache: cache})
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("store: ledger open: %w", err)
	}
	return &Ledger{db: db, cache: cache}, nil
}

// Close flushes and closes the ledger. Safe to call twice.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.db.Close()
	l.cache.Unref()
	return err
}

// Seen reports whether messageID was marked, and when
func (l *Ledger) Seen(messageID string) (bool, time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false, time.Time{}, errLedgerClosed
	}

	value, closer, err := l.db.Get(ledgerKey(messageID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("store: ledger get: %w", err)
	}
	defer closer.Close()

	at, err := decodeLedgerValue(value)
	if err != nil {
		return false, time.Time{}, err
	}
	return true, at, nil
}

// Mark records messageID as processed at the given time
func (l *Ledger) Mark(messageID string, at time.Time) error {
	if messageID == "" {
		return errors.New("store: empty message id")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return errLedgerClosed
	}
	if err := l.db.Set(ledgerKey(messageID), encodeLedgerValue(at), pebble.Sync); err != nil {
		return fmt.Errorf("store: ledger set: %w", err)
	}
	return nil
}

// Purge removes entries marked before cutoff and returns how many were removed
func (l *Ledger) Purge(cutoff time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, errLedgerClosed
	}

	lower := []byte(ledgerPrefix)
	upper := []byte(ledgerPrefix)
	upper[len(upper)-1]++

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("store: ledger purge iterator: %w", err)
	}
	defer iter.Close()

	batch := l.db.NewBatch()
	defer batch.Close()

	removed, pending := 0, 0
	for iter.First(); iter.Valid(); iter.Next() {
		at, err := decodeLedgerValue(iter.Value())
		if err != nil || !at.Before(cutoff) {
			continue
		}
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return removed, fmt.Errorf("store: ledger purge delete: %w", err)
		}
		pending++
		if pending >= ledgerBatchCap {
			if err := batch.Commit(pebble.Sync); err != nil {
				return removed, fmt.Errorf("store: ledger purge commit: %w", err)
			}
			batch.Reset()
			removed += pending
			pending = 0
		}
	}
	if err := iter.Error(); err != nil {
		return removed, fmt.Errorf("store: ledger purge iterate: %w", err)
	}
	if pending > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return removed, fmt.Errorf("store: ledger purge commit: %w", err)
		}
		removed += pending
	}
	return removed, nil
}

func ledgerKey(messageID string) []byte {
	return []byte(ledgerPrefix + messageID)
}

func encodeLedgerValue(at time.Time) []byte {
	buf := make([]byte, 9)
	buf[0] = ledgerValueVersion
	binary.BigEndian.PutUint64(buf[1:], uint64(at.UTC().UnixNano()))
	return buf
}

func decodeLedgerValue(value []byte) (time.Time, error) {
	if len(value) != 9 || value[0] != ledgerValueVersion {
		return time.Time{}, errInvalidLedger
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(value[1:]))).UTC(), nil
}
