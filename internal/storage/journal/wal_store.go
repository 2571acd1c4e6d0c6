// Package journal persists an audit trail of consensus decisions and
// execution outcomes in a write-ahead log.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/journal"
	segmentLimit = 1000
	maxSegments  = 100

	decisionKeyPrefix  = "decision_"
	executionKeyPrefix = "execution_"
)

// RecordKind distinguishes journal entry types.
type RecordKind string

const (
	KindDecision  RecordKind = "decision"
	KindExecution RecordKind = "execution"
)

// DecisionEntry is the serialized form of a consensus outcome.
type DecisionEntry struct {
	DecisionID   string    `json:"decision_id"`
	Pair         string    `json:"pair"`
	Category     string    `json:"category"`
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`
	TargetPrice  string    `json:"target_price"`
	Contributors []string  `json:"contributors"`
	BuyScore     float64   `json:"buy_score"`
	SellScore    float64   `json:"sell_score"`
	HoldScore    float64   `json:"hold_score"`
	Forced       bool      `json:"forced,omitempty"`
	At           time.Time `json:"at"`
}

// ExecutionEntry is the serialized form of an execution outcome.
type ExecutionEntry struct {
	DecisionID string    `json:"decision_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Pair       string    `json:"pair"`
	Status     string    `json:"status"`
	FilledQty  string    `json:"filled_qty,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Record is a decoded journal entry with its WAL index.
type Record struct {
	Index uint64     `json:"index"`
	Kind  RecordKind `json:"kind"`
	Entry any        `json:"entry"`
}

// WALStore persists journal entries in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed journal.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// SaveDecision writes a consensus outcome to the journal.
func (s *WALStore) SaveDecision(entry DecisionEntry) error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}
	if entry.DecisionID == "" {
		return fmt.Errorf("decision id is required")
	}

	return s.write(decisionKeyPrefix+entry.DecisionID, entry)
}

// SaveExecution writes an execution outcome to the journal.
func (s *WALStore) SaveExecution(entry ExecutionEntry) error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}
	if entry.DecisionID == "" {
		return fmt.Errorf("decision id is required")
	}

	return s.write(executionKeyPrefix+entry.DecisionID, entry)
}

func (s *WALStore) write(key string, entry any) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal journal entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all journal records written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		if strings.HasPrefix(key, decisionKeyPrefix) {
			var entry DecisionEntry
			if err := json.Unmarshal(payload, &entry); err != nil {
				return nil, errors.Wrap(err, "decode decision entry")
			}
			records = append(records, Record{Index: idx, Kind: KindDecision, Entry: entry})
		} else if strings.HasPrefix(key, executionKeyPrefix) {
			var entry ExecutionEntry
			if err := json.Unmarshal(payload, &entry); err != nil {
				return nil, errors.Wrap(err, "decode execution entry")
			}
			records = append(records, Record{Index: idx, Kind: KindExecution, Entry: entry})
		}
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
