// Package journal persists the trade history in a WAL so it survives restarts.
package journal

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/investbot/internal/domain"
)

const (
	DefaultDir   = "./wal/trades"
	segmentLimit = 100
	maxSegments  = 10

	cycleKey   = "trade_cycle"
	outcomeKey = "trade_outcome"
)

// outcomeUpdate is the resolution of a previously journaled trade.
type outcomeUpdate struct {
	ID        string         `json:"id"`
	Outcome   domain.Outcome `json:"outcome"`
	Simulated bool           `json:"simulated"`
	Note      string         `json:"note,omitempty"`
}

// WALStore journals whole cycles and later outcome updates.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore opens or creates the journal in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "trades_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// AppendCycle writes the records of one cycle, in placement order, as a single entry.
func (s *WALStore) AppendCycle(records []domain.TradeRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "marshal trade cycle")
	}

	return s.write(cycleKey, payload)
}

// UpdateOutcome records the resolution of trade id.
func (s *WALStore) UpdateOutcome(id string, outcome domain.Outcome, simulated bool, note string) error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	if id == "" {
		return errors.New("trade id is required")
	}

	payload, err := json.Marshal(outcomeUpdate{ID: id, Outcome: outcome, Simulated: simulated, Note: note})
	if err != nil {
		return errors.Wrap(err, "marshal outcome update")
	}

	return s.write(outcomeKey, payload)
}

func (s *WALStore) write(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	return nil
}

// Load rebuilds the history newest cycle first, placement order within a cycle.
func (s *WALStore) Load() ([]domain.TradeRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		cycles  [][]domain.TradeRecord
		updates []outcomeUpdate
	)
	for msg := range s.wal.Iterator() {
		switch msg.Key {
		case cycleKey:
			var records []domain.TradeRecord
			if err := json.Unmarshal(msg.Value, &records); err != nil {
				return nil, errors.Wrap(err, "decode trade cycle")
			}
			cycles = append(cycles, records)
		case outcomeKey:
			var u outcomeUpdate
			if err := json.Unmarshal(msg.Value, &u); err != nil {
				return nil, errors.Wrap(err, "decode outcome update")
			}
			updates = append(updates, u)
		}
	}

	history := make([]domain.TradeRecord, 0, len(cycles)*4)
	for i := len(cycles) - 1; i >= 0; i-- {
		history = append(history, cycles[i]...)
	}

	byID := make(map[string]int, len(history))
	for i, r := range history {
		byID[r.ID] = i
	}
	for _, u := range updates {
		i, ok := byID[u.ID]
		if !ok {
			continue
		}
		history[i].Outcome = u.Outcome
		history[i].Simulated = history[i].Simulated || u.Simulated
		if u.Note != "" {
			history[i].Note = u.Note
		}
	}

	return history, nil
}

// Close flushes and closes the WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
