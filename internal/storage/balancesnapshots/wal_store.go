// Package balancesnapshots keeps the balance history in a WAL for charts and live streams.
package balancesnapshots

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/investbot/internal/domain"
)

const (
	DefaultDir           = "./wal/balance"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 100
	snapshotKey          = "balance_snapshot"
)

// WALStore persists balance snapshots in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed snapshot store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init balance snapshot WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save writes the snapshot and returns the stored record.
func (s *WALStore) Save(snapshot domain.BalanceSnapshot) (domain.BalanceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return domain.BalanceSnapshotRecord{}, errors.New("balance snapshot store is not initialized")
	}
	if snapshot.Currency == "" {
		return domain.BalanceSnapshotRecord{}, errors.New("balance snapshot currency is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := domain.BalanceSnapshotRecord{Index: s.wal.CurrentIndex() + 1, Snapshot: snapshot}
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.BalanceSnapshotRecord{}, errors.Wrap(err, "marshal balance snapshot")
	}

	if err := s.wal.Write(record.Index, snapshotKey, payload); err != nil {
		return domain.BalanceSnapshotRecord{}, errors.Wrap(err, "write balance snapshot")
	}
	return record, nil
}

// SnapshotsAfter returns all balance snapshots written after the provided index, oldest first.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("balance snapshot store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var records []domain.BalanceSnapshotRecord
	for msg := range s.wal.Iterator() {
		if msg.Key != snapshotKey {
			continue
		}
		var record domain.BalanceSnapshotRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrap(err, "decode balance snapshot")
		}
		if record.Index > index {
			records = append(records, record)
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
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
