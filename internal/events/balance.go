// Package events fans balance updates out to live subscribers and the history store.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
)

// BalanceBroadcaster fans out snapshot records to all subscribers via buffered channels.
type BalanceBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.BalanceSnapshotRecord]struct{}
	buffer int
}

// NewBalanceBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBalanceBroadcaster(buffer int) *BalanceBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &BalanceBroadcaster{
		subs:   make(map[chan domain.BalanceSnapshotRecord]struct{}),
		buffer: buffer,
	}
}

// Publish sends the record to all subscribers, dropping if a reader is slow.
func (b *BalanceBroadcaster) Publish(r domain.BalanceSnapshotRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives records until Unsubscribe is called.
func (b *BalanceBroadcaster) Subscribe() chan domain.BalanceSnapshotRecord {
	ch := make(chan domain.BalanceSnapshotRecord, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *BalanceBroadcaster) Unsubscribe(ch chan domain.BalanceSnapshotRecord) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Save(snapshot domain.BalanceSnapshot) (domain.BalanceSnapshotRecord, error)
}

// BalanceRecorder stores every observed balance and publishes the stored record.
type BalanceRecorder struct {
	store  SnapshotStore
	feed   *BalanceBroadcaster
	logger *zap.Logger
	now    func() time.Time
}

// NewBalanceRecorder creates a recorder writing to store and publishing to feed.
func NewBalanceRecorder(store SnapshotStore, feed *BalanceBroadcaster, logger *zap.Logger) *BalanceRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceRecorder{store: store, feed: feed, logger: logger, now: time.Now}
}

// Observe records b. Storage failures are logged and not published.
func (r *BalanceRecorder) Observe(b domain.Balance) {
	record, err := r.store.Save(domain.NewBalanceSnapshot(r.now(), b))
	if err != nil {
		r.logger.Error("failed to save balance snapshot", zap.Error(err))
		return
	}
	r.feed.Publish(record)
}
