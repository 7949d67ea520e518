package compression

import (
	"sync"
	"time"

	"realtimeedit/go-server/ot"
)

// FlushFunc is called with a session's accumulated batch when it closes,
// either because it hit maxBatchSize or maxBatchAge elapsed.
type FlushFunc func(sessionID string, ops []ot.Operation)

// Batcher groups operations per session before they are compressed and
// archived, adapted from the teacher's MessageCompressor batching. It is
// deliberately not wired into the coordinator's broadcastExcept: spec §5
// requires FIFO-per-peer delivery of each operation as soon as ApplyLocal
// produces it, and batching there would reorder small messages relative
// to that immediate broadcast. Batcher instead groups operations for the
// coordinator's archiver, which compresses each flushed batch and logs its
// size; there delay is harmless.
type Batcher struct {
	mu            sync.Mutex
	batches       map[string][]ot.Operation
	opened        map[string]time.Time
	maxBatchSize  int
	maxBatchAge   time.Duration
	onFlush       FlushFunc
}

// NewBatcher creates a batcher that flushes a session's accumulated
// operations once it reaches maxBatchSize entries or maxBatchAge elapses
// since the batch opened, whichever comes first.
func NewBatcher(maxBatchSize int, maxBatchAge time.Duration, onFlush FlushFunc) *Batcher {
	return &Batcher{
		batches:      make(map[string][]ot.Operation),
		opened:       make(map[string]time.Time),
		maxBatchSize: maxBatchSize,
		maxBatchAge:  maxBatchAge,
		onFlush:      onFlush,
	}
}

// Add appends op to sessionID's open batch, flushing immediately if it
// reaches maxBatchSize.
func (b *Batcher) Add(sessionID string, op ot.Operation) {
	b.mu.Lock()
	if _, ok := b.opened[sessionID]; !ok {
		b.opened[sessionID] = time.Now()
	}
	b.batches[sessionID] = append(b.batches[sessionID], op)
	full := len(b.batches[sessionID]) >= b.maxBatchSize
	b.mu.Unlock()

	if full {
		b.Flush(sessionID)
	}
}

// Flush closes sessionID's open batch (if any) and invokes onFlush with it.
func (b *Batcher) Flush(sessionID string) {
	b.mu.Lock()
	ops := b.batches[sessionID]
	delete(b.batches, sessionID)
	delete(b.opened, sessionID)
	b.mu.Unlock()

	if len(ops) > 0 && b.onFlush != nil {
		b.onFlush(sessionID, ops)
	}
}

// SweepExpired flushes every open batch older than maxBatchAge. Intended
// to be called from a periodic ticker alongside cleanup sweeps elsewhere
// in the coordinator.
func (b *Batcher) SweepExpired() {
	b.mu.Lock()
	var expired []string
	now := time.Now()
	for sessionID, openedAt := range b.opened {
		if now.Sub(openedAt) >= b.maxBatchAge {
			expired = append(expired, sessionID)
		}
	}
	b.mu.Unlock()

	for _, sessionID := range expired {
		b.Flush(sessionID)
	}
}
