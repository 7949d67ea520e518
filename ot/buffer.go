package ot

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"realtimeedit/go-server/apperr"
)

// Buffer is the per-session operation buffer (C4): it owns the canonical
// content, the append-only history, and the local/remote application
// rules that guarantee convergence.
type Buffer struct {
	mu sync.Mutex

	content  string
	clientID string
	history  []Operation
	pending  []Operation
	vc       VectorClock
	stateHash string

	operationsProcessed  int64
	lastOperationTime    time.Time
	averageProcessingMs  float64
}

// NewBuffer creates a buffer seeded with initialContent for the named
// session. A session's buffer is shared by every connected user, so its
// vector clock tracks one counter per contributing client id rather than
// a single fixed identity.
func NewBuffer(initialContent, sessionID string) *Buffer {
	b := &Buffer{
		content:           initialContent,
		clientID:          sessionID,
		vc:                NewVectorClock(),
		lastOperationTime: time.Now(),
	}
	b.stateHash = b.calculateStateHash()
	return b
}

func (b *Buffer) calculateStateHash() string {
	contentSum := sha256.Sum256([]byte(b.content))
	var clockParts strings.Builder
	for _, k := range b.vc.sortedKeys() {
		clockParts.WriteString(k)
		clockParts.WriteByte(':')
	}
	clockSum := sha256.Sum256([]byte(clockParts.String()))
	combined := sha256.Sum256(append(contentSum[:], clockSum[:]...))
	return hex.EncodeToString(combined[:])[:16]
}

// ApplyLocal stamps op with the authoring client's id and the buffer's
// freshly incremented vector clock entry for that client, applies it, and
// appends it to history. This is the path every directly-submitted edit
// takes; ApplyRemote is for operations arriving pre-formed from elsewhere
// (e.g. inter-node replication) that must be transformed against pending
// local edits first.
func (b *Buffer) ApplyLocal(op Operation) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()

	clientID := op.ClientID
	if clientID == "" {
		clientID = b.clientID
	}
	b.vc.Increment(clientID)
	op = op.WithClient(clientID, b.vc.Clone())
	op.Checksum = op.generateChecksum()

	newContent, err := Apply(b.content, op)
	if err != nil {
		return "", err
	}
	b.content = newContent
	b.history = append(b.history, op)

	b.recordProcessing(start)
	b.stateHash = b.calculateStateHash()
	return b.content, nil
}

// ApplyRemote merges the incoming vector clock, transforms op against any
// unacknowledged local pending operations, then applies it.
func (b *Buffer) ApplyRemote(op Operation) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()

	if !op.Verify() {
		return "", apperr.New(apperr.Integrity, "remote operation integrity check failed: "+op.OpID)
	}

	b.vc = b.vc.Merge(op.VC)

	if len(b.pending) > 0 {
		transformedRemote, transformedPending := Transform([]Operation{op}, b.pending)
		op = transformedRemote[0]
		b.pending = transformedPending
	}

	newContent, err := Apply(b.content, op)
	if err != nil {
		return "", err
	}
	b.content = newContent
	b.history = append(b.history, op)

	b.recordProcessing(start)
	b.stateHash = b.calculateStateHash()
	return b.content, nil
}

// AddPending records a locally applied, not-yet-acknowledged operation so
// that future ApplyRemote calls transform against it.
func (b *Buffer) AddPending(op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, op)
}

// AckPending drops acknowledged operations from the pending queue by op id.
func (b *Buffer) AckPending(opID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending[:0]
	for _, p := range b.pending {
		if p.OpID != opID {
			out = append(out, p)
		}
	}
	b.pending = out
}

func (b *Buffer) recordProcessing(start time.Time) {
	elapsed := time.Since(start).Seconds()
	b.operationsProcessed++
	const alpha = 0.1
	b.averageProcessingMs = alpha*elapsed*1000 + (1-alpha)*b.averageProcessingMs
	b.lastOperationTime = time.Now()
}

// Content returns the current canonical text.
func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

// VectorClock returns a copy of the buffer's current vector clock.
func (b *Buffer) VectorClock() VectorClock {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vc.Clone()
}

// History returns a copy of the applied-operation log (append-only, so a
// read at any instant is a prefix of any later read).
func (b *Buffer) History() []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Operation, len(b.history))
	copy(out, b.history)
	return out
}

// HistorySince returns the history entries from index n onward, i.e. the
// ones recorded after the first n.
func (b *Buffer) HistorySince(n int) []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n >= len(b.history) {
		return nil
	}
	out := make([]Operation, len(b.history)-n)
	copy(out, b.history[n:])
	return out
}

// LastOperationTime reports when the buffer last applied an operation, for
// the coordinator's retention-cleanup sweep.
func (b *Buffer) LastOperationTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOperationTime
}

// PerformanceMetrics is the snapshot surfaced by get_metrics / text_change.
type PerformanceMetrics struct {
	OperationsProcessed   int64   `json:"operations_processed"`
	AverageProcessingMs   float64 `json:"average_processing_time_ms"`
	LastOperationTime     int64   `json:"last_operation_time"`
	ContentLength         int     `json:"content_length"`
	HistorySize           int     `json:"history_size"`
	PendingOperations     int     `json:"pending_operations"`
	StateHash             string  `json:"state_hash"`
}

// Metrics returns the buffer's current performance snapshot.
func (b *Buffer) Metrics() PerformanceMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return PerformanceMetrics{
		OperationsProcessed: b.operationsProcessed,
		AverageProcessingMs: b.averageProcessingMs,
		LastOperationTime:   b.lastOperationTime.Unix(),
		ContentLength:       len([]rune(b.content)),
		HistorySize:         len(b.history),
		PendingOperations:   len(b.pending),
		StateHash:           b.stateHash,
	}
}
