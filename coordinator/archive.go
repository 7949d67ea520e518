package coordinator

import (
	"log"
	"time"

	"realtimeedit/go-server/compression"
	"realtimeedit/go-server/ot"
	"realtimeedit/go-server/storage"
)

// snapshotEvery is how many applied operations elapse between full-content
// snapshots to S3, per SPEC_FULL.md §7.
const snapshotEvery = 50

// archiver pushes periodic document snapshots to S3 and groups applied
// operations into compressed batches whose sizes are logged, grounded on
// the teacher's storage/s3.go and compression.go. It is
// optional: a Hub with a nil archiver skips archival entirely, which is
// how tests and local runs without AWS credentials operate.
type archiver struct {
	s3      *storage.S3Client
	batcher *compression.Batcher
}

// newArchiver wires an archiver against an S3 client. Batches accumulate
// up to 200 operations or 30 seconds, whichever comes first, then are
// gzip-compressed and their sizes logged; the compressed bytes are not
// written to S3 or anywhere else.
func newArchiver(s3 *storage.S3Client) *archiver {
	a := &archiver{s3: s3}
	a.batcher = compression.NewBatcher(200, 30*time.Second, a.flushBatch)
	return a
}

func (a *archiver) flushBatch(sessionID string, ops []ot.Operation) {
	compressed, result, err := compression.CompressJSON(ops)
	if err != nil {
		log.Printf("archiver: compress batch for %s: %v", sessionID, err)
		return
	}
	log.Printf("archiver: session %s batch of %d ops compressed %d -> %d bytes (ratio %.2f)",
		sessionID, len(ops), result.OriginalSize, result.CompressedSize, result.CompressionRatio)
	_ = compressed // only the sizes above are kept; the bytes are dropped
}

// recordOperations feeds applied operations into the batcher and, every
// snapshotEvery operations, pushes a full-content snapshot.
func (a *archiver) recordOperations(sessionID string, ops []ot.Operation, content string, totalApplied int) {
	if a == nil {
		return
	}
	for _, op := range ops {
		a.batcher.Add(sessionID, op)
	}
	if a.s3 == nil {
		return
	}
	if totalApplied == 0 || totalApplied%snapshotEvery != 0 {
		return
	}
	if _, err := a.s3.SaveSnapshot(sessionID, int64(totalApplied), content); err != nil {
		log.Printf("archiver: snapshot session %s at v%d: %v", sessionID, totalApplied, err)
	}
}

// sweep flushes batches idle past their max age. Intended to run from the
// hub's cleanup ticker.
func (a *archiver) sweep() {
	if a == nil {
		return
	}
	a.batcher.SweepExpired()
}
