// Package compression gzip-compresses JSON payloads and groups operations
// per session into batches (Batcher, batch.go), adapted from the teacher's
// compression.go. Batching is kept off the hot broadcast path, where it
// would break the per-peer FIFO ordering guarantee (spec §5); it is used
// only by the coordinator's archiver.
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Result carries the before/after sizes of one compression, mirroring
// the teacher's CompressionResult.
type Result struct {
	OriginalSize     int     `json:"original_size"`
	CompressedSize   int     `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
	CompressionTime  int64   `json:"compression_time_ns"`
}

// CompressJSON marshals data and gzip-compresses it.
func CompressJSON(data interface{}) ([]byte, *Result, error) {
	start := time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal json: %w", err)
	}
	originalSize := len(jsonData)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(jsonData); err != nil {
		return nil, nil, fmt.Errorf("compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, nil, fmt.Errorf("close compressor: %w", err)
	}

	compressed := buf.Bytes()
	result := &Result{
		OriginalSize:     originalSize,
		CompressedSize:   len(compressed),
		CompressionRatio: float64(len(compressed)) / float64(originalSize),
		CompressionTime:  time.Since(start).Nanoseconds(),
	}
	return compressed, result, nil
}

// DecompressJSON reverses CompressJSON into target.
func DecompressJSON(compressed []byte, target interface{}) error {
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	decompressed, err := io.ReadAll(gr)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if err := json.Unmarshal(decompressed, target); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}
