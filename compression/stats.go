package compression

import (
	"sync"
	"time"
)

// Stats accumulates compression telemetry across all publish calls.
type Stats struct {
	mu sync.Mutex

	totalMessages      uint64
	compressedMessages uint64
	skippedMessages    uint64
	originalBytes      uint64
	compressedBytes    uint64
	compressDuration   time.Duration
	decompressDuration time.Duration
}

// NewStats returns a zeroed accumulator.
func NewStats() *Stats { return &Stats{} }

// RecordSkipped records a message that bypassed compression (below
// MinimumSize, in SkipTypes, or compression disabled).
func (s *Stats) RecordSkipped(originalSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages++
	s.skippedMessages++
	s.originalBytes += uint64(originalSize)
}

// RecordCompressed records a successful compression with its timing.
func (s *Stats) RecordCompressed(originalSize, compressedSize int, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages++
	s.compressedMessages++
	s.originalBytes += uint64(originalSize)
	s.compressedBytes += uint64(compressedSize)
	s.compressDuration += took
}

// RecordDecompress records a decompression's timing.
func (s *Stats) RecordDecompress(took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decompressDuration += took
}

// Snapshot is the derived-field view of Stats; every derived field
// returns 0 when its denominator is 0.
type Snapshot struct {
	TotalMessages           uint64
	CompressedMessages      uint64
	SkippedMessages         uint64
	OriginalBytes           uint64
	CompressedBytes         uint64
	AverageCompressionRatio float64
	BytesSaved              int64
	CompressionRate         float64
	AverageCompressTime     time.Duration
	AverageDecompressTime   time.Duration
}

// Snapshot computes the current derived metrics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalMessages:      s.totalMessages,
		CompressedMessages: s.compressedMessages,
		SkippedMessages:    s.skippedMessages,
		OriginalBytes:      s.originalBytes,
		CompressedBytes:    s.compressedBytes,
		BytesSaved:         int64(s.originalBytes) - int64(s.compressedBytes),
	}

	if s.originalBytes > 0 {
		snap.AverageCompressionRatio = float64(s.compressedBytes) / float64(s.originalBytes)
	}
	if s.totalMessages > 0 {
		snap.CompressionRate = float64(s.compressedMessages) / float64(s.totalMessages)
	}
	if s.compressedMessages > 0 {
		snap.AverageCompressTime = s.compressDuration / time.Duration(s.compressedMessages)
		snap.AverageDecompressTime = s.decompressDuration / time.Duration(s.compressedMessages)
	}

	return snap
}
