// Package capture moves encoded audio from the real-time producer to the
// storage consumer without locks on the producer path.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

const (
	// DefaultChunkBytes is the write size most efficient for SD media.
	DefaultChunkBytes = 512
	// DefaultSizeBytes holds roughly 0.87 s of 16-bit stereo at 44.1 kHz.
	DefaultSizeBytes = 300 * DefaultChunkBytes
	// DefaultMaxBlockFrames bounds the producer scratch.
	DefaultMaxBlockFrames = 128
	// MaxChannels is the widest interleave accepted by Write.
	MaxChannels = 2
)

// ErrShortWrite is returned when the sink accepts fewer bytes than offered.
var ErrShortWrite = errors.New("capture: sink accepted a partial chunk")

// Config sizes a Buffer.
type Config struct {
	SizeBytes      int
	ChunkBytes     int
	MaxBlockFrames int
	Encoding       Encoding
}

// Stats is a snapshot of the buffer counters since the last Reset.
type Stats struct {
	Accepted     uint64 `json:"accepted_bytes"`
	Flushed      uint64 `json:"flushed_bytes"`
	Overruns     uint64 `json:"overruns"`
	DroppedBytes uint64 `json:"dropped_bytes"`
	Buffered     int    `json:"buffered_bytes"`
}

// Buffer is the capture ring plus its encoding and flush policy.
//
// Write belongs to the producer; ServiceFlush, Drain and Reset belong to the
// consumer. When a block does not fit, the whole block is dropped and counted
// so audio already queued is never disturbed.
type Buffer struct {
	prod  *Producer
	cons  *Consumer
	enc   Encoding
	chunk []byte // consumer scratch

	scratch []byte // producer scratch

	accepted atomic.Uint64
	flushed  atomic.Uint64
	overruns atomic.Uint64
	dropped  atomic.Uint64
}

// NewBuffer validates cfg, fills defaults, and preallocates all storage used
// by the producer path.
func NewBuffer(cfg Config, logger *slog.Logger) (*Buffer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SizeBytes == 0 {
		cfg.SizeBytes = DefaultSizeBytes
	}
	if cfg.ChunkBytes == 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.MaxBlockFrames == 0 {
		cfg.MaxBlockFrames = DefaultMaxBlockFrames
	}
	if cfg.Encoding == nil {
		cfg.Encoding = DefaultEncoding
	}
	if cfg.SizeBytes < 0 || cfg.ChunkBytes < 0 || cfg.MaxBlockFrames < 0 {
		return nil, fmt.Errorf("capture: sizes must be positive (size=%d chunk=%d block=%d)",
			cfg.SizeBytes, cfg.ChunkBytes, cfg.MaxBlockFrames)
	}
	if cfg.ChunkBytes > cfg.SizeBytes {
		return nil, fmt.Errorf("capture: chunk of %d bytes exceeds buffer of %d bytes", cfg.ChunkBytes, cfg.SizeBytes)
	}
	blockBytes := cfg.MaxBlockFrames * MaxChannels * cfg.Encoding.BytesPerSample()
	if blockBytes > cfg.SizeBytes {
		return nil, fmt.Errorf("capture: one block (%d bytes) does not fit in buffer of %d bytes", blockBytes, cfg.SizeBytes)
	}
	if cfg.SizeBytes%cfg.ChunkBytes != 0 {
		logger.Warn("Capture buffer size is not a multiple of the write chunk",
			"size_bytes", cfg.SizeBytes, "chunk_bytes", cfg.ChunkBytes)
	}

	prod, cons := NewRing(cfg.SizeBytes)
	return &Buffer{
		prod:    prod,
		cons:    cons,
		enc:     cfg.Encoding,
		chunk:   make([]byte, cfg.ChunkBytes),
		scratch: make([]byte, blockBytes),
	}, nil
}

// Encoding returns the sample encoding used by Write.
func (b *Buffer) Encoding() Encoding { return b.enc }

// ChunkBytes returns the size of each ServiceFlush write.
func (b *Buffer) ChunkBytes() int { return len(b.chunk) }

// Write interleaves the first channelCount blocks, encodes them and queues the
// result. It returns false if the block was dropped. Write never allocates
// and never blocks.
func (b *Buffer) Write(blocks [][]float32, channelCount int) bool {
	if channelCount < 1 || channelCount > MaxChannels || len(blocks) < channelCount {
		b.overruns.Add(1)
		if channelCount > 0 && len(blocks) > 0 {
			b.dropped.Add(uint64(len(blocks[0]) * channelCount * b.enc.BytesPerSample()))
		}
		return false
	}
	frames := len(blocks[0])
	for c := 1; c < channelCount; c++ {
		if len(blocks[c]) < frames {
			frames = len(blocks[c])
		}
	}
	bps := b.enc.BytesPerSample()
	need := frames * channelCount * bps
	if need == 0 {
		return true
	}
	if need > len(b.scratch) {
		b.overruns.Add(1)
		b.dropped.Add(uint64(need))
		return false
	}
	out := b.scratch[:need]
	pos := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < channelCount; c++ {
			b.enc.Put(out[pos:pos+bps], blocks[c][i])
			pos += bps
		}
	}
	if !b.prod.TryWrite(out) {
		b.overruns.Add(1)
		b.dropped.Add(uint64(need))
		return false
	}
	b.accepted.Add(uint64(need))
	return true
}

// ServiceFlush writes exactly one chunk to w when a full chunk is queued.
// It reports whether a write was issued.
func (b *Buffer) ServiceFlush(w io.Writer) (bool, error) {
	if b.cons.Buffered() < len(b.chunk) {
		return false, nil
	}
	n := b.cons.Read(b.chunk)
	if err := b.emit(w, b.chunk[:n]); err != nil {
		return true, err
	}
	return true, nil
}

// Drain writes every queued byte to w in chunk-sized pieces, ending with a
// possibly short tail. It returns the number of bytes written.
func (b *Buffer) Drain(w io.Writer) (int64, error) {
	var total int64
	for {
		n := b.cons.Read(b.chunk)
		if n == 0 {
			return total, nil
		}
		if err := b.emit(w, b.chunk[:n]); err != nil {
			return total, err
		}
		total += int64(n)
	}
}

func (b *Buffer) emit(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	b.flushed.Add(uint64(n))
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrShortWrite
	}
	return nil
}

// Reset discards queued audio and zeroes the counters. No Write may be in
// flight.
func (b *Buffer) Reset() {
	b.cons.Reset()
	b.accepted.Store(0)
	b.flushed.Store(0)
	b.overruns.Store(0)
	b.dropped.Store(0)
}

// Buffered reports the number of queued bytes.
func (b *Buffer) Buffered() int { return b.cons.Buffered() }

// Overruns reports the number of dropped blocks since Reset. Safe from any
// goroutine.
func (b *Buffer) Overruns() uint64 { return b.overruns.Load() }

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Accepted:     b.accepted.Load(),
		Flushed:      b.flushed.Load(),
		Overruns:     b.overruns.Load(),
		DroppedBytes: b.dropped.Load(),
		Buffered:     b.cons.Buffered(),
	}
}
