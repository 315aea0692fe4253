// Package link carries the remote-control byte stream between a transport
// (stdio or TCP) and the device loop.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// DefaultRxBytes is the receive queue size used when none is configured.
const DefaultRxBytes = 4096

// Link queues received bytes for the device loop and routes responses to
// the currently connected peer.
type Link struct {
	logger *slog.Logger
	rx     *ringbuffer.RingBuffer
	ready  chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64

	mu  sync.Mutex
	out io.Writer
}

// New returns a link with an rxBytes receive queue.
func New(rxBytes int, logger *slog.Logger) *Link {
	if rxBytes <= 0 {
		rxBytes = DefaultRxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		logger: logger,
		rx:     ringbuffer.New(rxBytes),
		ready:  make(chan struct{}, 1),
	}
}

// Ready is signalled after new bytes are queued.
func (l *Link) Ready() <-chan struct{} { return l.ready }

// Buffered returns the number of queued bytes.
func (l *Link) Buffered() int { return l.rx.Length() }

// Received returns the total bytes accepted into the queue.
func (l *Link) Received() uint64 { return l.received.Load() }

// Dropped returns the bytes discarded because the queue was full.
func (l *Link) Dropped() uint64 { return l.dropped.Load() }

// ReadAvailable copies queued bytes into p without blocking.
func (l *Link) ReadAvailable(p []byte) int {
	n, err := l.rx.Read(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		l.logger.Debug("Receive queue read failed", "error", err)
	}
	return n
}

// Deliver queues bytes as if they had arrived from the peer.
func (l *Link) Deliver(p []byte) int {
	n, err := l.rx.Write(p)
	if n > 0 {
		l.received.Add(uint64(n))
		select {
		case l.ready <- struct{}{}:
		default:
		}
	}
	if n < len(p) {
		l.dropped.Add(uint64(len(p) - n))
		l.logger.Warn("Receive queue full, dropping bytes", "dropped", len(p)-n, "error", err)
	}
	return n
}

// Attach routes responses to w. A nil w discards them.
func (l *Link) Attach(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// Write sends p to the attached peer. With no peer attached the bytes are
// discarded and no error is reported.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return len(p), nil
	}
	n, err := l.out.Write(p)
	if err != nil {
		return n, fmt.Errorf("link write: %w", err)
	}
	return n, nil
}

// Pump copies r into the receive queue until r is exhausted or ctx is
// done. If r is an io.Closer it is closed when ctx is cancelled so that a
// blocked read returns.
func (l *Link) Pump(ctx context.Context, r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			l.Deliver(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("link read: %w", err)
		}
	}
}
