package capture

import "sync/atomic"

// ring is a single-producer/single-consumer byte queue. The write cursor is
// advanced only by the Producer and the read cursor only by the Consumer.
// Both cursors grow monotonically; positions are taken modulo size.
type ring struct {
	buf   []byte
	size  uint64
	write atomic.Uint64
	read  atomic.Uint64
}

// Producer is the write side of a ring. It must be used from one goroutine.
type Producer struct {
	r *ring
}

// Consumer is the read side of a ring. It must be used from one goroutine.
type Consumer struct {
	r *ring
}

// NewRing allocates a ring of size bytes and returns its two halves.
func NewRing(size int) (*Producer, *Consumer) {
	if size <= 0 {
		panic("capture: ring size must be positive")
	}
	r := &ring{buf: make([]byte, size), size: uint64(size)}
	return &Producer{r: r}, &Consumer{r: r}
}

// Free reports how many bytes can be written without overrunning the reader.
func (p *Producer) Free() int {
	w := p.r.write.Load()
	rd := p.r.read.Load()
	return int(p.r.size - (w - rd))
}

// TryWrite copies b into the ring if it fits in full. Partial writes never
// happen: either all of b is queued or nothing is.
func (p *Producer) TryWrite(b []byte) bool {
	n := uint64(len(b))
	w := p.r.write.Load()
	rd := p.r.read.Load()
	if n > p.r.size-(w-rd) {
		return false
	}
	off := w % p.r.size
	first := copy(p.r.buf[off:], b)
	if first < len(b) {
		copy(p.r.buf, b[first:])
	}
	p.r.write.Store(w + n)
	return true
}

// Buffered reports how many bytes are waiting to be read.
func (c *Consumer) Buffered() int {
	return int(c.r.write.Load() - c.r.read.Load())
}

// Read copies up to len(p) buffered bytes into p and advances the read
// cursor past them.
func (c *Consumer) Read(p []byte) int {
	rd := c.r.read.Load()
	avail := c.r.write.Load() - rd
	n := uint64(len(p))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	off := rd % c.r.size
	first := copy(p[:n], c.r.buf[off:])
	if uint64(first) < n {
		copy(p[first:n], c.r.buf)
	}
	c.r.read.Store(rd + n)
	return int(n)
}

// Reset empties the ring. The caller must guarantee that no TryWrite is in
// flight.
func (c *Consumer) Reset() {
	c.r.read.Store(0)
	c.r.write.Store(0)
}

// Cap returns the ring capacity in bytes.
func (c *Consumer) Cap() int {
	return int(c.r.size)
}
