package audio

import (
	"context"
	"math"
	"time"
)

// SampleBlock is one channel's worth of float samples for a single tick.
type SampleBlock = []float32

// BlockFunc receives one block per channel. The slices are reused on the
// next tick and must not be retained.
type BlockFunc func(blocks []SampleBlock)

// Source produces fixed-size sample blocks at the real-time rate.
type Source interface {
	Name() string
	SampleRate() int
	Channels() int
	BlockSize() int
	// Run calls fn once per tick until ctx is done.
	Run(ctx context.Context, fn BlockFunc) error
}

// ToneSource generates a sine per channel, the right channel a fifth above
// the left.
type ToneSource struct {
	sampleRate int
	channels   int
	blockSize  int
	freq       float64
	amplitude  float64

	phase  []float64
	blocks []SampleBlock
}

// NewToneSource returns a tone generator. freq is the left channel pitch.
func NewToneSource(sampleRate, channels, blockSize int, freq, amplitude float64) *ToneSource {
	s := &ToneSource{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		freq:       freq,
		amplitude:  amplitude,
		phase:      make([]float64, channels),
		blocks:     make([]SampleBlock, channels),
	}
	for c := range s.blocks {
		s.blocks[c] = make(SampleBlock, blockSize)
	}
	return s
}

func (s *ToneSource) Name() string    { return "tone" }
func (s *ToneSource) SampleRate() int { return s.sampleRate }
func (s *ToneSource) Channels() int   { return s.channels }
func (s *ToneSource) BlockSize() int  { return s.blockSize }

// Fill renders the next block of every channel.
func (s *ToneSource) Fill() []SampleBlock {
	for c, block := range s.blocks {
		f := s.freq * math.Pow(1.5, float64(c))
		step := 2 * math.Pi * f / float64(s.sampleRate)
		ph := s.phase[c]
		for i := range block {
			block[i] = float32(s.amplitude * math.Sin(ph))
			ph += step
		}
		s.phase[c] = math.Mod(ph, 2*math.Pi)
	}
	return s.blocks
}

func (s *ToneSource) Run(ctx context.Context, fn BlockFunc) error {
	return runTicker(ctx, s.sampleRate, s.blockSize, func() { fn(s.Fill()) })
}

// SilenceSource emits zeroed blocks.
type SilenceSource struct {
	sampleRate int
	blockSize  int
	blocks     []SampleBlock
}

func NewSilenceSource(sampleRate, channels, blockSize int) *SilenceSource {
	s := &SilenceSource{sampleRate: sampleRate, blockSize: blockSize, blocks: make([]SampleBlock, channels)}
	for c := range s.blocks {
		s.blocks[c] = make(SampleBlock, blockSize)
	}
	return s
}

func (s *SilenceSource) Name() string    { return "silence" }
func (s *SilenceSource) SampleRate() int { return s.sampleRate }
func (s *SilenceSource) Channels() int   { return len(s.blocks) }
func (s *SilenceSource) BlockSize() int  { return s.blockSize }

func (s *SilenceSource) Run(ctx context.Context, fn BlockFunc) error {
	return runTicker(ctx, s.sampleRate, s.blockSize, func() { fn(s.blocks) })
}

// BlockPeriod is the wall-clock duration of one block.
func BlockPeriod(sampleRate, blockSize int) time.Duration {
	return time.Duration(blockSize) * time.Second / time.Duration(sampleRate)
}

func runTicker(ctx context.Context, sampleRate, blockSize int, tick func()) error {
	ticker := time.NewTicker(BlockPeriod(sampleRate, blockSize))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}
