package capture

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Encoding converts float samples in [-1, 1] to little-endian PCM bytes.
type Encoding interface {
	Name() string
	BitDepth() int
	BytesPerSample() int
	// Put writes v into dst[:BytesPerSample()], clamping out-of-range input.
	Put(dst []byte, v float32)
	// Sample decodes one sample previously written by Put.
	Sample(src []byte) int
}

var (
	PCM16 Encoding = pcm16{}
	PCM24 Encoding = pcm24{}
	PCM32 Encoding = pcm32{}
)

// DefaultEncoding is used when no encoding is configured.
var DefaultEncoding = PCM16

// ParseEncoding resolves an encoding by its configured name.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pcm16", "int16":
		return PCM16, nil
	case "pcm24", "int24":
		return PCM24, nil
	case "pcm32", "int32":
		return PCM32, nil
	default:
		return nil, fmt.Errorf("unknown sample encoding %q (supported: pcm16, pcm24, pcm32)", name)
	}
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	case v != v: // NaN
		return 0
	}
	return v
}

type pcm16 struct{}

func (pcm16) Name() string        { return "pcm16" }
func (pcm16) BitDepth() int       { return 16 }
func (pcm16) BytesPerSample() int { return 2 }

func (pcm16) Put(dst []byte, v float32) {
	binary.LittleEndian.PutUint16(dst, uint16(int16(clamp(v)*32767)))
}

func (pcm16) Sample(src []byte) int {
	return int(int16(binary.LittleEndian.Uint16(src)))
}

type pcm24 struct{}

func (pcm24) Name() string        { return "pcm24" }
func (pcm24) BitDepth() int       { return 24 }
func (pcm24) BytesPerSample() int { return 3 }

func (pcm24) Put(dst []byte, v float32) {
	s := int32(float64(clamp(v)) * 8388607)
	dst[0] = byte(s)
	dst[1] = byte(s >> 8)
	dst[2] = byte(s >> 16)
}

func (pcm24) Sample(src []byte) int {
	s := int32(src[0]) | int32(src[1])<<8 | int32(src[2])<<16
	if s&0x800000 != 0 {
		s |= ^0xffffff
	}
	return int(s)
}

type pcm32 struct{}

func (pcm32) Name() string        { return "pcm32" }
func (pcm32) BitDepth() int       { return 32 }
func (pcm32) BytesPerSample() int { return 4 }

func (pcm32) Put(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, uint32(int32(float64(clamp(v))*2147483647)))
}

func (pcm32) Sample(src []byte) int {
	return int(int32(binary.LittleEndian.Uint32(src)))
}
