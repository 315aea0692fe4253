package storage

import (
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
)

// Header is what ReadHeader recovers from a recording.
type Header struct {
	Format
	DataBytes int64         `json:"data_bytes"`
	Duration  time.Duration `json:"duration"`
}

// ReadHeader parses the container header of r and locates the data chunk.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	d := wav.NewDecoder(r)
	if err := d.FwdToPCM(); err != nil {
		return Header{}, fmt.Errorf("locate PCM data: %w", err)
	}
	if err := d.Err(); err != nil {
		return Header{}, fmt.Errorf("read WAV header: %w", err)
	}
	h := Header{
		Format: Format{
			Channels:   int(d.NumChans),
			SampleRate: int(d.SampleRate),
			BitDepth:   int(d.BitDepth),
		},
		DataBytes: d.PCMLen(),
	}
	if fb := h.FrameBytes(); fb > 0 && h.SampleRate > 0 {
		frames := h.DataBytes / int64(fb)
		h.Duration = time.Duration(frames) * time.Second / time.Duration(h.SampleRate)
	}
	return h, nil
}
