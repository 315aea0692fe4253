package storage

import (
	"errors"
	"fmt"
)

// MaxSequence is the highest number that fits the AUDIOnnn.WAV pattern.
const MaxSequence = 999

// ErrSequenceExhausted is returned once all auto names have been used.
var ErrSequenceExhausted = errors.New("recording sequence exhausted")

// DeriveName maps a sequence number onto the recording file name.
func DeriveName(n int) (string, error) {
	if n < 0 || n > MaxSequence {
		return "", fmt.Errorf("sequence number %d out of range 0-%d", n, MaxSequence)
	}
	return fmt.Sprintf("AUDIO%03d.WAV", n), nil
}

// Sequence hands out auto recording names. The counter is incremented before
// it is checked, so the first name is AUDIO001.WAV and once the counter
// passes MaxSequence every call fails until Reset.
type Sequence struct {
	n int
}

// Next advances the counter and returns the corresponding name.
func (s *Sequence) Next() (string, error) {
	if s.n <= MaxSequence {
		s.n++
	}
	if s.n > MaxSequence {
		return "", ErrSequenceExhausted
	}
	return DeriveName(s.n)
}

// Count returns how many names have been issued or attempted.
func (s *Sequence) Count() int { return s.n }

// Reset rewinds the counter to zero.
func (s *Sequence) Reset() { s.n = 0 }
