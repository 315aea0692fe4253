// Package dsp holds the hearing-aid tuning state that the remote control
// protocol reads and writes. It records what it is told; the audio transform
// itself runs elsewhere.
package dsp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/earcapture/internal/protocol"
)

const (
	MinHPCutoffHz     = 5.0
	MaxHPCutoffHz     = 8000.0
	DefaultHPCutoffHz = 40.0
)

// ErrBandInactive is returned when a band beyond the active count is addressed.
var ErrBandInactive = errors.New("band not active")

// PresetWDRC is the three-band compression prescription loaded as preset A.
var PresetWDRC = protocol.DSL{
	Attack:      5,
	Release:     300,
	NumChannels: 3,
	MaxdB:       115,
	CrossFreq:   [protocol.MaxBands]float32{700, 2400, 1e4, 1e4, 1e4, 1e4, 1e4, 1e4},
	ExpCR:       [protocol.MaxBands]float32{0.57, 0.57, 0.57, 1, 1, 1, 1, 1},
	ExpEndKnee:  [protocol.MaxBands]float32{45, 45, 33, 34, 34, 34, 34, 34},
	TKGain:      [protocol.MaxBands]float32{20, 25, 30, 30, 30, 30, 30, 30},
	CR:          [protocol.MaxBands]float32{1.5, 2, 2, 1.5, 1.5, 1.5, 1.5, 1.5},
	TK:          [protocol.MaxBands]float32{50, 45, 40, 50, 50, 50, 50, 50},
	Bolt:        [protocol.MaxBands]float32{90, 90, 90, 90, 90, 91, 92, 93},
}

// PresetLinear is preset B: the same bands with unity compression.
var PresetLinear = protocol.DSL{
	Attack:      5,
	Release:     300,
	NumChannels: 3,
	MaxdB:       115,
	CrossFreq:   [protocol.MaxBands]float32{700, 2400, 1e4, 1e4, 1e4, 1e4, 1e4, 1e4},
	ExpCR:       [protocol.MaxBands]float32{1, 1, 1, 1, 1, 1, 1, 1},
	ExpEndKnee:  [protocol.MaxBands]float32{34, 34, 34, 34, 34, 34, 34, 34},
	TKGain:      [protocol.MaxBands]float32{20, 20, 20, 20, 20, 20, 20, 20},
	CR:          [protocol.MaxBands]float32{1, 1, 1, 1, 1, 1, 1, 1},
	TK:          [protocol.MaxBands]float32{50, 50, 50, 50, 50, 50, 50, 50},
	Bolt:        [protocol.MaxBands]float32{90, 90, 90, 90, 90, 91, 92, 93},
}

// DefaultGHA is the broadband limiter applied after the filterbank.
var DefaultGHA = protocol.GHA{
	Attack:     1,
	Release:    50,
	SampleRate: 24000,
	MaxdB:      115,
	ExpCR:      1,
	ExpEndKnee: 0,
	TKGain:     0,
	TK:         115,
	CR:         1,
	Bolt:       98,
}

// DefaultAFC leaves feedback cancellation enabled with a 100-tap filter.
var DefaultAFC = protocol.AFC{
	DefaultToActive: 1,
	FilterLength:    100,
	Mu:              1e-5,
	Rho:             0.9,
	Eps:             0.008,
}

// State is the live tuning state. It is safe for concurrent use.
type State struct {
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	presets      [2]protocol.DSL
	snap         protocol.Snapshot
	sweepStarted time.Time
}

var _ protocol.Controls = (*State)(nil)

// New returns the power-on state: preset A, stereo input, telemetry off.
func New(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{
		logger:  logger,
		now:     time.Now,
		presets: [2]protocol.DSL{PresetWDRC, PresetLinear},
	}
	s.snap = protocol.Snapshot{
		Preset:     protocol.PresetA,
		InputMix:   protocol.InputStereo,
		HPCutoffHz: DefaultHPCutoffHz,
		DSL:        s.presets[protocol.PresetA],
		GHA:        DefaultGHA,
		AFC:        DefaultAFC,
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() protocol.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Telemetry reports whether periodic CPU and memory lines are wanted.
func (s *State) Telemetry() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Telemetry
}

// SweepStarted returns the running sweep and when it began.
func (s *State) SweepStarted() (protocol.Sweep, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Sweep, s.sweepStarted
}

// ApplyDSL replaces the per-band prescription of the active preset.
func (s *State) ApplyDSL(d protocol.DSL) {
	s.mu.Lock()
	s.snap.DSL = d
	p := s.snap.Preset
	s.presets[p] = d
	s.mu.Unlock()
	s.logger.Info("Per-band prescription updated", "bands", d.NumChannels, "preset", p.String())
}

// ApplyGHA replaces the broadband prescription.
func (s *State) ApplyGHA(g protocol.GHA) {
	s.mu.Lock()
	s.snap.GHA = g
	s.mu.Unlock()
	s.logger.Info("Broadband prescription updated", "attack_ms", g.Attack, "release_ms", g.Release)
}

// ApplyAFC replaces the feedback canceller settings.
func (s *State) ApplyAFC(a protocol.AFC) {
	s.mu.Lock()
	s.snap.AFC = a
	s.mu.Unlock()
	s.logger.Info("Feedback canceller updated", "active", a.DefaultToActive != 0, "taps", a.FilterLength)
}

func (s *State) AdjustKnobGain(deltaDB float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.KnobGainDB += deltaDB
	return s.snap.KnobGainDB
}

// AdjustBandGain raises the compression-start gain of one band of the
// active preset.
func (s *State) AdjustBandGain(band int, deltaDB float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := min(int(s.snap.DSL.NumChannels), protocol.MaxBands)
	if band < 0 || band >= active {
		return 0, fmt.Errorf("%w: band %d of %d", ErrBandInactive, band+1, active)
	}
	s.snap.DSL.TKGain[band] += float32(deltaDB)
	s.presets[s.snap.Preset] = s.snap.DSL
	return float64(s.snap.DSL.TKGain[band]), nil
}

// SelectPreset loads one of the stored per-band prescriptions.
func (s *State) SelectPreset(p protocol.Preset) {
	if p != protocol.PresetA && p != protocol.PresetB {
		return
	}
	s.mu.Lock()
	s.snap.Preset = p
	s.snap.DSL = s.presets[p]
	s.mu.Unlock()
	s.logger.Debug("Preset selected", "preset", p.String())
}

func (s *State) SetInputMix(m protocol.InputMix) {
	s.mu.Lock()
	s.snap.InputMix = m
	s.mu.Unlock()
}

// ScaleHPCutoff moves the input high-pass cutoff, keeping it within
// MinHPCutoffHz and MaxHPCutoffHz.
func (s *State) ScaleHPCutoff(factor float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.HPCutoffHz = min(max(s.snap.HPCutoffHz*factor, MinHPCutoffHz), MaxHPCutoffHz)
	return s.snap.HPCutoffHz
}

func (s *State) SetTelemetry(on bool) {
	s.mu.Lock()
	s.snap.Telemetry = on
	s.mu.Unlock()
}

func (s *State) SetPlotting(on bool) {
	s.mu.Lock()
	s.snap.Plotting = on
	s.mu.Unlock()
}

func (s *State) ToggleLevels() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Levels = !s.snap.Levels
	return s.snap.Levels
}

// StartSweep records that a measurement sweep was requested.
func (s *State) StartSweep(sw protocol.Sweep) {
	s.mu.Lock()
	s.snap.Sweep = sw
	s.sweepStarted = s.now()
	s.mu.Unlock()
	s.logger.Info("Sweep started", "sweep", sw.String())
}
