package dsp

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/earcapture/internal/protocol"
)

func TestNewState(t *testing.T) {
	s := New(nil)
	snap := s.Snapshot()
	assert.Equal(t, protocol.PresetA, snap.Preset)
	assert.Equal(t, protocol.InputStereo, snap.InputMix)
	assert.Equal(t, PresetWDRC, snap.DSL)
	assert.Equal(t, DefaultGHA, snap.GHA)
	assert.Equal(t, DefaultAFC, snap.AFC)
	assert.Equal(t, DefaultHPCutoffHz, snap.HPCutoffHz)
	assert.False(t, s.Telemetry())
}

func TestPresetsKeepTheirEdits(t *testing.T) {
	s := New(nil)
	g, err := s.AdjustBandGain(0, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 22.5, g, 1e-6)

	s.SelectPreset(protocol.PresetB)
	assert.Equal(t, PresetLinear, s.Snapshot().DSL)

	s.SelectPreset(protocol.PresetA)
	assert.Equal(t, float32(22.5), s.Snapshot().DSL.TKGain[0])

	s.SelectPreset(protocol.Preset(7))
	assert.Equal(t, protocol.PresetA, s.Snapshot().Preset)
}

func TestAdjustBandGainInactive(t *testing.T) {
	s := New(nil)
	_, err := s.AdjustBandGain(3, 2.5)
	assert.ErrorIs(t, err, ErrBandInactive)
	_, err = s.AdjustBandGain(-1, 2.5)
	assert.ErrorIs(t, err, ErrBandInactive)
	assert.Equal(t, PresetWDRC.TKGain, s.Snapshot().DSL.TKGain)
}

func TestApplyDSLUpdatesActivePreset(t *testing.T) {
	s := New(nil)
	s.SelectPreset(protocol.PresetB)
	s.ApplyDSL(protocol.TestDSL)
	assert.Equal(t, protocol.TestDSL, s.Snapshot().DSL)

	s.SelectPreset(protocol.PresetA)
	assert.Equal(t, PresetWDRC, s.Snapshot().DSL)
	s.SelectPreset(protocol.PresetB)
	assert.Equal(t, protocol.TestDSL, s.Snapshot().DSL)
}

func TestScaleHPCutoffClamps(t *testing.T) {
	s := New(nil)
	for i := 0; i < 40; i++ {
		s.ScaleHPCutoff(math.Sqrt2)
	}
	assert.Equal(t, MaxHPCutoffHz, s.Snapshot().HPCutoffHz)

	for i := 0; i < 80; i++ {
		s.ScaleHPCutoff(1 / math.Sqrt2)
	}
	assert.Equal(t, MinHPCutoffHz, s.Snapshot().HPCutoffHz)
}

func TestFlagsAndSweep(t *testing.T) {
	s := New(nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.SetTelemetry(true)
	s.SetPlotting(true)
	assert.True(t, s.ToggleLevels())
	assert.False(t, s.ToggleLevels())
	s.SetInputMix(protocol.InputMute)
	s.StartSweep(protocol.SweepFilterbank)

	snap := s.Snapshot()
	assert.True(t, snap.Telemetry)
	assert.True(t, snap.Plotting)
	assert.False(t, snap.Levels)
	assert.Equal(t, protocol.InputMute, snap.InputMix)

	sw, at := s.SweepStarted()
	assert.Equal(t, protocol.SweepFilterbank, sw)
	assert.Equal(t, fixed, at)
}

func TestStateConcurrentAccess(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AdjustKnobGain(0.5)
			s.ApplyGHA(DefaultGHA)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Snapshot()
		}
	}()
	wg.Wait()
	assert.InDelta(t, 100, s.Snapshot().KnobGainDB, 1e-9)
}
