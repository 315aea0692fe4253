package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControls struct {
	snap  Snapshot
	calls int
}

func (f *fakeControls) ApplyGHA(g GHA)         { f.calls++; f.snap.GHA = g }
func (f *fakeControls) ApplyDSL(d DSL)         { f.calls++; f.snap.DSL = d }
func (f *fakeControls) ApplyAFC(a AFC)         { f.calls++; f.snap.AFC = a }
func (f *fakeControls) Snapshot() Snapshot     { return f.snap }
func (f *fakeControls) SetTelemetry(on bool)   { f.calls++; f.snap.Telemetry = on }
func (f *fakeControls) SetPlotting(on bool)    { f.calls++; f.snap.Plotting = on }
func (f *fakeControls) SelectPreset(p Preset)  { f.calls++; f.snap.Preset = p }
func (f *fakeControls) SetInputMix(m InputMix) { f.calls++; f.snap.InputMix = m }
func (f *fakeControls) StartSweep(s Sweep)     { f.calls++; f.snap.Sweep = s }

func (f *fakeControls) AdjustKnobGain(d float64) float64 {
	f.calls++
	f.snap.KnobGainDB += d
	return f.snap.KnobGainDB
}

func (f *fakeControls) AdjustBandGain(band int, d float64) (float64, error) {
	f.calls++
	if band >= int(f.snap.DSL.NumChannels) {
		return 0, fmt.Errorf("band %d not active", band+1)
	}
	f.snap.DSL.TKGain[band] += float32(d)
	return float64(f.snap.DSL.TKGain[band]), nil
}

func (f *fakeControls) ScaleHPCutoff(factor float64) float64 {
	f.calls++
	f.snap.HPCutoffHz *= factor
	return f.snap.HPCutoffHz
}

func (f *fakeControls) ToggleLevels() bool {
	f.calls++
	f.snap.Levels = !f.snap.Levels
	return f.snap.Levels
}

type fakeRecorder struct {
	recording bool
	startErr  error
}

func (r *fakeRecorder) Start() error {
	if r.startErr != nil {
		return r.startErr
	}
	r.recording = true
	return nil
}

func (r *fakeRecorder) Stop() error       { r.recording = false; return nil }
func (r *fakeRecorder) IsRecording() bool { return r.recording }

func newTestDispatcher() (*Dispatcher, *fakeControls, *fakeRecorder, *bytes.Buffer) {
	ctl := &fakeControls{snap: Snapshot{DSL: TestDSL, HPCutoffHz: 100}}
	rec := &fakeRecorder{}
	var out bytes.Buffer
	return NewDispatcher(ctl, rec, &out, 0, nil), ctl, rec, &out
}

func lines(b *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
}

func TestDispatchUnknownCommandChangesNothing(t *testing.T) {
	d, ctl, rec, out := newTestDispatcher()
	before := ctl.snap

	err := d.Dispatch('~')
	assert.ErrorIs(t, err, ErrUnrecognizedCommand)
	assert.Equal(t, before, ctl.snap)
	assert.Zero(t, ctl.calls)
	assert.False(t, rec.recording)
	assert.Equal(t, "Unrecognized command: 0x7E\n", out.String())
}

func TestDispatchIgnoresLineEndings(t *testing.T) {
	d, ctl, _, out := newTestDispatcher()
	require.NoError(t, d.Dispatch('\r'))
	require.NoError(t, d.Dispatch('\n'))
	assert.Zero(t, ctl.calls)
	assert.Zero(t, out.Len())
}

func TestDispatchButtonStates(t *testing.T) {
	tests := []struct {
		cmd  byte
		want []string
	}{
		{'c', []string{"STATE=BTN:cpuStart:1"}},
		{'C', []string{"STATE=BTN:cpuStart:0"}},
		{'D', []string{"STATE=BTN:alg_preset0:0", "STATE=BTN:alg_preset1:1"}},
		{'q', []string{"STATE=BTN:inp_stereo:0", "STATE=BTN:inp_mono:0", "STATE=BTN:inp_mute:1"}},
		{'s', []string{"STATE=BTN:inp_stereo:0", "STATE=BTN:inp_mono:1", "STATE=BTN:inp_mute:0"}},
		{'S', []string{"STATE=BTN:inp_stereo:1", "STATE=BTN:inp_mono:0", "STATE=BTN:inp_mute:0"}},
		{']', []string{"STATE=BTN:plotStart:1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			d, _, _, out := newTestDispatcher()
			require.NoError(t, d.Dispatch(tt.cmd))
			got := lines(out)
			assert.Equal(t, tt.want, got[1:])
		})
	}
}

func TestDispatchAppliesState(t *testing.T) {
	d, ctl, _, _ := newTestDispatcher()
	for _, c := range []byte("kkKDsA") {
		require.NoError(t, d.Dispatch(c))
	}
	assert.InDelta(t, 2.5, ctl.snap.KnobGainDB, 1e-9)
	assert.Equal(t, PresetB, ctl.snap.Preset)
	assert.Equal(t, InputMono, ctl.snap.InputMix)
	assert.Equal(t, SweepAmplitude, ctl.snap.Sweep)

	require.NoError(t, d.Dispatch('u'))
	assert.InDelta(t, 141.42, ctl.snap.HPCutoffHz, 0.01)
}

func TestDispatchBandGain(t *testing.T) {
	d, ctl, _, out := newTestDispatcher()
	require.NoError(t, d.Dispatch('2'))
	assert.Equal(t, float32(7.5), ctl.snap.DSL.TKGain[1])
	assert.Contains(t, out.String(), "TEXT=BTN:midGain:7.5\n")

	out.Reset()
	require.NoError(t, d.Dispatch('!'))
	assert.Equal(t, float32(-2.5), ctl.snap.DSL.TKGain[0])
	assert.Contains(t, out.String(), "TEXT=BTN:lowGain:-2.5\n")

	out.Reset()
	assert.Error(t, d.Dispatch('8'), "band 8 is not active with three bands")
	assert.Equal(t, float32(30), ctl.snap.DSL.TKGain[7])
}

func TestDispatchRecording(t *testing.T) {
	d, _, rec, out := newTestDispatcher()
	require.NoError(t, d.Dispatch('r'))
	assert.True(t, rec.recording)
	assert.Contains(t, out.String(), "STATE=BTN:recordStart:1\n")

	require.NoError(t, d.Dispatch('R'))
	assert.False(t, rec.recording)
	assert.Contains(t, out.String(), "STATE=BTN:recordStart:0\n")

	rec.startErr = errors.New("no card")
	out.Reset()
	assert.Error(t, d.Dispatch('r'))
	assert.Contains(t, out.String(), "ERROR: no card\n")
	assert.Contains(t, out.String(), "STATE=BTN:recordStart:0\n")

	noRec := NewDispatcher(&fakeControls{}, nil, out, 0, nil)
	assert.Error(t, noRec.Dispatch('r'))
}

func TestDispatchLayout(t *testing.T) {
	d, _, _, out := newTestDispatcher()
	require.NoError(t, d.Dispatch('J'))
	got := lines(out)
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0], `JSON={"pages":[`))
	assert.Contains(t, got[0], `"id":"recordStart"`)
	assert.Contains(t, got, "STATE=BTN:alg_preset0:1")
	assert.Contains(t, got, "TEXT=BTN:highGain:10.0")
	assert.True(t, strings.HasPrefix(got[len(got)-3], "PRESC=DSL:8:"))
	assert.True(t, strings.HasPrefix(got[len(got)-2], "PRESC=GHA:11:"))
	assert.True(t, strings.HasPrefix(got[len(got)-1], "PRESC=AFC:11:"))
}

func TestReports(t *testing.T) {
	assert.Equal(t,
		"PRESC=DSL:8:5.0000,300.0000,115.0000,0,3,"+
			"700.0000,2400.0000,10000.0000,"+
			"0.5700,0.5700,0.5700,"+
			"73.0000,50.0000,50.0000,"+
			"0.0000,5.0000,10.0000,"+
			"1.5000,1.5000,1.5000,"+
			"50.0000,50.0000,50.0000,"+
			"90.0000,90.0000,90.0000,8",
		DSLReport(TestDSL))

	assert.Equal(t,
		"PRESC=GHA:11:1.0000,2.0000,3.0000,4.0000,5.0000,6.0000,7.0000,8.0000,9.0000,10.0000,11",
		GHAReport(GHA{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))

	assert.Equal(t,
		"PRESC=AFC:11:1,100,0.0010,0.9000,0.0080,11",
		AFCReport(AFC{DefaultToActive: 1, FilterLength: 100, Mu: 0.001, Rho: 0.9, Eps: 0.008}))

	var buf bytes.Buffer
	require.NoError(t, WriteReports(&buf, Snapshot{DSL: TestDSL}))
	assert.Len(t, lines(&buf), 3)
}

func TestCodecHandle(t *testing.T) {
	ctl := &fakeControls{}
	var out bytes.Buffer
	c := NewCodec(ctl, &out, nil)

	payload, err := EncodePayload(GHA{Attack: 5})
	require.NoError(t, err)
	require.NoError(t, c.Handle(payload))
	assert.Equal(t, float32(5), ctl.snap.GHA.Attack)
	assert.Equal(t, "SUCCESS.\n", out.String())

	out.Reset()
	payload, err = EncodePayload(TestEcho{Int: 3, Float: 1.5})
	require.NoError(t, err)
	require.NoError(t, c.Handle(payload))
	assert.Equal(t, "int is 3\nfloat is 1.500000\nSUCCESS.\n", out.String())

	out.Reset()
	err = c.Handle([]byte("xyz\x03"))
	assert.ErrorIs(t, err, ErrUnknownStreamType)
	assert.True(t, strings.HasPrefix(out.String(), "ERROR: "))
	assert.Equal(t, 1, ctl.calls)
}
