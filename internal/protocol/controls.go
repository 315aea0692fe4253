package protocol

import "fmt"

// Preset selects one of the two stored per-band prescriptions.
type Preset int

const (
	PresetA Preset = iota
	PresetB
)

func (p Preset) String() string {
	switch p {
	case PresetA:
		return "A"
	case PresetB:
		return "B"
	}
	return fmt.Sprintf("Preset(%d)", int(p))
}

// MarshalText renders the preset for JSON status output.
func (p Preset) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Preset) UnmarshalText(b []byte) error {
	for _, v := range []Preset{PresetA, PresetB} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown preset %q", b)
}

// InputMix is the routing of the two microphones into the processing chain.
type InputMix int

const (
	InputStereo InputMix = iota
	InputMono
	InputMute
)

func (m InputMix) String() string {
	switch m {
	case InputStereo:
		return "stereo"
	case InputMono:
		return "mono"
	case InputMute:
		return "mute"
	}
	return fmt.Sprintf("InputMix(%d)", int(m))
}

func (m InputMix) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *InputMix) UnmarshalText(b []byte) error {
	for _, v := range []InputMix{InputStereo, InputMono, InputMute} {
		if v.String() == string(b) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("unknown input mix %q", b)
}

// Sweep is a built-in measurement routine.
type Sweep int

const (
	SweepNone Sweep = iota
	SweepAmplitude
	SweepFrequency
	SweepFilterbank
)

func (s Sweep) String() string {
	switch s {
	case SweepNone:
		return "none"
	case SweepAmplitude:
		return "amplitude"
	case SweepFrequency:
		return "frequency"
	case SweepFilterbank:
		return "filterbank"
	}
	return fmt.Sprintf("Sweep(%d)", int(s))
}

func (s Sweep) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Sweep) UnmarshalText(b []byte) error {
	for _, v := range []Sweep{SweepNone, SweepAmplitude, SweepFrequency, SweepFilterbank} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown sweep %q", b)
}

// Snapshot is a consistent copy of the tuning state.
type Snapshot struct {
	KnobGainDB float64  `json:"knob_gain_db"`
	Preset     Preset   `json:"preset"`
	InputMix   InputMix `json:"input_mix"`
	HPCutoffHz float64  `json:"hp_cutoff_hz"`
	Telemetry  bool     `json:"telemetry"`
	Plotting   bool     `json:"plotting"`
	Levels     bool     `json:"levels"`
	Sweep      Sweep    `json:"sweep"`
	DSL        DSL      `json:"dsl"`
	GHA        GHA      `json:"gha"`
	AFC        AFC      `json:"afc"`
}

// Controls is the device state the single-character commands act on.
type Controls interface {
	Tuner
	Snapshot() Snapshot
	AdjustKnobGain(deltaDB float64) float64
	// AdjustBandGain changes the compression-start gain of band and
	// returns the new value.
	AdjustBandGain(band int, deltaDB float64) (float64, error)
	SelectPreset(Preset)
	SetInputMix(InputMix)
	// ScaleHPCutoff multiplies the high-pass cutoff and returns the
	// clamped result.
	ScaleHPCutoff(factor float64) float64
	SetTelemetry(on bool)
	SetPlotting(on bool)
	ToggleLevels() bool
	StartSweep(Sweep)
}

// RecordControl starts and stops SD recording.
type RecordControl interface {
	Start() error
	Stop() error
	IsRecording() bool
}
