package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// DefaultGainStepDB is the knob and per-band gain increment.
const DefaultGainStepDB = 2.5

// ErrUnrecognizedCommand is returned for a byte with no command bound to it.
var ErrUnrecognizedCommand = errors.New("unrecognized command")

const (
	bandUpKeys   = "12345678"
	bandDownKeys = "!@#$%^&*"
)

// TestDSL is the prescription reported by the 'b' command.
var TestDSL = DSL{
	Attack:      5,
	Release:     300,
	NumChannels: 3,
	MaxdB:       115,
	Ear:         0,
	CrossFreq:   [MaxBands]float32{700, 2400, 1e4, 1e4, 1e4, 1e4, 1e4, 1e4},
	ExpCR:       [MaxBands]float32{0.57, 0.57, 0.57, 1, 1, 1, 1, 1},
	ExpEndKnee:  [MaxBands]float32{73, 50, 50, 34, 34, 34, 34, 34},
	TKGain:      [MaxBands]float32{0, 5, 10, 30, 30, 30, 30, 30},
	CR:          [MaxBands]float32{1.5, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5},
	TK:          [MaxBands]float32{50, 50, 50, 50, 50, 50, 50, 50},
	Bolt:        [MaxBands]float32{90, 90, 90, 90, 90, 91, 92, 93},
}

// Dispatcher executes single-character commands against the device state.
type Dispatcher struct {
	controls Controls
	recorder RecordControl
	out      io.Writer
	stepDB   float64
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher writing responses to out. recorder
// may be nil when the device has no storage.
func NewDispatcher(controls Controls, recorder RecordControl, out io.Writer, stepDB float64, logger *slog.Logger) *Dispatcher {
	if stepDB <= 0 {
		stepDB = DefaultGainStepDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{controls: controls, recorder: recorder, out: out, stepDB: stepDB, logger: logger}
}

// Dispatch runs the command bound to c.
func (d *Dispatcher) Dispatch(c byte) error {
	w := newLineWriter(d.out)
	if err := d.dispatch(w, c); err != nil {
		return err
	}
	return w.err
}

func (d *Dispatcher) dispatch(w *lineWriter, c byte) error {
	switch c {
	case '\r', '\n':
		return nil
	case 'h', '?':
		d.writeHelp(w)
	case 'g', 'G':
		d.writeGains(w, d.controls.Snapshot())
	case 'k':
		w.printf("Received: Knob gain now %.1f dB", d.controls.AdjustKnobGain(d.stepDB))
	case 'K':
		w.printf("Received: Knob gain now %.1f dB", d.controls.AdjustKnobGain(-d.stepDB))
	case 'c':
		w.println("Received: start CPU reporting")
		d.controls.SetTelemetry(true)
		w.println(StateLine(ButtonCPU, true))
	case 'C':
		w.println("Received: stop CPU reporting")
		d.controls.SetTelemetry(false)
		w.println(StateLine(ButtonCPU, false))
	case ']':
		w.println("Received: start plotting")
		d.controls.SetPlotting(true)
		w.println(StateLine(ButtonPlot, true))
	case '}':
		w.println("Received: stop plotting")
		d.controls.SetPlotting(false)
		w.println(StateLine(ButtonPlot, false))
	case 'l', 'L':
		on := d.controls.ToggleLevels()
		w.printf("Received: per-band level printing %s", onOff(on))
	case 'd':
		w.println("Received: switch to WDRC Preset A")
		d.controls.SelectPreset(PresetA)
		writePresetState(w, PresetA)
	case 'D':
		w.println("Received: switch to WDRC Preset B")
		d.controls.SelectPreset(PresetB)
		writePresetState(w, PresetB)
	case 'q':
		w.println("Received: mute audio")
		d.controls.SetInputMix(InputMute)
		writeMixState(w, InputMute)
	case 'Q', 'S':
		w.println("Received: stereo audio")
		d.controls.SetInputMix(InputStereo)
		writeMixState(w, InputStereo)
	case 's':
		w.println("Received: mono audio")
		d.controls.SetInputMix(InputMono)
		writeMixState(w, InputMono)
	case 'u':
		w.printf("Received: HP cutoff now %.1f Hz", d.controls.ScaleHPCutoff(math.Sqrt2))
	case 'U':
		w.printf("Received: HP cutoff now %.1f Hz", d.controls.ScaleHPCutoff(1/math.Sqrt2))
	case 'b':
		w.println("Received: sending test DSL prescription")
		w.println(DSLReport(TestDSL))
	case 'A':
		w.println("Received: starting amplitude sweep")
		d.controls.StartSweep(SweepAmplitude)
	case 'F':
		w.println("Received: starting end-to-end frequency sweep")
		d.controls.StartSweep(SweepFrequency)
	case 'f':
		w.println("Received: starting filterbank frequency sweep")
		d.controls.StartSweep(SweepFilterbank)
	case 'J', 'j':
		d.writeGUI(w)
	case 'r':
		return d.startRecording(w)
	case 'R':
		return d.stopRecording(w)
	default:
		if i := strings.IndexByte(bandUpKeys, c); i >= 0 {
			return d.adjustBand(w, i, d.stepDB)
		}
		if i := strings.IndexByte(bandDownKeys, c); i >= 0 {
			return d.adjustBand(w, i, -d.stepDB)
		}
		w.printf("Unrecognized command: 0x%02X", c)
		return fmt.Errorf("%w: 0x%02X", ErrUnrecognizedCommand, c)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (d *Dispatcher) adjustBand(w *lineWriter, band int, deltaDB float64) error {
	gain, err := d.controls.AdjustBandGain(band, deltaDB)
	if err != nil {
		w.printf("ERROR: %v", err)
		return err
	}
	w.printf("Received: band %d gain now %.1f dB", band+1, gain)
	if id := BandButton(band); id != "" {
		w.println(TextLine(id, strconv.FormatFloat(gain, 'f', 1, 64)))
	}
	return nil
}

func (d *Dispatcher) startRecording(w *lineWriter) error {
	if d.recorder == nil {
		w.println("ERROR: recording unavailable")
		return fmt.Errorf("%w: no recorder", ErrUnrecognizedCommand)
	}
	w.println("Received: start SD recording")
	if err := d.recorder.Start(); err != nil {
		d.logger.Warn("Recording did not start", "error", err)
		w.printf("ERROR: %v", err)
		w.println(StateLine(ButtonRecord, d.recorder.IsRecording()))
		return err
	}
	w.println(StateLine(ButtonRecord, true))
	return nil
}

func (d *Dispatcher) stopRecording(w *lineWriter) error {
	if d.recorder == nil {
		w.println("ERROR: recording unavailable")
		return fmt.Errorf("%w: no recorder", ErrUnrecognizedCommand)
	}
	w.println("Received: stop SD recording")
	err := d.recorder.Stop()
	if err != nil {
		w.printf("ERROR: %v", err)
	}
	w.println(StateLine(ButtonRecord, false))
	return err
}

func writePresetState(w *lineWriter, p Preset) {
	w.println(StateLine(ButtonPresetA, p == PresetA))
	w.println(StateLine(ButtonPresetB, p == PresetB))
}

func writeMixState(w *lineWriter, m InputMix) {
	w.println(StateLine(ButtonStereo, m == InputStereo))
	w.println(StateLine(ButtonMono, m == InputMono))
	w.println(StateLine(ButtonMute, m == InputMute))
}

func (d *Dispatcher) writeGUI(w *lineWriter) {
	s := d.controls.Snapshot()
	w.println(LayoutLine())
	writePresetState(w, s.Preset)
	writeMixState(w, s.InputMix)
	w.println(StateLine(ButtonCPU, s.Telemetry))
	w.println(StateLine(ButtonPlot, s.Plotting))
	w.println(StateLine(ButtonRecord, d.recorder != nil && d.recorder.IsRecording()))
	for band, id := range bandButtons {
		w.println(TextLine(id, strconv.FormatFloat(float64(s.DSL.TKGain[band]), 'f', 1, 32)))
	}
	w.println(DSLReport(s.DSL))
	w.println(GHAReport(s.GHA))
	w.println(AFCReport(s.AFC))
}

func (d *Dispatcher) writeGains(w *lineWriter, s Snapshot) {
	w.println("Gain settings:")
	w.printf("  Knob gain: %.1f dB", s.KnobGainDB)
	w.printf("  Preset: %s, input: %s, HP cutoff: %.1f Hz", s.Preset, s.InputMix, s.HPCutoffHz)
	n := max(0, min(int(s.DSL.NumChannels), MaxBands))
	for i := 0; i < n; i++ {
		w.printf("  Band %d: cross %.0f Hz, gain %.1f dB, CR %.2f", i+1, s.DSL.CrossFreq[i], s.DSL.TKGain[i], s.DSL.CR[i])
	}
}

func (d *Dispatcher) writeHelp(w *lineWriter) {
	step := strconv.FormatFloat(d.stepDB, 'f', 1, 64)
	w.println("Available commands:")
	w.println("   h: Print this help")
	w.println("   g: Print the gain settings of the device")
	w.println("   c/C: Enable/disable printing of CPU and memory")
	w.println("   l/L: Toggle printing of per-band signal levels")
	w.println("   A: Amplitude sweep, end-to-end")
	w.println("   F: Frequency sweep, end-to-end")
	w.println("   f: Frequency sweep, filterbank")
	w.println("   k/K: Raise/lower the knob gain by " + step + " dB")
	w.println("   q/Q: Mute or unmute the audio")
	w.println("   s/S: Mono or stereo audio")
	w.println("   1-8: Raise the gain of a band by " + step + " dB")
	w.println("   !@#$%^&*: Lower the gain of a band by " + step + " dB")
	w.println("   d/D: Switch to WDRC preset A or B")
	w.println("   u/U: Raise/lower the HP prefilter cutoff by half an octave")
	w.println("   b: Send the test DSL prescription")
	w.println("   r/R: Start/stop recording to the SD card")
	w.println("   J: Print the remote app layout")
	w.println("   ],}: Enable/disable printing of data to plot")
}
