package protocol

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

const (
	reportDigits = 4
	ghaCheck     = 11
	afcCheck     = 11
)

// Button identifiers shared by the layout and the state lines.
const (
	ButtonPresetA   = "alg_preset0"
	ButtonPresetB   = "alg_preset1"
	ButtonStereo    = "inp_stereo"
	ButtonMono      = "inp_mono"
	ButtonMute      = "inp_mute"
	ButtonCPU       = "cpuStart"
	ButtonPlot      = "plotStart"
	ButtonRecord    = "recordStart"
	ButtonLowGain   = "lowGain"
	ButtonMidGain   = "midGain"
	ButtonHighGain  = "highGain"
	guiBandsVisible = 3
)

var bandButtons = [guiBandsVisible]string{ButtonLowGain, ButtonMidGain, ButtonHighGain}

// BandButton returns the text button for band, or "" if the layout has none.
func BandButton(band int) string {
	if band < 0 || band >= len(bandButtons) {
		return ""
	}
	return bandButtons[band]
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', reportDigits, 32)
}

// StateLine renders a button highlight update.
func StateLine(id string, on bool) string {
	v := "0"
	if on {
		v = "1"
	}
	return "STATE=BTN:" + id + ":" + v
}

// TextLine renders a button label update.
func TextLine(id, text string) string {
	return "TEXT=BTN:" + id + ":" + text
}

// DSLReport renders the per-band prescription for the remote app.
func DSLReport(d DSL) string {
	n := int(d.NumChannels)
	n = max(0, min(n, MaxBands))

	var b strings.Builder
	b.WriteString("PRESC=DSL:")
	b.WriteString(strconv.Itoa(MaxBands))
	b.WriteByte(':')
	for _, v := range []float32{d.Attack, d.Release, d.MaxdB} {
		b.WriteString(formatFloat(v))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(int(d.Ear)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(d.NumChannels)))
	b.WriteByte(',')
	for _, arr := range []*[MaxBands]float32{&d.CrossFreq, &d.ExpCR, &d.ExpEndKnee, &d.TKGain, &d.CR, &d.TK, &d.Bolt} {
		for i := 0; i < n; i++ {
			b.WriteString(formatFloat(arr[i]))
			b.WriteByte(',')
		}
	}
	b.WriteString(strconv.Itoa(MaxBands))
	return b.String()
}

// GHAReport renders the broadband prescription.
func GHAReport(g GHA) string {
	var b strings.Builder
	b.WriteString("PRESC=GHA:")
	b.WriteString(strconv.Itoa(ghaCheck))
	b.WriteByte(':')
	for _, v := range []float32{g.Attack, g.Release, g.SampleRate, g.MaxdB, g.ExpCR, g.ExpEndKnee, g.TKGain, g.TK, g.CR, g.Bolt} {
		b.WriteString(formatFloat(v))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(ghaCheck))
	return b.String()
}

// AFCReport renders the feedback canceller settings.
func AFCReport(a AFC) string {
	var b strings.Builder
	b.WriteString("PRESC=AFC:")
	b.WriteString(strconv.Itoa(afcCheck))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(a.DefaultToActive)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(a.FilterLength)))
	b.WriteByte(',')
	for _, v := range []float32{a.Mu, a.Rho, a.Eps} {
		b.WriteString(formatFloat(v))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(afcCheck))
	return b.String()
}

type layoutButton struct {
	Label string `json:"label"`
	Cmd   string `json:"cmd,omitempty"`
	ID    string `json:"id,omitempty"`
	Width string `json:"width,omitempty"`
}

type layoutCard struct {
	Name    string         `json:"name"`
	Buttons []layoutButton `json:"buttons"`
}

type layoutPage struct {
	Title string       `json:"title"`
	Cards []layoutCard `json:"cards"`
}

type layoutPrescription struct {
	Type  string   `json:"type"`
	Pages []string `json:"pages"`
}

type layout struct {
	Pages        []layoutPage       `json:"pages"`
	Prescription layoutPrescription `json:"prescription"`
}

func gainCard(name, id, down, up string) layoutCard {
	return layoutCard{Name: name, Buttons: []layoutButton{
		{Label: "-", Cmd: down, Width: "4"},
		{Label: "", ID: id, Width: "4"},
		{Label: "+", Cmd: up, Width: "4"},
	}}
}

var remoteLayout = layout{
	Pages: []layoutPage{
		{Title: "Presets", Cards: []layoutCard{
			{Name: "Algorithm Presets", Buttons: []layoutButton{
				{Label: "Compression (WDRC)", Cmd: "d", ID: ButtonPresetA},
				{Label: "Linear", Cmd: "D", ID: ButtonPresetB},
			}},
			{Name: "Overall Audio", Buttons: []layoutButton{
				{Label: "Stereo", Cmd: "Q", ID: ButtonStereo, Width: "6"},
				{Label: "Mono", Cmd: "s", ID: ButtonMono, Width: "6"},
				{Label: "Mute", Cmd: "q", ID: ButtonMute, Width: "12"},
			}},
		}},
		{Title: "Tuner", Cards: []layoutCard{
			{Name: "Overall Volume", Buttons: []layoutButton{{Label: "-", Cmd: "K"}, {Label: "+", Cmd: "k"}}},
			gainCard("High Gain", ButtonHighGain, "#", "3"),
			gainCard("Mid Gain", ButtonMidGain, "@", "2"),
			gainCard("Low Gain", ButtonLowGain, "!", "1"),
		}},
		{Title: "Globals", Cards: []layoutCard{
			{Name: "CPU Reporting", Buttons: []layoutButton{{Label: "Start", Cmd: "c", ID: ButtonCPU}, {Label: "Stop", Cmd: "C"}}},
			{Name: "Record Mics to SD Card", Buttons: []layoutButton{{Label: "Start", Cmd: "r", ID: ButtonRecord}, {Label: "Stop", Cmd: "R"}}},
			{Name: "Send Data to Plot", Buttons: []layoutButton{{Label: "Start", Cmd: "]", ID: ButtonPlot}, {Label: "Stop", Cmd: "}"}}},
		}},
	},
	Prescription: layoutPrescription{
		Type:  "BoysTown",
		Pages: []string{"serialMonitor", "multiband", "broadband", "afc", "plot"},
	},
}

// LayoutLine renders the remote app page layout as a JSON= line.
func LayoutLine() string {
	raw, err := json.Marshal(remoteLayout)
	if err != nil {
		// The layout is a static value of plain types.
		panic(err)
	}
	return "JSON=" + string(raw)
}

// WriteReports writes the DSL, GHA and AFC reports for s.
func WriteReports(w io.Writer, s Snapshot) error {
	lw := newLineWriter(w)
	lw.println(DSLReport(s.DSL))
	lw.println(GHAReport(s.GHA))
	lw.println(AFCReport(s.AFC))
	return lw.err
}
