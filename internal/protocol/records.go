package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxBands is the number of per-band slots carried by a DSL record.
const MaxBands = 8

const (
	TagGHA  = "gha"
	TagDSL  = "dsl"
	TagAFC  = "afc"
	TagTest = "test"
)

var (
	ErrUnknownStreamType = errors.New("unknown stream type")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrShortRecord       = errors.New("record shorter than its layout")
)

// Record is any decoded stream payload.
type Record interface {
	Tag() string
}

// GHA is the broadband compressor prescription. Fields are in wire order.
type GHA struct {
	Attack     float32 // ms
	Release    float32 // ms
	SampleRate float32 // Hz
	MaxdB      float32 // dB SPL at 0 dBFS
	ExpCR      float32 // expander compression ratio
	ExpEndKnee float32
	TKGain     float32 // compression-start gain
	TK         float32 // compression-start kneepoint
	CR         float32
	Bolt       float32 // output limiting threshold
}

func (GHA) Tag() string { return TagGHA }

// DSL is the per-band prescription. Ear is not carried on the wire.
type DSL struct {
	Attack      float32
	Release     float32
	NumChannels int32
	MaxdB       float32
	Ear         int32

	CrossFreq  [MaxBands]float32
	ExpCR      [MaxBands]float32
	ExpEndKnee [MaxBands]float32
	TKGain     [MaxBands]float32
	CR         [MaxBands]float32
	TK         [MaxBands]float32
	Bolt       [MaxBands]float32
}

func (DSL) Tag() string { return TagDSL }

// dslWire is the on-the-wire layout of a DSL record.
type dslWire struct {
	Attack      float32
	Release     float32
	NumChannels int32
	MaxdB       float32
	CrossFreq   [MaxBands]float32
	ExpCR       [MaxBands]float32
	ExpEndKnee  [MaxBands]float32
	TKGain      [MaxBands]float32
	CR          [MaxBands]float32
	TK          [MaxBands]float32
	Bolt        [MaxBands]float32
}

// AFC configures adaptive feedback cancellation.
type AFC struct {
	DefaultToActive int32
	FilterLength    int32
	Mu              float32
	Rho             float32
	Eps             float32
}

func (AFC) Tag() string { return TagAFC }

// TestEcho is the diagnostic record.
type TestEcho struct {
	Int   int32
	Float float32
}

func (TestEcho) Tag() string { return TagTest }

// Wire sizes of the fixed record layouts.
var (
	GHASize  = binary.Size(GHA{})
	DSLSize  = binary.Size(dslWire{})
	AFCSize  = binary.Size(AFC{})
	TestSize = binary.Size(TestEcho{})
)

// SplitPayload separates the ASCII tag from the record body.
func SplitPayload(payload []byte) (string, []byte, error) {
	i := bytes.IndexByte(payload, SeparatorMarker)
	if i < 0 {
		return "", nil, fmt.Errorf("%w: no separator after stream type", ErrMalformedPayload)
	}
	return string(payload[:i]), payload[i+1:], nil
}

// DecodePayload decodes a stream payload into its typed record. Bytes past
// the fixed layout are ignored.
func DecodePayload(payload []byte) (Record, error) {
	tag, body, err := SplitPayload(payload)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagGHA:
		var g GHA
		if err := decodeFixed(tag, body, &g); err != nil {
			return nil, err
		}
		return g, nil
	case TagDSL:
		var w dslWire
		if err := decodeFixed(tag, body, &w); err != nil {
			return nil, err
		}
		return DSL{
			Attack: w.Attack, Release: w.Release, NumChannels: w.NumChannels, MaxdB: w.MaxdB,
			CrossFreq: w.CrossFreq, ExpCR: w.ExpCR, ExpEndKnee: w.ExpEndKnee,
			TKGain: w.TKGain, CR: w.CR, TK: w.TK, Bolt: w.Bolt,
		}, nil
	case TagAFC:
		var a AFC
		if err := decodeFixed(tag, body, &a); err != nil {
			return nil, err
		}
		return a, nil
	case TagTest:
		var t TestEcho
		if err := decodeFixed(tag, body, &t); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStreamType, tag)
}

func decodeFixed(tag string, body []byte, dst any) error {
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, dst); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortRecord, tag, binary.Size(dst), len(body))
		}
		return fmt.Errorf("decode %s: %w", tag, err)
	}
	return nil
}

// EncodePayload renders rec as <tag> 0x03 <record>.
func EncodePayload(rec Record) ([]byte, error) {
	var body any
	switch r := rec.(type) {
	case GHA, AFC, TestEcho:
		body = r
	case DSL:
		body = dslWire{
			Attack: r.Attack, Release: r.Release, NumChannels: r.NumChannels, MaxdB: r.MaxdB,
			CrossFreq: r.CrossFreq, ExpCR: r.ExpCR, ExpEndKnee: r.ExpEndKnee,
			TKGain: r.TKGain, CR: r.CR, TK: r.TK, Bolt: r.Bolt,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownStreamType, rec)
	}
	var buf bytes.Buffer
	buf.WriteString(rec.Tag())
	buf.WriteByte(SeparatorMarker)
	if err := binary.Write(&buf, binary.LittleEndian, body); err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Tag(), err)
	}
	return buf.Bytes(), nil
}

// EncodeFrame wraps rec in a complete binary frame ready to send.
func EncodeFrame(rec Record) ([]byte, error) {
	payload, err := EncodePayload(rec)
	if err != nil {
		return nil, err
	}
	return WrapFrame(payload), nil
}

// WrapFrame adds start, length, separator and end markers around payload.
func WrapFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+lengthBytes+3)
	out = append(out, StartMarker)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, SeparatorMarker)
	out = append(out, payload...)
	return append(out, EndMarker)
}
