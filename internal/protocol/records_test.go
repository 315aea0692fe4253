package protocol

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSLRoundTripIsBitExact(t *testing.T) {
	in := TestDSL
	in.Ear = 0
	in.Attack = math.Float32frombits(0x3f8ccccd)
	in.Bolt[7] = -0.0001

	frame, err := EncodeFrame(in)
	require.NoError(t, err)
	assert.Len(t, frame, 1+4+1+len(TagDSL)+1+DSLSize+1)

	f := NewFramer(0)
	frames, errs := feedAll(f, frame)
	require.Empty(t, errs)
	require.Len(t, frames, 1)

	rec, err := DecodePayload(frames[0].Payload)
	require.NoError(t, err)
	out, ok := rec.(DSL)
	require.True(t, ok)
	assert.Equal(t, in, out)
	assert.Equal(t, math.Float32bits(in.Attack), math.Float32bits(out.Attack))
}

func TestDecodeGHAFieldOrder(t *testing.T) {
	body := []byte("gha\x03")
	for i := 1; i <= 10; i++ {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(float32(i)))
	}
	rec, err := DecodePayload(body)
	require.NoError(t, err)
	g := rec.(GHA)
	assert.Equal(t, float32(1), g.Attack)
	assert.Equal(t, float32(3), g.SampleRate)
	assert.Equal(t, float32(5), g.ExpCR)
	assert.Equal(t, float32(7), g.TKGain)
	assert.Equal(t, float32(8), g.TK)
	assert.Equal(t, float32(9), g.CR)
	assert.Equal(t, float32(10), g.Bolt)
}

func TestDecodeAFCAndTest(t *testing.T) {
	body := []byte("afc\x03")
	body = binary.LittleEndian.AppendUint32(body, 1)
	body = binary.LittleEndian.AppendUint32(body, 100)
	body = binary.LittleEndian.AppendUint32(body, math.Float32bits(0.001))
	body = binary.LittleEndian.AppendUint32(body, math.Float32bits(0.9))
	body = binary.LittleEndian.AppendUint32(body, math.Float32bits(0.008))
	body = append(body, 0xAA, 0xBB)

	rec, err := DecodePayload(body)
	require.NoError(t, err, "trailing bytes are ignored")
	assert.Equal(t, AFC{DefaultToActive: 1, FilterLength: 100, Mu: 0.001, Rho: 0.9, Eps: 0.008}, rec)

	payload, err := EncodePayload(TestEcho{Int: -7, Float: 2.5})
	require.NoError(t, err)
	assert.Len(t, payload, len(TagTest)+1+TestSize)
	rec, err = DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, TestEcho{Int: -7, Float: 2.5}, rec)
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"no separator", []byte("gha"), ErrMalformedPayload},
		{"unknown tag", []byte("eq\x03\x00\x00"), ErrUnknownStreamType},
		{"short gha", append([]byte("gha\x03"), make([]byte, GHASize-1)...), ErrShortRecord},
		{"empty dsl", []byte("dsl\x03"), ErrShortRecord},
		{"short test", []byte("test\x03\x01\x00"), ErrShortRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 40, GHASize)
	assert.Equal(t, 16+7*4*MaxBands, DSLSize)
	assert.Equal(t, 20, AFCSize)
	assert.Equal(t, 8, TestSize)
}
