package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", PCM16, false},
		{"pcm16", PCM16, false},
		{"PCM24", PCM24, false},
		{" int32 ", PCM32, false},
		{"float32", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEncodingFullScaleAndClamp(t *testing.T) {
	tests := []struct {
		enc  Encoding
		in   float32
		want int
	}{
		{PCM16, 1, 32767},
		{PCM16, -1, -32767},
		{PCM16, 2, 32767},
		{PCM16, -3, -32767},
		{PCM24, 1, 8388607},
		{PCM24, -1, -8388607},
		{PCM24, 0, 0},
		{PCM32, 1, 2147483647},
		{PCM32, -1, -2147483647},
	}
	for _, tt := range tests {
		buf := make([]byte, tt.enc.BytesPerSample())
		tt.enc.Put(buf, tt.in)
		assert.Equal(t, tt.want, tt.enc.Sample(buf), "%s(%v)", tt.enc.Name(), tt.in)
	}
}

func TestPCM24SignExtension(t *testing.T) {
	buf := make([]byte, 3)
	PCM24.Put(buf, -0.5)
	assert.Equal(t, []byte{0x01, 0x00, 0xc0}, buf)
	assert.Equal(t, -4194303, PCM24.Sample(buf))
}
