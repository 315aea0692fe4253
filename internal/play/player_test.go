package play

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	p := New("/rec")

	path, err := p.Resolve("3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/rec", "AUDIO003.WAV"), path)

	path, err = p.Resolve("take.wav")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/rec", "take.wav"), path)

	_, err = p.Resolve("../etc/passwd")
	assert.Error(t, err)

	_, err = p.Resolve("1000")
	assert.Error(t, err)
}

func TestFindAudioPlayer(t *testing.T) {
	p := New("/rec")
	p.lookPath = func(name string) (string, error) {
		if name == "ffplay" {
			return "/usr/bin/ffplay", nil
		}
		return "", errors.New("not found")
	}
	player, err := p.findAudioPlayer()
	require.NoError(t, err)
	assert.Equal(t, "ffplay", player)
	assert.Equal(t, []string{"-nodisp", "-autoexit", "x.wav"}, playerArgs(player, "x.wav"))

	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err = p.findAudioPlayer()
	assert.Error(t, err)
}
