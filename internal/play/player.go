package play

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolibrelab/earcapture/internal/storage"
)

// Player plays recordings from the storage directory through an external player.
type Player struct {
	dir      string
	lookPath func(string) (string, error)
}

func New(dir string) *Player {
	return &Player{dir: dir, lookPath: exec.LookPath}
}

// Resolve maps a recording name or sequence number ("3" is AUDIO003.WAV)
// to a path in the storage directory.
func (p *Player) Resolve(name string) (string, error) {
	if n, err := strconv.Atoi(name); err == nil {
		derived, err := storage.DeriveName(n)
		if err != nil {
			return "", err
		}
		name = derived
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid recording name: %s", name)
	}
	return filepath.Join(p.dir, name), nil
}

// Play blocks until playback of the named recording finishes or ctx is done.
func (p *Player) Play(ctx context.Context, name string) error {
	audioFile, err := p.Resolve(name)
	if err != nil {
		return err
	}

	f, err := os.Open(audioFile)
	if err != nil {
		return fmt.Errorf("recording not found: %s", audioFile)
	}
	header, err := storage.ReadHeader(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("not a playable recording: %w", err)
	}

	// Try to find available audio player
	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	fmt.Printf("Playing: %s (%d ch, %d Hz, %s)\n", audioFile, header.Channels, header.SampleRate, header.Duration)
	cmd := exec.CommandContext(ctx, player, playerArgs(player, audioFile)...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func playerArgs(player, file string) []string {
	switch player {
	case "mpv":
		return []string{"--no-video", file}
	case "ffplay":
		return []string{"-nodisp", "-autoexit", file}
	default:
		return []string{file}
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	// List of preferred audio players in order of preference
	players := []string{"pw-play", "aplay", "ffplay", "mpv"}

	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
