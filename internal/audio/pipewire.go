package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// PipeWire manages PipeWire/JACK port queries
type PipeWire struct{}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	cmd := exec.Command("pw-link", "-io")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidatePort checks if a specific port exists and has no duplicates
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" {
		return nil
	}
	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, ports []string) error {
	count := 0
	for _, port := range ports {
		if port == portName {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if count > 1 {
		return fmt.Errorf("duplicate sources detected for '%s' (%d ports). Please close conflicting applications", portName, count)
	}
	return nil
}

// PipeWireSource reads live audio from a PipeWire node through pw-record.
// pw-record paces the blocks, so Run does not need a ticker.
type PipeWireSource struct {
	sampleRate int
	channels   int
	blockSize  int
	target     string
	logger     *slog.Logger

	// command builds the capture process; replaced in tests
	command func(ctx context.Context, args ...string) *exec.Cmd
	blocks  []SampleBlock
}

// NewPipeWireSource returns a source capturing from target, or from the
// default PipeWire source when target is empty.
func NewPipeWireSource(sampleRate, channels, blockSize int, target string) *PipeWireSource {
	s := &PipeWireSource{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		target:     target,
		logger:     slog.Default(),
		command: func(ctx context.Context, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "pw-record", args...)
		},
		blocks: make([]SampleBlock, channels),
	}
	for c := range s.blocks {
		s.blocks[c] = make(SampleBlock, blockSize)
	}
	return s
}

func (s *PipeWireSource) Name() string    { return "pipewire" }
func (s *PipeWireSource) SampleRate() int { return s.sampleRate }
func (s *PipeWireSource) Channels() int   { return s.channels }
func (s *PipeWireSource) BlockSize() int  { return s.blockSize }

func (s *PipeWireSource) args() []string {
	args := []string{
		"--format", "f32",
		"--rate", strconv.Itoa(s.sampleRate),
		"--channels", strconv.Itoa(s.channels),
	}
	if s.target != "" {
		args = append(args, "--target", s.target)
	}
	return append(args, "-")
}

// Run starts pw-record and delivers one block per channel until ctx is done
// or the process exits.
func (s *PipeWireSource) Run(ctx context.Context, fn BlockFunc) error {
	cmd := s.command(ctx, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pw-record stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pw-record: %w", err)
	}
	s.logger.Info("PipeWire capture started", "target", s.target,
		"sample_rate", s.sampleRate, "channels", s.channels)

	readErr := s.readBlocks(bufio.NewReader(stdout), fn)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("pw-record exited: %w", waitErr)
	}
	return nil
}

// readBlocks deinterleaves little-endian float32 frames from r.
func (s *PipeWireSource) readBlocks(r io.Reader, fn BlockFunc) error {
	raw := make([]byte, s.blockSize*s.channels*4)
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read pw-record output: %w", err)
		}
		for i := 0; i < s.blockSize; i++ {
			for c := 0; c < s.channels; c++ {
				off := (i*s.channels + c) * 4
				s.blocks[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			}
		}
		fn(s.blocks)
	}
}
