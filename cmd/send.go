package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/earcapture/internal/dsp"
	"github.com/audiolibrelab/earcapture/internal/protocol"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [commands]",
	Short: "Send commands or a tuning record to a device",
	Long: `Send single-character commands and/or one framed tuning record to a device.

Without --address the bytes are written to stdout so they can be piped into
'earcapture run'. With --address they go to a device running the tcp
transport and its responses are printed until --wait passes without output.

The record starts from the power-on defaults and may be overridden field by
field from a YAML file using lowercase field names, for example:

  attack: 10
  release: 200`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordType, _ := cmd.Flags().GetString("record")
		file, _ := cmd.Flags().GetString("file")
		address, _ := cmd.Flags().GetString("address")
		wait, _ := cmd.Flags().GetDuration("wait")

		var payload []byte
		if len(args) == 1 {
			payload = append(payload, args[0]...)
		}
		if recordType != "" {
			frame, err := buildRecordFrame(recordType, file)
			if err != nil {
				return err
			}
			payload = append(payload, frame...)
		}
		if len(payload) == 0 {
			return fmt.Errorf("nothing to send: give commands and/or --record")
		}

		if address == "" {
			_, err := os.Stdout.Write(payload)
			return err
		}
		return sendTCP(address, payload, wait, os.Stdout)
	},
}

func init() {
	sendCmd.Flags().StringP("record", "r", "", "record type to send: gha, dsl, afc, test")
	sendCmd.Flags().StringP("file", "f", "", "YAML file overriding record fields")
	sendCmd.Flags().StringP("address", "a", "", "device tcp address (default: write to stdout)")
	sendCmd.Flags().Duration("wait", 500*time.Millisecond, "idle time before giving up on responses")
}

// buildRecordFrame returns the framed record of type tag, starting from the
// defaults and applying overrides from file
func buildRecordFrame(tag, file string) ([]byte, error) {
	var overrides []byte
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read record file: %w", err)
		}
		overrides = data
	}

	var rec protocol.Record
	switch strings.ToLower(tag) {
	case protocol.TagGHA:
		r := dsp.DefaultGHA
		if err := yaml.Unmarshal(overrides, &r); err != nil {
			return nil, fmt.Errorf("invalid gha record: %w", err)
		}
		rec = r
	case protocol.TagDSL:
		r := dsp.PresetWDRC
		if err := yaml.Unmarshal(overrides, &r); err != nil {
			return nil, fmt.Errorf("invalid dsl record: %w", err)
		}
		rec = r
	case protocol.TagAFC:
		r := dsp.DefaultAFC
		if err := yaml.Unmarshal(overrides, &r); err != nil {
			return nil, fmt.Errorf("invalid afc record: %w", err)
		}
		rec = r
	case protocol.TagTest:
		r := protocol.TestEcho{Int: 42, Float: 3.14}
		if err := yaml.Unmarshal(overrides, &r); err != nil {
			return nil, fmt.Errorf("invalid test record: %w", err)
		}
		rec = r
	default:
		return nil, fmt.Errorf("unknown record type %q (valid: gha, dsl, afc, test)", tag)
	}
	return protocol.EncodeFrame(rec)
}

// sendTCP writes payload to a device and copies its response lines to out
func sendTCP(address string, payload []byte, wait time.Duration, out io.Writer) error {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(wait))
		if !scanner.Scan() {
			break
		}
		fmt.Fprintln(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}
