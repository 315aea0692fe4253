package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/earcapture/internal/storage"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [recording.wav]",
	Short: "Show resolved configuration or a recording's header",
	Long: `Without arguments, display the resolved configuration with inheritance
indicators showing which values come from the default profile and which are
profile-specific. With a file argument, display the format and length read
from the recording's header.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showRecordingInfo(args[0])
		}
		return showResolvedConfig()
	},
}

func showRecordingInfo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	h, err := storage.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	fmt.Printf("=== RECORDING ===\n")
	fmt.Printf("file: %s\n", path)
	fmt.Printf("channels: %d\n", h.Channels)
	fmt.Printf("sample_rate: %d\n", h.SampleRate)
	fmt.Printf("bit_depth: %d\n", h.BitDepth)
	fmt.Printf("data_bytes: %d\n", h.DataBytes)
	fmt.Printf("duration: %s\n", h.Duration)
	return nil
}

func showResolvedConfig() error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	var values map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("error reading config values: %w", err)
	}

	fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
	if cfg.Inheritance == nil {
		fmt.Printf("profile: (built-in defaults)\n")
		fmt.Print(string(data))
		return nil
	}
	fmt.Printf("profile: %s\n", cfg.Inheritance.Profile)

	section := ""
	for _, key := range cfg.Inheritance.Keys() {
		group, field, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		if group != section {
			section = group
			fmt.Printf("\n[%s]\n", strings.ToUpper(group[:1])+group[1:])
		}
		fmt.Printf("%s: %v %s\n", field, values[group][field], getInheritanceIndicator(cfg.Inheritance.Fields[key]))
	}
	return nil
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
