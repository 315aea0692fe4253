package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/earcapture/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio producers",
	Long: `List the audio producers this build can feed the capture buffer from, and
the PipeWire/JACK ports usable as audio.target for the pipewire source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := audio.GetAvailableSources()
		fmt.Printf("Audio sources (%d found):\n", len(sources))
		for i, s := range sources {
			fmt.Printf("  %d. %s\n", i+1, s)
		}

		ports, err := audio.NewPipeWire().ListPorts()
		if err != nil {
			slog.Debug("PipeWire not available", "error", err)
			fmt.Printf("\nPipeWire ports: unavailable\n")
			return nil
		}
		fmt.Printf("\nPipeWire/JACK ports (%d found):\n", len(ports))
		for i, p := range ports {
			fmt.Printf("  %d. %s\n", i+1, p)
		}
		fmt.Printf("\nConfigure with audio.source: pipewire and audio.target: <node or port>\n")
		return nil
	},
}
