package cmd

import (
	"os"
	"os/signal"

	"github.com/audiolibrelab/earcapture/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a recording",
	Long:  `Play a recording from the storage directory, given by file name or sequence number (3 plays AUDIO003.WAV).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return play.New(cfg.Storage.Directory).Play(ctx, args[0])
	},
}
