package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device with the web server for remote control",
	Long: `Run the capture device with the web server enabled, so recording can be
controlled from a browser or any HTTP client on the same network.

The link transport defaults to none here; pass --transport to also accept
a remote controller.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("transport") {
			cfg.Link.Transport = "none"
		}
		cfg.Server.Enabled = true
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		return runDevice(cmd.Context(), cfg)
	},
}

func init() {
	addRunFlags(serveCmd)
}
