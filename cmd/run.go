package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/earcapture/internal/config"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device until interrupted",
	Long: `Run the capture device: the audio producer feeds the capture buffer, the
storage loop writes recordings, and the remote link accepts single-character
commands and framed tuning records.

With the stdio transport the link is stdin/stdout and the device stops when
stdin is closed. With the tcp transport one remote at a time may connect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		return runDevice(cmd.Context(), cfg)
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(c *cobra.Command) {
	c.Flags().StringP("transport", "t", "", "link transport: none, stdio, tcp (overrides config)")
	c.Flags().StringP("address", "a", "", "listen address for the tcp transport (overrides config)")
	c.Flags().Bool("serve", false, "also start the web server")
	c.Flags().IntP("port", "P", 0, "web server port (overrides config)")
	c.Flags().StringP("output", "o", "", "recordings directory (overrides config)")
}

// applyRunFlags copies command line overrides into c and revalidates it
func applyRunFlags(cmd *cobra.Command, c *config.Config) error {
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		c.Link.Transport = v
	}
	if v, _ := cmd.Flags().GetString("address"); v != "" {
		c.Link.Address = v
	}
	if v, _ := cmd.Flags().GetBool("serve"); v {
		c.Server.Enabled = true
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		c.Server.Port = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		c.Storage.Directory = v
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// runDevice runs a device until SIGINT/SIGTERM or the link closes
func runDevice(parent context.Context, c *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newDeviceRuntime(c, c.Server.Enabled)
	if err != nil {
		return err
	}
	return rt.run(ctx)
}
