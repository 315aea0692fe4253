package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one file from the audio producer",
	Long: `Start a recording immediately and stop it after --duration or on Ctrl+C.
Files are named AUDIO001.WAV, AUDIO002.WAV, ... unless --name is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		name, _ := cmd.Flags().GetString("name")

		if !cmd.Flags().Changed("transport") {
			cfg.Link.Transport = "none"
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newDeviceRuntime(cfg, cfg.Server.Enabled)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- rt.run(runCtx) }()

		if name != "" {
			var startErr error
			if err := rt.device.Do(ctx, func() { startErr = rt.recorder.StartNamed(name) }); err != nil {
				return err
			}
			err = startErr
		} else {
			err = rt.device.StartRecording(ctx)
		}
		if err != nil {
			cancel()
			<-errCh
			return fmt.Errorf("failed to start recording: %w", err)
		}

		var timeout <-chan time.Time
		if duration > 0 {
			slog.Info("Recording", "duration", duration)
			timeout = time.After(duration)
		} else {
			slog.Info("Recording - Press Ctrl+C to stop")
		}

		select {
		case <-ctx.Done():
		case <-timeout:
		case err := <-errCh:
			return err
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		stopErr := rt.device.StopRecording(stopCtx)

		cancel()
		if err := <-errCh; err != nil {
			return err
		}
		if stopErr != nil {
			return fmt.Errorf("failed to stop recording: %w", stopErr)
		}

		if _, session := rt.device.GetRecordingStatus(); session != nil {
			fmt.Printf("Recorded %s: %d bytes, %s, %d overruns\n",
				session.OutputFile, session.DataBytes,
				session.EndTime.Sub(session.StartTime).Round(time.Millisecond),
				session.Overruns)
		}
		return nil
	},
}

func init() {
	addRunFlags(recordCmd)
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (default: until Ctrl+C)")
	recordCmd.Flags().StringP("name", "n", "", "file name instead of the next AUDIOnnn.WAV")
}
