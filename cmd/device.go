package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/earcapture/internal/audio"
	"github.com/audiolibrelab/earcapture/internal/config"
	"github.com/audiolibrelab/earcapture/internal/link"
	"github.com/audiolibrelab/earcapture/internal/metrics"
	"github.com/audiolibrelab/earcapture/internal/server"
	"github.com/audiolibrelab/earcapture/internal/service"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

// errLinkClosed ends a run when a stream transport reaches EOF.
var errLinkClosed = errors.New("link closed")

// deviceRuntime holds every part of a running device.
type deviceRuntime struct {
	cfg       *config.Config
	device    *service.Device
	recorder  *audio.Recorder
	medium    *storage.AferoMedium
	link      *link.Link
	transport link.Transport
	source    audio.Source
	registry  *prometheus.Registry
	serve     bool
}

// newDeviceRuntime wires a device from cfg. The transport is opened here so
// a TCP port is bound before Run starts.
func newDeviceRuntime(cfg *config.Config, serve bool) (*deviceRuntime, error) {
	medium := storage.NewOSMedium(cfg.Storage.Directory)
	recorder, err := audio.NewRecorderFromConfig(cfg, medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	source, err := audio.NewSource(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	recorder.SetObserver(m)

	l := link.New(cfg.Link.RxBufferBytes, slog.Default())
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"capture_buffered_bytes", "Bytes queued in the capture buffer.",
			func() float64 { return float64(recorder.Stats().Buffered) }},
		{"link_rx_buffered_bytes", "Bytes waiting in the link receive buffer.",
			func() float64 { return float64(l.Buffered()) }},
		{"recording_active", "1 while a recording is open.",
			func() float64 {
				if recorder.IsRecording() {
					return 1
				}
				return 0
			}},
	}
	for _, g := range gauges {
		if err := m.RegisterGauge(g.name, g.help, g.fn); err != nil {
			return nil, fmt.Errorf("failed to register gauge %s: %w", g.name, err)
		}
	}

	sampler, err := service.NewProcessSampler()
	if err != nil {
		slog.Warn("Telemetry disabled", "error", err)
	}

	device, err := service.New(service.Options{
		Config:   cfg,
		Recorder: recorder,
		Medium:   medium,
		Link:     l,
		Observer: m,
		Sampler:  sampler,
	})
	if err != nil {
		return nil, err
	}

	transport, err := link.NewTransport(cfg.Link, slog.Default())
	if err != nil {
		return nil, err
	}

	return &deviceRuntime{
		cfg:       cfg,
		device:    device,
		recorder:  recorder,
		medium:    medium,
		link:      l,
		transport: transport,
		source:    source,
		registry:  registry,
		serve:     serve,
	}, nil
}

// run starts the producer, the transport, the device loop and the optional
// web server, and waits until ctx is done or one of them fails.
func (rt *deviceRuntime) run(ctx context.Context) error {
	if err := rt.recorder.Prepare(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.device.Run(ctx)
	})
	g.Go(func() error {
		return rt.source.Run(ctx, func(blocks []audio.SampleBlock) {
			rt.recorder.OnSampleBlocks(blocks)
		})
	})
	g.Go(func() error {
		if err := rt.transport.Serve(ctx, rt.link); err != nil {
			return fmt.Errorf("%s transport: %w", rt.transport.Name(), err)
		}
		if ctx.Err() == nil && rt.transport.Name() == "stdio" {
			return errLinkClosed
		}
		return nil
	})
	if rt.serve {
		srv := server.New(rt.device, rt.medium, rt.registry, rt.cfg.Server.Port)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	slog.Info("Device running",
		"source", rt.source.Name(),
		"transport", rt.transport.Name(),
		"storage", rt.medium.Dir(),
		"web_server", rt.serve)

	if err := g.Wait(); err != nil && !errors.Is(err, errLinkClosed) {
		return err
	}
	return nil
}
