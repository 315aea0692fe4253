package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/audiolibrelab/earcapture/internal/config"
)

// Transport feeds a Link from a physical or emulated byte channel.
type Transport interface {
	Name() string
	Serve(ctx context.Context, l *Link) error
}

// StdioTransport reads commands from In and writes responses to Out.
type StdioTransport struct {
	In  io.Reader
	Out io.Writer
}

func (StdioTransport) Name() string { return "stdio" }

// Serve runs until In reaches EOF or ctx is done.
func (t StdioTransport) Serve(ctx context.Context, l *Link) error {
	l.Attach(t.Out)
	defer l.Attach(nil)
	return l.Pump(ctx, t.In)
}

// NullTransport has no peer. It keeps the link idle until ctx is done.
type NullTransport struct{}

func (NullTransport) Name() string { return "none" }

func (NullTransport) Serve(ctx context.Context, _ *Link) error {
	<-ctx.Done()
	return nil
}

// TCPTransport accepts one remote at a time, standing in for the BLE
// serial bridge.
type TCPTransport struct {
	ln     net.Listener
	logger *slog.Logger
}

// ListenTCP binds addr immediately so callers can learn the port.
func ListenTCP(addr string, logger *slog.Logger) (*TCPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPTransport{ln: ln, logger: logger}, nil
}

func (*TCPTransport) Name() string { return "tcp" }

// Addr returns the bound address.
func (t *TCPTransport) Addr() net.Addr { return t.ln.Addr() }

// Serve accepts remotes until ctx is done, then closes the listener.
func (t *TCPTransport) Serve(ctx context.Context, l *Link) error {
	stop := context.AfterFunc(ctx, func() { t.ln.Close() })
	defer stop()
	defer t.ln.Close()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		remote := conn.RemoteAddr().String()
		t.logger.Info("Remote connected", "remote", remote)
		l.Attach(conn)
		err = l.Pump(ctx, conn)
		l.Attach(nil)
		conn.Close()
		if err != nil {
			t.logger.Warn("Remote connection ended with error", "remote", remote, "error", err)
		} else {
			t.logger.Info("Remote disconnected", "remote", remote)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// NewTransport builds the transport selected by cfg.
func NewTransport(cfg config.LinkConfig, logger *slog.Logger) (Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "none":
		return NullTransport{}, nil
	case "", "stdio":
		return StdioTransport{In: os.Stdin, Out: os.Stdout}, nil
	case "tcp":
		return ListenTCP(cfg.Address, logger)
	}
	return nil, fmt.Errorf("unknown link transport %q", cfg.Transport)
}
