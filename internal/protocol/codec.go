package protocol

import (
	"fmt"
	"io"
	"log/slog"
)

// Tuner receives decoded prescriptions.
type Tuner interface {
	ApplyGHA(GHA)
	ApplyDSL(DSL)
	ApplyAFC(AFC)
}

// Codec decodes stream payloads and hands the records to a Tuner.
type Codec struct {
	tuner  Tuner
	out    io.Writer
	logger *slog.Logger
}

// NewCodec returns a codec that writes its responses to out.
func NewCodec(tuner Tuner, out io.Writer, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{tuner: tuner, out: out, logger: logger}
}

// Handle decodes payload, applies it, and acknowledges it on the response
// writer. Decode errors are reported on the writer and returned.
func (c *Codec) Handle(payload []byte) error {
	w := newLineWriter(c.out)

	rec, err := DecodePayload(payload)
	if err != nil {
		c.logger.Warn("Rejected stream payload", "error", err, "bytes", len(payload))
		w.printf("ERROR: %v", err)
		return err
	}

	switch r := rec.(type) {
	case GHA:
		c.tuner.ApplyGHA(r)
	case DSL:
		c.tuner.ApplyDSL(r)
	case AFC:
		c.tuner.ApplyAFC(r)
	case TestEcho:
		w.printf("int is %d", r.Int)
		w.printf("float is %f", r.Float)
	}
	c.logger.Debug("Applied stream record", "type", rec.Tag())
	w.println("SUCCESS.")
	return w.err
}

// lineWriter writes newline-terminated responses and keeps the first error.
type lineWriter struct {
	w   io.Writer
	err error
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: w}
}

func (l *lineWriter) println(s string) {
	if l.err != nil {
		return
	}
	_, l.err = io.WriteString(l.w, s+"\n")
}

func (l *lineWriter) printf(format string, args ...any) {
	l.println(fmt.Sprintf(format, args...))
}
