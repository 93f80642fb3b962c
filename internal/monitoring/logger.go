// Package monitoring carries the process-wide logging streams and Prometheus
// metrics.
//
// Logging is split into three streams so that operators can route them
// separately: ops for lifecycle events and failures, diag for per-step counts
// and parameters, trace for per-group and per-batch detail. A stream with no
// writer discards its messages.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

const prefix = "[hubs] "

// stream is one logging destination; a nil logger drops messages.
type stream struct {
	logger atomic.Pointer[log.Logger]
}

func (s *stream) set(w io.Writer) {
	if w == nil {
		s.logger.Store(nil)
		return
	}
	s.logger.Store(log.New(w, prefix, log.LstdFlags|log.Lmicroseconds))
}

func (s *stream) printf(format string, args ...interface{}) {
	if l := s.logger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

var ops, diag, trace stream

func init() {
	SetLogWriters(DefaultLogWriters())
}

// DefaultLogWriters sends ops and diag to stderr and disables trace.
func DefaultLogWriters() LogWriters {
	return LogWriters{Ops: os.Stderr, Diag: os.Stderr}
}

// SetLogWriters replaces all three streams. A nil writer disables its stream.
func SetLogWriters(w LogWriters) {
	ops.set(w.Ops)
	diag.set(w.Diag)
	trace.set(w.Trace)
}

// Opsf logs lifecycle events, warnings and errors.
func Opsf(format string, args ...interface{}) { ops.printf(format, args...) }

// Diagf logs per-step counts and parameters.
func Diagf(format string, args ...interface{}) { diag.printf(format, args...) }

// Tracef logs per-group and per-batch detail.
func Tracef(format string, args ...interface{}) { trace.printf(format, args...) }

// TraceEnabled reports whether the trace stream has a writer, so callers can
// skip building expensive trace arguments.
func TraceEnabled() bool { return trace.logger.Load() != nil }
