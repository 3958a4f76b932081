package conductor

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"sync"
)

// Runtime starts and stops the conductor serving one sandbox.
// Exec, Container and Service implement it.
type Runtime interface {
	// Start launches the conductor with the config at configPath and
	// returns once its admin interface on adminAddr is reachable.
	Start(ctx context.Context, configPath string, adminAddr netip.AddrPort) error
	// Stop releases the conductor. It is a no-op when Start never ran.
	Stop(ctx context.Context) error
}

// ReadyLine is printed by the conductor once its interfaces are up.
const ReadyLine = "Conductor ready."

// lineWriter splits a byte stream into lines and hands each to fn.
type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(string)
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.emit(line)
	}
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = sanitizeLine(line)
	if line == "" {
		return
	}
	w.fn(line)
}

// sanitizeLine drops control characters the conductor interleaves with its
// log output, keeping ESC so colour codes survive.
func sanitizeLine(line string) string {
	line = strings.Map(func(r rune) rune {
		switch {
		case r == 0x1b:
			return r
		case r < 0x20, r == 0x7f, r >= 0x80 && r <= 0x9f:
			return -1
		default:
			return r
		}
	}, line)
	return strings.TrimSpace(line)
}
