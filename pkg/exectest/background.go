// Package exectest helps running subprocesses as part of tests.
package exectest

import (
	"bytes"
	"io"
	"os/exec"
	"sync"
	"testing"
)

// Background is a command run in the background of a test.
type Background struct {
	tb   testing.TB
	Cmd  *exec.Cmd
	wg   sync.WaitGroup
	done chan struct{}

	errLock sync.Mutex
	err     error

	// Log command output through the test.
	Name      string
	LogStdout bool
	LogStderr bool
}

// NewBackground prepares a command to run in the background of a test.
func NewBackground(tb testing.TB, cmd *exec.Cmd) *Background {
	return &Background{
		tb:   tb,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Start spawns a goroutine running the process.
// After calling Start, accessing Cmd is unsafe until Close returns.
func (b *Background) Start() {
	prefix := b.Name
	if prefix != "" {
		prefix += ": "
	}
	if b.LogStdout {
		b.Cmd.Stdout = &lineLogger{tb: b.tb, prefix: prefix}
	}
	if b.LogStderr {
		b.Cmd.Stderr = &lineLogger{tb: b.tb, prefix: prefix}
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		err := b.Cmd.Run()
		b.errLock.Lock()
		b.err = err
		b.errLock.Unlock()
	}()
}

// Close kills the process and waits for it to exit. Idempotent.
func (b *Background) Close() {
	if b.Cmd.Process != nil {
		_ = b.Cmd.Process.Kill()
	}
	b.wg.Wait()
}

// Done returns a channel that closes when the command exits.
func (b *Background) Done() <-chan struct{} {
	return b.done
}

// Err returns any error that occurred with the process.
func (b *Background) Err() error {
	b.errLock.Lock()
	defer b.errLock.Unlock()
	return b.err
}

// LogWriter returns a writer that forwards output lines to the test log.
func LogWriter(tb testing.TB, prefix string) io.Writer {
	return &lineLogger{tb: tb, prefix: prefix}
}

// lineLogger splits writes into lines and forwards them to the test log.
type lineLogger struct {
	tb     testing.TB
	prefix string
	buf    bytes.Buffer
}

func (w *lineLogger) Write(buf []byte) (int, error) {
	w.buf.Write(buf)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Partial line, keep for the next write.
			w.buf.Write(line)
			break
		}
		w.tb.Log(w.prefix + string(bytes.TrimRight(line, "\n")))
	}
	return len(buf), nil
}
