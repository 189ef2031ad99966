package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// maxFIFOLine bounds one line written into the FIFO. Longer lines end the
// current writer's stream with bufio.ErrTooLong.
const maxFIFOLine = 4 << 20

// fifoReader drains a named pipe into a logger, one record per line.
type fifoReader struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
	done   chan struct{}
}

func startFIFO(path string, log *slog.Logger) (*fifoReader, error) {
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}

	r := &fifoReader{path: path, log: log, done: make(chan struct{})}
	go r.run()
	return r, nil
}

func (r *fifoReader) run() {
	defer close(r.done)

	for {
		// Opening the read side blocks until a writer shows up; close()
		// unblocks it by opening the write side itself.
		f, err := os.OpenFile(r.path, os.O_RDONLY, 0)
		if err != nil {
			r.log.Error("failed to open FIFO", "error", err)
			return
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			f.Close()
			return
		}
		r.file = f
		r.mu.Unlock()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFIFOLine)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				r.log.Info(line)
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
			r.log.Error("failed to read from FIFO", "error", err)
		}
		f.Close()

		r.mu.Lock()
		r.file = nil
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		// All writers went away (EOF); wait for the next one.
	}
}

func (r *fifoReader) close() error {
	r.mu.Lock()
	r.closed = true
	if r.file != nil {
		// Unblocks a pending read even while outside writers keep the pipe open.
		r.file.Close()
	}
	r.mu.Unlock()

	// Wake a reader blocked in open. The non-blocking open fails until the
	// reader has reached open, so retry until it exits.
	for {
		if w, err := os.OpenFile(r.path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			w.Close()
		}
		select {
		case <-r.done:
		case <-time.After(10 * time.Millisecond):
			continue
		}
		break
	}

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove FIFO: %w", err)
	}
	return nil
}
