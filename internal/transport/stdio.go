package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Stdio is a newline-delimited JSON transport over an already-open pair of
// pipes (typically a child process's stdin/stdout, owned and spawned by
// the Supervisor). It does not itself spawn anything: Open merely wires up
// the read loop.
type Stdio struct {
	writer io.WriteCloser
	reader io.Reader

	mu       sync.Mutex
	scanner  *bufio.Scanner
	lines    chan []byte
	readErrs chan error
	closed   bool
	closeCh  chan struct{}
}

// NewStdio wraps writer/reader as a Transport. writer is typically a
// subprocess's stdin, reader its stdout.
func NewStdio(writer io.WriteCloser, reader io.Reader) *Stdio {
	return &Stdio{
		writer:  writer,
		reader:  reader,
		lines:   make(chan []byte, 16),
		readErrs: make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

// Open starts the background read loop. The pipes are assumed to already
// be connected; Open never fails for stdio.
func (s *Stdio) Open(ctx context.Context) error {
	s.scanner = bufio.NewScanner(s.reader)
	s.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	go s.readLoop()
	return nil
}

func (s *Stdio) readLoop() {
	for s.scanner.Scan() {
		line := append([]byte(nil), s.scanner.Bytes()...)
		select {
		case s.lines <- line:
		case <-s.closeCh:
			return
		}
	}
	err := s.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.readErrs <- err:
	default:
	}
}

// Send writes one newline-terminated JSON message.
func (s *Stdio) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if idxContainsNewline(msg) {
		return fmt.Errorf("transport: message must not contain embedded newlines")
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.writer.Write(append(append([]byte(nil), msg...), '\n'))
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func idxContainsNewline(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			return true
		}
	}
	return false
}

// Receive blocks for the next line.
func (s *Stdio) Receive(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return nil, ErrClosed
		}
		return line, nil
	case err := <-s.readErrs:
		return nil, fmt.Errorf("transport: read failed: %w", err)
	case <-s.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close is idempotent.
func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return s.writer.Close()
}
