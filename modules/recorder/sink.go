package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrSinkOpen means the output file could not be opened.
	ErrSinkOpen = errors.New("unable to open output file")

	// ErrShortWrite means the output file accepted fewer bytes than were read
	// from the stream. It points at a failing or full filesystem.
	ErrShortWrite = errors.New("short write to output file")
)

const outputFileMode = 0o644

// Sink receives the recorded bytes.
type Sink interface {
	// Write appends p in full or reports an error.
	Write(p []byte) (int, error)
	Close() error
}

type syncWriteCloser interface {
	io.WriteCloser
	Sync() error
}

type openFunc func(path string) (syncWriteCloser, error)

func openAppend(path string) (syncWriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, outputFileMode)
}

// FileSink appends to a file that is opened on the first write, so a source
// that never delivers leaves no empty file behind.
type FileSink struct {
	path string
	open openFunc

	f       syncWriteCloser
	written int64
	closed  bool
}

// NewFileSink returns a sink for path. Nothing is touched on disk until the
// first Write.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		path: path,
		open: openAppend,
	}
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.f == nil {
		f, err := s.open(s.path)
		if err != nil {
			return 0, fmt.Errorf("%w %s: %w", ErrSinkOpen, s.path, err)
		}
		s.f = f
	}

	n, err := s.f.Write(p)
	s.written += int64(n)
	if n != len(p) {
		if err == nil {
			err = io.ErrShortWrite
		}
		return n, fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrShortWrite, n, len(p), err)
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.path, err)
	}

	return n, nil
}

// Close flushes and closes the output file. Calling it again is a no-op.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.f == nil {
		return nil
	}

	var errs []error
	if err := s.f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync %s: %w", s.path, err))
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.path, err))
	}

	return errors.Join(errs...)
}
