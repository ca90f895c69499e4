package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type shortFile struct {
	data   []byte
	closed bool
}

func (f *shortFile) Write(p []byte) (int, error) {
	n := len(p) / 2
	f.data = append(f.data, p[:n]...)
	return n, nil
}

func (f *shortFile) Sync() error { return nil }

func (f *shortFile) Close() error {
	f.closed = true
	return nil
}

func TestFileSinkLazyOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp3")
	s := NewFileSink(path)

	require.Nil(t, s.f)
	require.NoFileExists(t, path)

	n, err := s.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoFileExists(t, path)

	require.NoError(t, s.Close())
	require.NoFileExists(t, path)
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp3")
	require.NoError(t, os.WriteFile(path, []byte("earlier|"), 0o600))

	s := NewFileSink(path)
	n, err := s.Write([]byte("one|"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NotNil(t, s.f)

	_, err = s.Write([]byte("two"))
	require.NoError(t, err)
	require.Equal(t, int64(7), s.written)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "earlier|one|two", string(b))
}

func TestFileSinkCloseTwice(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "out.mp3"))
	_, err := s.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Write([]byte("y"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestFileSinkOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.mp3")
	s := NewFileSink(path)

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrSinkOpen)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Nil(t, s.f)
}

func TestFileSinkShortWrite(t *testing.T) {
	f := &shortFile{}
	s := NewFileSink("short")
	s.open = func(string) (syncWriteCloser, error) { return f, nil }

	n, err := s.Write([]byte("abcd"))
	require.ErrorIs(t, err, ErrShortWrite)
	require.Equal(t, 2, n)
	require.Equal(t, "ab", string(f.data))
	require.False(t, errors.Is(err, ErrSinkOpen))

	require.NoError(t, s.Close())
	require.True(t, f.closed)
}
