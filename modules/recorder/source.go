package recorder

import (
	"context"
	"io"
)

// Source opens the remote stream. A read returning io.EOF marks the end of
// the stream; any other error is a lost connection. Both are retried.
type Source interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, url string) (io.ReadCloser, error)

func (f SourceFunc) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}
