package httpstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenSendsHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c := NewClient(Options{UserAgent: "streamget-test/1"})
	rc, err := c.Open(context.Background(), srv.URL+"/live")
	require.NoError(t, err)

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "audio", string(b))

	h := <-headers
	require.Equal(t, "streamget-test/1", h.Get("User-Agent"))
	require.Equal(t, "*/*", h.Get("Accept"))

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
}

func TestOpenUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(DefaultOptions()).Open(context.Background(), srv.URL+"/live")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "404")
}

func TestOpenConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(DefaultOptions()).Open(context.Background(), url)
	require.Error(t, err)
}

func TestOpenResolvesPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/radio/listen.pls", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/x-scpls")
		fmt.Fprint(w, "[playlist]\nNumberOfEntries=1\nFile1=stream.mp3\nTitle1=Live\n")
	})
	mux.HandleFunc("/radio/listen.m3u", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:-1,Live\n/radio/stream.mp3\n")
	})
	mux.HandleFunc("/radio/stream.mp3", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("from-stream"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(DefaultOptions())
	for _, p := range []string{"/radio/listen.pls", "/radio/listen.m3u"} {
		t.Run(p, func(t *testing.T) {
			rc, err := c.Open(context.Background(), srv.URL+p)
			require.NoError(t, err)
			defer rc.Close()

			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.Equal(t, "from-stream", string(b))
		})
	}
}

func TestOpenPlaylistNotResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		fmt.Fprint(w, "http://elsewhere.test/stream\n")
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.ResolvePlaylist = false

	rc, err := NewClient(opts).Open(context.Background(), srv.URL+"/listen.m3u")
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "http://elsewhere.test/stream\n", string(b))
}

func TestOpenEmptyPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n\n")
	}))
	defer srv.Close()

	_, err := NewClient(DefaultOptions()).Open(context.Background(), srv.URL+"/listen.m3u")
	require.ErrorIs(t, err, errNoStreamURL)
}

func TestCloseUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	rc, err := NewClient(DefaultOptions()).Open(context.Background(), srv.URL+"/live")
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	done := make(chan error, 1)
	go func() {
		_, err := rc.Read(buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, rc.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read was not unblocked by close")
	}

	require.NoError(t, rc.Close())
}

func TestOpenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(DefaultOptions()).Open(ctx, "http://127.0.0.1:1/live")
	require.ErrorIs(t, err, context.Canceled)
}
