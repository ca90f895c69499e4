package httpstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// maxPlaylistSize bounds how much of a playlist response is read.
const maxPlaylistSize = 64 * 1024

var errNoStreamURL = errors.New("no stream URL found in playlist")

// isPlaylist reports whether a response is a playlist rather than a stream,
// judged by content type and then by URL suffix.
func isPlaylist(rawURL, contentType string) bool {
	switch mediaType(contentType) {
	case "audio/x-scpls", "application/pls+xml",
		"audio/mpegurl", "audio/x-mpegurl", "application/x-mpegurl", "application/vnd.apple.mpegurl":
		return true
	}

	switch playlistExt(rawURL) {
	case ".pls", ".m3u", ".m3u8":
		return true
	}

	return false
}

// resolvePlaylist reads a playlist body and returns the first stream URL,
// resolved against the playlist URL. The body is closed.
func resolvePlaylist(rawURL string, resp *http.Response) (string, error) {
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxPlaylistSize)

	var (
		entry string
		err   error
	)
	if isPLS(rawURL, resp.Header.Get("Content-Type")) {
		entry, err = parsePLS(body)
	} else {
		entry, err = parseM3U(body)
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse playlist %s: %w", rawURL, err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse playlist URL: %w", err)
	}
	ref, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("failed to parse stream URL %q: %w", entry, err)
	}

	return base.ResolveReference(ref).String(), nil
}

func isPLS(rawURL, contentType string) bool {
	switch mediaType(contentType) {
	case "audio/x-scpls", "application/pls+xml":
		return true
	}
	return playlistExt(rawURL) == ".pls"
}

// parsePLS parses a PLS playlist file and returns the first stream URL
func parsePLS(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "file") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", errNoStreamURL
}

// parseM3U parses an M3U playlist file and returns the first stream URL
func parseM3U(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", errNoStreamURL
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func playlistExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
