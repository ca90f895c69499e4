// Package httpstream opens long-lived HTTP streams, such as Icecast and
// Shoutcast audio casts, for raw byte capture.
//
// The stream is never inspected:
//   - No ICY metadata is requested, so the body is the raw cast
//   - Playlist resolution: .pls and .m3u URLs are resolved to the first stream they list
//   - No client timeout on the stream so long-running recording is supported
package httpstream
