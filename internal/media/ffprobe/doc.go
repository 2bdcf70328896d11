// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs the binary and decodes streams and format metadata; the
// Result helpers answer the questions the reencode stage asks, chiefly
// which audio codecs a video already carries.
package ffprobe
