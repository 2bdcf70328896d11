// Package transcode implements the reencode stage.
//
// The stage probes the song's video with ffprobe and, unless an audio stream
// already uses the target codec, muxes the video with the song's primary
// audio through ffmpeg into a temporary MP4 beside it. The original video is
// removed only after ffmpeg succeeds; the result takes the original's stem
// with an .mp4 extension and the #VIDEO tag follows a changed name.
package transcode
