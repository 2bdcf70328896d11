// Package preflight provides readiness checks for the filesystem paths and
// external binaries songconvert depends on.
//
// The daemon logs RunAll at startup so a missing demucs or ffmpeg shows up
// before the first job fails; the CLI "status" command renders the same
// results in its dependency and directory tables.
package preflight
