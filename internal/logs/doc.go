// Package logs reads the daemon's run log for `songconvert logs`: the last N
// lines, then optionally new lines as they are appended.
package logs
