// Package daemon implements the control listener of the songconvert daemon.
//
// The listener owns the TCP control endpoint and a flock guarding it so only
// one daemon serves a port. Connections are handled one at a time: a single
// bounded read decodes a submission, STOP, or STATUS. Submissions become work
// items whose connection stays open until the pipeline writes the terminal
// token; STOP acknowledges, closes the endpoint, and starts the pipeline drain.
package daemon
