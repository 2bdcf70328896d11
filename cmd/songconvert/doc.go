// Package main hosts the songconvert CLI entrypoint and command graph.
//
// `submit` hands song folders to the daemon, launching it in the background
// when nothing answers on the control port, and streams each stage's progress
// until the daemon replies OK or ERROR. The remaining commands inspect or stop
// a running daemon, read the job journal, and scaffold configuration. The
// hidden `daemon` command is what the launcher executes.
package main
