// Package daemonrun hosts the songconvert daemon process: it builds the
// logger, job journal, notifier, and two-stage pipeline, binds the control
// listener, and on STOP or SIGINT/SIGTERM drains every accepted job before
// returning.
package daemonrun
