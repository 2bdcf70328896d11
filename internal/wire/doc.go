// Package wire implements the control-channel protocol spoken between the
// songconvert CLI and the daemon.
//
// A client sends one request: a song folder path or a control command (STOP,
// STATUS). The daemon answers with newline-terminated messages: any number of
// informational lines followed by exactly one terminal token, OK or ERROR.
// Reply serialises writes for a single request so pipeline workers can report
// progress on the submitter's connection without interleaving.
package wire
