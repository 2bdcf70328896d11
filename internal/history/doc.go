// Package history keeps a SQLite journal of submitted jobs and their terminal
// outcomes.
//
// The journal is an audit trail for the `history` and `status` commands, not a
// work queue: the daemon never resumes jobs from it. Rows left in the queued
// state by a daemon that died are marked abandoned on the next start.
package history
