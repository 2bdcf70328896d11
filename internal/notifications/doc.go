// Package notifications delivers job outcome events via ntfy.
//
// The ntfy implementation posts to the topic URL configured under
// [notifications] and degrades to a no-op when no topic is set, so callers
// can notify unconditionally.
package notifications
