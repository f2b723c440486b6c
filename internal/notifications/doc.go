// Package notifications pushes analysis and connectivity milestones to ntfy.
//
// NewService returns an ntfy-backed Service when notifications.ntfy_topic is
// set and a no-op otherwise. Watcher observes the scheduler and the remote
// client and publishes batch completions, exhausted tasks, and (optionally)
// backend connectivity transitions without blocking either of them.
package notifications
