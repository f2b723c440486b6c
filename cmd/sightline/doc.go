// Command sightline is the command-line client for the Sightline daemon.
//
// It queues URLs for analysis, inspects tasks and batches, triggers captures,
// and reports connectivity and offline queue state through the daemon's local
// HTTP API. `sightline daemon` runs the daemon in the foreground.
package main
