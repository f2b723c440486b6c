// Package daemon coordinates the long-running Sightline process.
//
// It wires the scheduler, capture coordinator, status publisher, and
// connectivity monitor into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the local HTTP command surface used
// by the browser extension and the CLI.
//
// Keep orchestration logic here: scheduling, capture, and delivery rules live
// in their own packages while the daemon focuses on startup, shutdown, and
// request routing.
package daemon
