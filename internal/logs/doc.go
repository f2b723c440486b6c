// Package logs reads the daemon log file for `sightline logs`.
//
// Tail returns the last lines of a file (negative offset) or everything after
// a byte offset, optionally filtered. Follow polls for appended lines until the
// context ends, and resets to the start of the file when it is truncated or
// rotated.
package logs
