// Package logging builds the slog loggers used by the daemon and CLI.
//
// New picks a console or JSON handler, and NewFromConfig also writes the
// daemon log file that `sightline logs` reads. The Field constants name the
// keys the console handler lifts into its line header (component, task,
// batch and tab). WarnWithContext and ErrorWithContext make sure every
// warning says what happened, what it affects and what to do next.
package logging
