// Package preflight checks the filesystem and remote services the daemon
// depends on.
//
// These checks run in two contexts:
//   - daemonrun.Run calls RunAll before building the runtime. A failed
//     required check (an unusable data or log directory) aborts startup;
//     backend and credential problems are only logged because the daemon
//     queues work while offline.
//   - The CLI "sightline doctor" command renders every result as a table.
package preflight
