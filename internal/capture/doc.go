// Package capture decides when a page visit becomes a capture and submits it.
//
// The Coordinator tracks browser tabs reported by the extension, applies the
// auto-capture policy (domain filter plus dwell time) to page-load events, and
// keeps at most one capture in flight per tab. Finished submissions are
// recorded in a bounded history used for display.
package capture
