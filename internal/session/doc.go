// Package session maintains a client's live connection to the gateway.
//
// The connection lifecycle is a finite-state machine advanced by one run-loop
// goroutine: Disconnected -> Connecting -> Connected, with transient failures
// entering Backoff (delay min(base*2^i, max), reset on success, no retry
// ceiling) and credential rejections entering Terminal, after which no
// reconnect is ever attempted. Because the loop is the only actor, at most
// one reconnect wait and one connection attempt exist at any time, and a
// completed connect trivially invalidates any earlier schedule.
package session
