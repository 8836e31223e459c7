// Package hub owns the set of live authenticated client websockets and
// broadcasts normalized provider events to them.
//
// Admission accepts the websocket, then validates the bearer token from the
// ?token= query parameter. Rejections close with a distinct application code:
//
//   - 4001: no token presented
//   - 4003: token failed verification
//
// Both are terminal for the client. Delivery is at-most-once per connection
// per broadcast, with no queue and no replay: a connection that is not live
// at broadcast time never receives that event. Each connection is owned by
// its admitting handler goroutine, which is the only actor that removes it
// from the live set.
package hub
