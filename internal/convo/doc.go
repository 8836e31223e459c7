// Package convo is the client-side conversation store.
//
// Conversations are keyed by counterpart id (the stable external identifier,
// e.g. a phone number) and hold an insertion-ordered message history plus an
// unread count. Sends are optimistic: the message is appended as pending
// before the outbound call, then settled to sent (binding the provider id)
// or failed. Inbound events and delivery-status updates are reconciled
// against the same records; a status update that matches no bound id is
// dropped silently, which is expected after a gap while disconnected.
//
// Persistence is best-effort and advisory. A missing or unreadable snapshot
// initializes the store empty, and a failed save is only logged; the
// in-memory state stays authoritative for the session.
package convo
