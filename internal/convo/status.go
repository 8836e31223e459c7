// ABOUTME: Message status state machine for sent messages.
// ABOUTME: pending -> sent|failed on the send path; delivery statuses arrive from the provider.

package convo

// Status is the delivery state of a sent message. Received messages carry no
// status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status value. Unknown values in a
// status_update are treated as malformed and dropped.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// transitions is the designed state machine. failed and read are terminal.
// The send settle path consults this table; provider status updates are
// applied last-write-wins without it, since delivery-event ordering is not
// guaranteed upstream and a read arriving before delivered is accepted as
// given.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether the designed state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
