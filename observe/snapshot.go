package observe

import "fmt"

// Snapshot is the complete result set of a query at one point in time.
// It is never a delta.
//
// Seq increases with every published Snapshot of a Subscription, so a
// consumer can tell when intermediate snapshots were coalesced.
// If the query failed, Records is empty and Err is set.
type Snapshot[E any] struct {
	Seq     uint64
	Records []E
	Err     error
}

// State is the lifecycle state of a Subscription.
type State int32

const (
	Created State = iota
	Subscribed
	Notified
	Refetched
	Published
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Subscribed:
		return "subscribed"
	case Notified:
		return "notified"
	case Refetched:
		return "refetched"
	case Published:
		return "published"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
