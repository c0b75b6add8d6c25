package bus

import "time"

// Event kinds published by the client data layer. Subscribers match by prefix,
// so "store." receives every store change and "queue." every queue event.
const (
	KindAuthSignedIn        = "auth.signed_in"
	KindAuthSignedOut       = "auth.signed_out"
	KindQueueAdded          = "queue.added"
	KindQueueSynced         = "queue.synced"
	KindQueueDropped        = "queue.dropped"
	KindConnectivityChanged = "connectivity.changed"
)

// StoreChanged returns the event kind published when the named store's state changes.
func StoreChanged(store string) string {
	return "store." + store + ".changed"
}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
