package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "net.online", "sync.pushed",
// "download.progress", "message.appended", "prune.completed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
