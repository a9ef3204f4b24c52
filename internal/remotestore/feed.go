package remotestore

import "context"

// ChangeEvent notifies that a row changed on the backend. Events are an
// invalidation signal only: consumers re-fetch the row rather than trusting
// the event for ordering or content.
type ChangeEvent struct {
	Table string `json:"table"`
	Id    string `json:"id"`
	Op    string `json:"op"`
}

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeFeed is a long-lived subscription to backend change events. Run
// blocks until the context is cancelled, reconnecting on transient errors;
// the Events channel is closed when Run returns.
type ChangeFeed interface {
	Events() <-chan ChangeEvent
	Run(ctx context.Context) error
}
