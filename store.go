package nostrkit

import "context"

// Store is a pluggable backend for persisted event caching. The engine
// treats it as an external collaborator: events that arrive verified may be
// saved, and one-shot queries may be answered from it.
//
// Implementations must be safe for concurrent use. See the badgerstore and
// sqlitestore subpackages.
type Store interface {
	// SaveEvent persists an event. Saving an already-stored event must
	// not fail.
	SaveEvent(ctx context.Context, evt *Event) error

	// QueryEvents returns stored events matching the filter,
	// most recent first, honoring filter.Limit when it is set.
	QueryEvents(ctx context.Context, filter Filter) ([]*Event, error)

	// Close releases the backend.
	Close() error
}
