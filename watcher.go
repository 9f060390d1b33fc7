package reflux

import "context"

// Watcher observes an external store source and emits its full document
// whenever it changes. Persistence.Sync consumes it to hot-reload records
// edited outside the process.
type Watcher interface {
	// Watch begins observing the source and returns a channel of raw
	// documents. The current document, if any, is emitted first. The
	// channel is closed when ctx is canceled or the source fails for good.
	Watch(ctx context.Context) (<-chan []byte, error)
}
