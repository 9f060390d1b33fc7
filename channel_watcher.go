package reflux

import "context"

// ChannelWatcher adapts a channel of documents to a Watcher. Hosts that
// already receive store documents elsewhere, and tests, use it.
type ChannelWatcher struct {
	src    <-chan []byte
	direct bool
}

// NewChannelWatcher relays documents from src through a goroutine that
// stops when the Watch context ends.
func NewChannelWatcher(src <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{src: src}
}

// NewSyncChannelWatcher hands src to the consumer unchanged. Pair it with
// Persistence.SyncMode for deterministic tests.
func NewSyncChannelWatcher(src <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{src: src, direct: true}
}

// Watch implements Watcher.
func (w *ChannelWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	if w.direct {
		return w.src, nil
	}
	out := make(chan []byte)
	go relay(ctx, w.src, out)
	return out, nil
}

// relay copies documents from src to out until either side is done.
func relay(ctx context.Context, src <-chan []byte, out chan<- []byte) {
	defer close(out)
	for {
		var doc []byte
		var ok bool
		select {
		case <-ctx.Done():
			return
		case doc, ok = <-src:
			if !ok {
				return
			}
		}
		select {
		case out <- doc:
		case <-ctx.Done():
			return
		}
	}
}
